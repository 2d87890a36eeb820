package logreplay

import (
	"encoding/binary"
	"fmt"

	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

// record is one validated log record. payload aliases the transfer buffer.
type record struct {
	tag     protocol.RecordTag
	offset  int
	payload []byte
}

// parseRecords splits buf into records. Nothing is returned unless the
// whole buffer is well formed.
func parseRecords(buf []byte) ([]record, error) {
	var recs []record
	for i := 0; i < len(buf); {
		tag := protocol.RecordTag(buf[i])
		n, ok := tag.PayloadSize()
		if !ok {
			return nil, huberrors.BadRecordError(i, fmt.Sprintf("unknown tag 0x%02x", uint8(tag)))
		}
		if i+1+n > len(buf) {
			return nil, huberrors.BadRecordError(i, fmt.Sprintf("%s record needs %d bytes, %d left", tag, n, len(buf)-i-1))
		}
		recs = append(recs, record{tag: tag, offset: i, payload: buf[i+1 : i+1+n]})
		i += 1 + n
	}
	return recs, nil
}

// recordFamily returns the timestamp family of a sample record, or
// sensor.NoFamily for calibration and status records.
func recordFamily(tag protocol.RecordTag) sensor.Family {
	switch tag {
	case protocol.RecAcc:
		return sensor.FamilyAcc
	case protocol.RecMag:
		return sensor.FamilyMag
	case protocol.RecGyro:
		return sensor.FamilyGyro
	case protocol.RecOrientation:
		return sensor.FamilyOrientation
	case protocol.RecGravity:
		return sensor.FamilyGravity
	case protocol.RecLinearAcc:
		return sensor.FamilyLinearAcc
	case protocol.RecRotationVector:
		return sensor.FamilyRotationVector
	case protocol.RecGameRotation:
		return sensor.FamilyGameRotationVector
	case protocol.RecGeoRotation:
		return sensor.FamilyGeoRotationVector
	case protocol.RecStepCount, protocol.RecStepDetect:
		return sensor.FamilyPedometer
	case protocol.RecPressure:
		return sensor.FamilyPressure
	}
	return sensor.NoFamily
}

func i16s(b []byte, n int) []int32 {
	v := make([]int32, n)
	for i := range v {
		v[i] = int32(int16(binary.LittleEndian.Uint16(b[2*i:])))
	}
	return v
}

// sample decodes the values of a sample record, offset byte excluded.
func sample(r record) (sensor.Stream, []int32) {
	p := r.payload[1:]
	switch r.tag {
	case protocol.RecAcc:
		return sensor.Accelerometer, i16s(p, 3)
	case protocol.RecMag:
		return sensor.MagneticField, append(i16s(p, 3), int32(p[6]))
	case protocol.RecGyro:
		return sensor.Gyroscope, i16s(p, 3)
	case protocol.RecOrientation:
		return sensor.Orientation, append(i16s(p, 3), int32(p[6]))
	case protocol.RecGravity:
		return sensor.Gravity, i16s(p, 3)
	case protocol.RecLinearAcc:
		return sensor.LinearAcceleration, i16s(p, 3)
	case protocol.RecRotationVector:
		return sensor.RotationVector, append(i16s(p, 4), int32(p[8]))
	case protocol.RecGameRotation:
		return sensor.GameRotationVector, i16s(p, 4)
	case protocol.RecGeoRotation:
		return sensor.GeomagneticRotationVector, append(i16s(p, 4), int32(p[8]))
	case protocol.RecStepCount:
		return sensor.StepCounter, []int32{int32(binary.LittleEndian.Uint32(p))}
	case protocol.RecStepDetect:
		return sensor.StepDetector, []int32{int32(binary.LittleEndian.Uint16(p))}
	case protocol.RecPressure:
		return sensor.Pressure, []int32{int32(binary.LittleEndian.Uint32(p))}
	}
	return sensor.NumStreams, nil
}

// uncalibrated returns the uncalibrated companion of a calibrated sample:
// the bias is added back and appended.
func uncalibrated(values []int32, bias [3]int16) []int32 {
	out := make([]int32, 0, 6)
	for i := 0; i < 3; i++ {
		out = append(out, values[i]+int32(bias[i]))
	}
	for _, b := range bias {
		out = append(out, int32(b))
	}
	return out
}

func bias(p []byte) [3]int16 {
	var b [3]int16
	for i := range b {
		b[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
	return b
}
