package protocol

import "encoding/binary"

// Accelerometer domain event flags, byte 0 of its interrupt detail.
const (
	AccEvtSignificantMotion uint8 = 1 << iota
	AccEvtMotionDetect
	AccEvtMotionStill
	AccEvtVehicleDetect
	AccEvtGDetect
)

// Custom domain event flags, byte 0 of its interrupt detail.
const (
	CustomEvtStepCount uint8 = 1 << iota
	CustomEvtStepDetect
	CustomEvtPickup
	CustomEvtTwist
	CustomEvtShake
)

// CustomDetail is the custom domain interrupt detail.
type CustomDetail struct {
	Flags    uint8
	Steps    uint32 // total steps, valid with CustomEvtStepCount
	Detected uint16 // new steps, valid with CustomEvtStepDetect
}

func (d CustomDetail) Encode() []byte {
	b := make([]byte, 7)
	b[0] = d.Flags
	binary.LittleEndian.PutUint32(b[1:5], d.Steps)
	binary.LittleEndian.PutUint16(b[5:7], d.Detected)
	return b
}

func DecodeCustomDetail(b []byte) CustomDetail {
	var d CustomDetail
	if len(b) < 7 {
		return d
	}
	d.Flags = b[0]
	d.Steps = binary.LittleEndian.Uint32(b[1:5])
	d.Detected = binary.LittleEndian.Uint16(b[5:7])
	return d
}

// CalibDetail is the mag and gyro domain detail, also returned by
// GET_CALIB_OFFSETS.
type CalibDetail struct {
	Accuracy uint8
	Bias     [3]int16
}

func (d CalibDetail) Encode() []byte {
	b := make([]byte, 7)
	b[0] = d.Accuracy
	for i, v := range d.Bias {
		binary.LittleEndian.PutUint16(b[1+2*i:], uint16(v))
	}
	return b
}

func DecodeCalibDetail(b []byte) CalibDetail {
	var d CalibDetail
	if len(b) < 7 {
		return d
	}
	d.Accuracy = b[0]
	for i := range d.Bias {
		d.Bias[i] = int16(binary.LittleEndian.Uint16(b[1+2*i:]))
	}
	return d
}

// EncodePressure returns the baro domain detail for a pressure sample in
// units of 1/100 Pa.
func EncodePressure(p uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, p)
	return b
}

// DecodePressure parses the baro domain detail.
func DecodePressure(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
