package protocol

import (
	"encoding/binary"
	"fmt"
)

// RecordTag is the first byte of every batch log record.
type RecordTag uint8

const (
	RecAcc              RecordTag = 0x01
	RecMag              RecordTag = 0x02
	RecGyro             RecordTag = 0x03
	RecMagCal           RecordTag = 0x04
	RecGyroCal          RecordTag = 0x05
	RecOrientation      RecordTag = 0x06
	RecGravity          RecordTag = 0x07
	RecLinearAcc        RecordTag = 0x08
	RecRotationVector   RecordTag = 0x09
	RecGameRotation     RecordTag = 0x0A
	RecGeoRotation      RecordTag = 0x0B
	RecStepCount        RecordTag = 0x0C
	RecStepDetect       RecordTag = 0x0D
	RecTotalStatusShort RecordTag = 0x0E
	RecTotalStatusLong  RecordTag = 0x0F
	RecPressure         RecordTag = 0x10
)

// Payload sizes in bytes, tag excluded. Sample records start with the
// 1-byte offset counter.
var recordSizes = map[RecordTag]int{
	RecAcc:              7,  // offset, x, y, z int16
	RecMag:              8,  // offset, x, y, z int16, accuracy
	RecGyro:             7,  // offset, x, y, z int16
	RecMagCal:           6,  // bias x, y, z int16
	RecGyroCal:          6,  // bias x, y, z int16
	RecOrientation:      8,  // offset, azimuth, pitch, roll int16, accuracy
	RecGravity:          7,  // offset, x, y, z int16
	RecLinearAcc:        7,  // offset, x, y, z int16
	RecRotationVector:   10, // offset, x, y, z, w int16, accuracy
	RecGameRotation:     9,  // offset, x, y, z, w int16
	RecGeoRotation:      10, // offset, x, y, z, w int16, accuracy
	RecStepCount:        5,  // offset, total steps uint32
	RecStepDetect:       3,  // offset, steps uint16
	RecTotalStatusShort: 4,  // status flags uint32
	RecTotalStatusLong:  12, // status flags, dropped samples, log usage uint32
	RecPressure:         5,  // offset, pressure uint32
}

var recordNames = map[RecordTag]string{
	RecAcc:              "acc",
	RecMag:              "mag",
	RecGyro:             "gyro",
	RecMagCal:           "mag_cal",
	RecGyroCal:          "gyro_cal",
	RecOrientation:      "orientation",
	RecGravity:          "gravity",
	RecLinearAcc:        "linacc",
	RecRotationVector:   "rv",
	RecGameRotation:     "game_rv",
	RecGeoRotation:      "geo_rv",
	RecStepCount:        "step_count",
	RecStepDetect:       "step_detect",
	RecTotalStatusShort: "status_short",
	RecTotalStatusLong:  "status_long",
	RecPressure:         "pressure",
}

func (t RecordTag) String() string {
	if n, ok := recordNames[t]; ok {
		return n
	}
	return fmt.Sprintf("tag(0x%02x)", uint8(t))
}

// PayloadSize returns the payload length of a known tag.
func (t RecordTag) PayloadSize() (int, bool) {
	n, ok := recordSizes[t]
	return n, ok
}

// AppendRecord appends one encoded record to dst. It panics when the
// payload length does not match the tag.
func AppendRecord(dst []byte, tag RecordTag, payload []byte) []byte {
	if n, ok := recordSizes[tag]; !ok || n != len(payload) {
		panic(fmt.Sprintf("protocol: bad %s record payload length %d", tag, len(payload)))
	}
	dst = append(dst, byte(tag))
	return append(dst, payload...)
}

// Delimiter header layout: total log payload size, then one task-cycle
// delta per timestamp family.
const (
	DelimiterDeltaCount = 11
	DelimiterHeaderSize = 2 + 4*DelimiterDeltaCount
)

// DelimiterHeader is the start of the LOGGING_DELIMITER result.
type DelimiterHeader struct {
	Total  uint16
	Deltas [DelimiterDeltaCount]uint32
}

// Encode returns the wire form of h.
func (h DelimiterHeader) Encode() []byte {
	b := make([]byte, DelimiterHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], h.Total)
	for i, d := range h.Deltas {
		binary.LittleEndian.PutUint32(b[2+4*i:], d)
	}
	return b
}

// DecodeDelimiterHeader parses the header at the start of b.
func DecodeDelimiterHeader(b []byte) (DelimiterHeader, error) {
	var h DelimiterHeader
	if len(b) < DelimiterHeaderSize {
		return h, fmt.Errorf("protocol: delimiter header needs %d bytes, got %d", DelimiterHeaderSize, len(b))
	}
	h.Total = binary.LittleEndian.Uint16(b[0:2])
	for i := range h.Deltas {
		h.Deltas[i] = binary.LittleEndian.Uint32(b[2+4*i:])
	}
	return h, nil
}
