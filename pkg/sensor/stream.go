// Package sensor defines the logical sensor streams exposed by the hub and
// the masks that group them by physical sensor or fusion engine.
package sensor

import (
	"fmt"
	"math/bits"
	"strings"
)

// Stream identifies one logical sensor stream. Its value is the bit index
// in a Mask.
type Stream uint8

const (
	Accelerometer Stream = iota
	Gyroscope
	GyroscopeUncalibrated
	MagneticField
	MagneticFieldUncalibrated
	Pressure
	Orientation
	Gravity
	LinearAcceleration
	RotationVector
	GameRotationVector
	GeomagneticRotationVector
	StepCounter
	StepDetector
	SignificantMotion
	Pickup
	Twist
	Shake
	MotionDetect
	MotionStill
	VehicleDetect
	GDetect

	// NumStreams is the number of defined streams.
	NumStreams
)

var streamNames = [NumStreams]string{
	Accelerometer:             "accelerometer",
	Gyroscope:                 "gyroscope",
	GyroscopeUncalibrated:     "gyroscope_uncalibrated",
	MagneticField:             "magnetic_field",
	MagneticFieldUncalibrated: "magnetic_field_uncalibrated",
	Pressure:                  "pressure",
	Orientation:               "orientation",
	Gravity:                   "gravity",
	LinearAcceleration:        "linear_acceleration",
	RotationVector:            "rotation_vector",
	GameRotationVector:        "game_rotation_vector",
	GeomagneticRotationVector: "geomagnetic_rotation_vector",
	StepCounter:               "step_counter",
	StepDetector:              "step_detector",
	SignificantMotion:         "significant_motion",
	Pickup:                    "pickup",
	Twist:                     "twist",
	Shake:                     "shake",
	MotionDetect:              "motion_detect",
	MotionStill:               "motion_still",
	VehicleDetect:             "vehicle_detect",
	GDetect:                   "g_detect",
}

// String returns the stream name used in configuration and logs.
func (s Stream) String() string {
	if s < NumStreams {
		return streamNames[s]
	}
	return fmt.Sprintf("stream(%d)", uint8(s))
}

// Valid reports whether s is a defined stream.
func (s Stream) Valid() bool {
	return s < NumStreams
}

// Bit returns the single-stream mask for s.
func (s Stream) Bit() Mask {
	return Mask(1) << s
}

// ParseStream looks a stream up by name (case-insensitive).
func ParseStream(name string) (Stream, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range streamNames {
		if n == name {
			return Stream(i), nil
		}
	}
	return 0, fmt.Errorf("sensor: unknown stream %q", name)
}

// Mask is a set of streams.
type Mask uint32

// Convenience masks. Streams sharing a physical sensor or a fusion engine
// are grouped so the arbiter and the activation machine can test them in
// one operation.
const (
	AccelGroup = Mask(1) << Accelerometer
	GyroGroup  = Mask(1)<<Gyroscope | Mask(1)<<GyroscopeUncalibrated
	MagGroup   = Mask(1)<<MagneticField | Mask(1)<<MagneticFieldUncalibrated
	BaroGroup  = Mask(1) << Pressure

	// NineAxisGroup needs accelerometer, gyroscope and magnetometer.
	NineAxisGroup = Mask(1)<<Orientation | Mask(1)<<RotationVector
	// AccMagGroup needs accelerometer and magnetometer.
	AccMagGroup = Mask(1) << GeomagneticRotationVector
	// AccGyroGroup needs accelerometer and gyroscope.
	AccGyroGroup = Mask(1)<<Gravity | Mask(1)<<LinearAcceleration | Mask(1)<<GameRotationVector

	FusionGroup = NineAxisGroup | AccMagGroup | AccGyroGroup

	PedometerGroup = Mask(1)<<StepCounter | Mask(1)<<StepDetector
	GestureGroup   = Mask(1)<<Pickup | Mask(1)<<Twist | Mask(1)<<Shake
	MotionGroup    = Mask(1)<<SignificantMotion | Mask(1)<<MotionDetect |
		Mask(1)<<MotionStill | Mask(1)<<VehicleDetect | Mask(1)<<GDetect

	// AppGroup rides on the accelerometer stream inside the MCU app task.
	AppGroup = PedometerGroup | GestureGroup | MotionGroup

	// AlwaysOnGroup streams need continuous measurement and forbid deep sleep.
	AlwaysOnGroup = AccelGroup | GyroGroup | MagGroup | NineAxisGroup | Mask(1)<<MotionStill

	// LoggedGroup streams reach the host only through the MCU log, live
	// or batched. Pressure and pedometer streams are reported by their
	// domain interrupt when live.
	LoggedGroup = AccelGroup | GyroGroup | MagGroup | FusionGroup

	AllStreams = Mask(1)<<NumStreams - 1
)

// Has reports whether s is in m.
func (m Mask) Has(s Stream) bool {
	return m&s.Bit() != 0
}

// Any reports whether m and other share a stream.
func (m Mask) Any(other Mask) bool {
	return m&other != 0
}

// With returns m with s added.
func (m Mask) With(s Stream) Mask {
	return m | s.Bit()
}

// Without returns m with s removed.
func (m Mask) Without(s Stream) Mask {
	return m &^ s.Bit()
}

// Count returns the number of streams in m.
func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Streams lists the streams in m in ascending order.
func (m Mask) Streams() []Stream {
	out := make([]Stream, 0, m.Count())
	for s := Stream(0); s < NumStreams; s++ {
		if m.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// String formats m as a list of stream names.
func (m Mask) String() string {
	if m == 0 {
		return "[]"
	}
	names := make([]string, 0, m.Count())
	for _, s := range m.Streams() {
		names = append(names, s.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}
