package sensor

// Family is a timestamp and batching family. Streams derived from the same
// physical signal (calibrated and uncalibrated gyroscope, for example) share
// one family and therefore one base timestamp.
type Family uint8

const (
	FamilyAcc Family = iota
	FamilyMag
	FamilyGyro
	FamilyOrientation
	FamilyGravity
	FamilyLinearAcc
	FamilyRotationVector
	FamilyGameRotationVector
	FamilyGeoRotationVector
	FamilyPedometer
	FamilyPressure

	NumFamilies
)

// NoFamily is returned for streams that are never batched.
const NoFamily Family = 0xff

var familyNames = [NumFamilies]string{
	"acc", "mag", "gyro", "orientation", "gravity", "linacc",
	"rv", "game_rv", "geo_rv", "pedometer", "pressure",
}

func (f Family) String() string {
	if f < NumFamilies {
		return familyNames[f]
	}
	return "none"
}

// FamilyMask is a set of families.
type FamilyMask uint16

// AllFamilies contains every family.
const AllFamilies = FamilyMask(1)<<NumFamilies - 1

// Bit returns the single-family mask for f.
func (f Family) Bit() FamilyMask {
	if f >= NumFamilies {
		return 0
	}
	return FamilyMask(1) << f
}

// Has reports whether f is in m.
func (m FamilyMask) Has(f Family) bool {
	return m&f.Bit() != 0
}

// FamilyOf returns the family a stream belongs to, or NoFamily.
func FamilyOf(s Stream) Family {
	switch s {
	case Accelerometer:
		return FamilyAcc
	case MagneticField, MagneticFieldUncalibrated:
		return FamilyMag
	case Gyroscope, GyroscopeUncalibrated:
		return FamilyGyro
	case Orientation:
		return FamilyOrientation
	case Gravity:
		return FamilyGravity
	case LinearAcceleration:
		return FamilyLinearAcc
	case RotationVector:
		return FamilyRotationVector
	case GameRotationVector:
		return FamilyGameRotationVector
	case GeomagneticRotationVector:
		return FamilyGeoRotationVector
	case StepCounter, StepDetector:
		return FamilyPedometer
	case Pressure:
		return FamilyPressure
	}
	return NoFamily
}

// LoggedFamilies returns the families the MCU must log for the given
// live and batched streams.
func LoggedFamilies(live, batch Mask) FamilyMask {
	return (live&LoggedGroup | batch).Families()
}

// Families returns the set of families touched by the streams in m.
func (m Mask) Families() FamilyMask {
	var fm FamilyMask
	for _, s := range m.Streams() {
		fm |= FamilyOf(s).Bit()
	}
	return fm
}
