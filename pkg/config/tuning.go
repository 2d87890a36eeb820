package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

// Bounds is the supported sampling period range of a physical sensor.
type Bounds struct {
	MinUs uint32 `yaml:"min_us"`
	MaxUs uint32 `yaml:"max_us"`
}

// Clamp limits us to the bounds.
func (b Bounds) Clamp(us uint32) uint32 {
	if us < b.MinUs {
		return b.MinUs
	}
	if us > b.MaxUs {
		return b.MaxUs
	}
	return us
}

// BucketTargets are the sensor periods forced while a fusion bucket is
// active. Zero means the sensor is not a member of the bucket.
type BucketTargets struct {
	AccUs  uint32 `yaml:"acc_us"`
	MagUs  uint32 `yaml:"mag_us"`
	GyroUs uint32 `yaml:"gyro_us"`
}

// Tuning holds the rate and activation tuning tables, normally loaded from
// a YAML file next to the main configuration.
type Tuning struct {
	Acc  Bounds `yaml:"acc"`
	Mag  Bounds `yaml:"mag"`
	Gyro Bounds `yaml:"gyro"`
	Baro Bounds `yaml:"baro"`

	FusionMinUs         uint32 `yaml:"fusion_min_us"`
	DefaultTaskPeriodUs uint32 `yaml:"default_task_period_us"`
	BatchMinUs          uint32 `yaml:"batch_min_us"`

	Buckets struct {
		NineAxis BucketTargets `yaml:"nine_axis"`
		AccMag   BucketTargets `yaml:"acc_mag"`
		AccGyro  BucketTargets `yaml:"acc_gyro"`
		Default  BucketTargets `yaml:"default"`
	} `yaml:"buckets"`

	// FeaturePeriodsUs caps the shared period while an app feature riding
	// on the accelerometer is active. Keys are stream names.
	FeaturePeriodsUs map[string]uint32 `yaml:"feature_periods_us"`

	GyroSettle   time.Duration `yaml:"gyro_settle"`
	FusionSettle time.Duration `yaml:"fusion_settle"`
}

// DefaultTuning returns the built-in tuning tables.
func DefaultTuning() Tuning {
	t := Tuning{
		Acc:  Bounds{MinUs: 5000, MaxUs: 200000},
		Mag:  Bounds{MinUs: 10000, MaxUs: 200000},
		Gyro: Bounds{MinUs: 5000, MaxUs: 200000},
		Baro: Bounds{MinUs: 20000, MaxUs: 1000000},

		FusionMinUs:         10000,
		DefaultTaskPeriodUs: 200000,
		BatchMinUs:          100000,

		FeaturePeriodsUs: map[string]uint32{
			"step_counter":       20000,
			"step_detector":      20000,
			"significant_motion": 20000,
			"pickup":             20000,
			"twist":              20000,
			"shake":              20000,
			"g_detect":           20000,
			"motion_detect":      40000,
			"motion_still":       40000,
			"vehicle_detect":     40000,
		},

		GyroSettle:   130 * time.Millisecond,
		FusionSettle: 80 * time.Millisecond,
	}
	t.Buckets.NineAxis = BucketTargets{AccUs: 10000, MagUs: 20000, GyroUs: 10000}
	t.Buckets.AccMag = BucketTargets{AccUs: 20000, MagUs: 20000}
	t.Buckets.AccGyro = BucketTargets{AccUs: 10000, GyroUs: 10000}
	t.Buckets.Default = BucketTargets{AccUs: 200000, MagUs: 100000, GyroUs: 100000}
	return t
}

// LoadTuning reads a YAML tuning file. Keys missing from the file keep
// their built-in defaults.
func LoadTuning(path string) (Tuning, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, WrapError("tuning", "", err)
	}
	return ParseTuning(b)
}

// ParseTuning decodes YAML tuning data over the defaults and validates it.
func ParseTuning(data []byte) (Tuning, error) {
	t := DefaultTuning()
	features := t.FeaturePeriodsUs
	t.FeaturePeriodsUs = nil
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, WrapError("tuning", "", err)
	}
	for k, v := range t.FeaturePeriodsUs {
		features[k] = v
	}
	t.FeaturePeriodsUs = features
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// Validate checks the tables for values the arbiter cannot program.
func (t Tuning) Validate() error {
	bounds := []struct {
		name string
		b    Bounds
	}{{"acc", t.Acc}, {"mag", t.Mag}, {"gyro", t.Gyro}, {"baro", t.Baro}}
	for _, s := range bounds {
		if s.b.MinUs < protocol.QuantumFineUs {
			return ErrOutOfRange("tuning", s.name+".min_us", float64(s.b.MinUs),
				fmt.Sprintf("must be at least %d", protocol.QuantumFineUs))
		}
		if s.b.MaxUs < s.b.MinUs {
			return NewConfigError("tuning", s.name+".max_us", "must not be below min_us")
		}
	}
	if t.FusionMinUs == 0 {
		return ErrMissingOption("tuning", "fusion_min_us")
	}
	if t.DefaultTaskPeriodUs < protocol.QuantumFineUs {
		return ErrOutOfRange("tuning", "default_task_period_us", float64(t.DefaultTaskPeriodUs), "too short")
	}
	if t.BatchMinUs < protocol.QuantumFineUs {
		return ErrOutOfRange("tuning", "batch_min_us", float64(t.BatchMinUs), "too short")
	}
	for name, us := range t.FeaturePeriodsUs {
		s, err := sensor.ParseStream(name)
		if err != nil {
			return WrapError("tuning", "feature_periods_us", err)
		}
		if !sensor.AppGroup.Has(s) {
			return NewConfigError("tuning", "feature_periods_us", name+" is not an accelerometer feature")
		}
		if us < protocol.QuantumFineUs {
			return ErrOutOfRange("tuning", "feature_periods_us."+name, float64(us), "too short")
		}
	}
	if t.GyroSettle < 0 || t.FusionSettle < 0 {
		return NewConfigError("tuning", "", "settle delays must not be negative")
	}
	return nil
}

// SlotBounds returns the bounds of a physical sensor slot.
func (t Tuning) SlotBounds(slot int) Bounds {
	switch slot {
	case protocol.SlotAcc:
		return t.Acc
	case protocol.SlotMag:
		return t.Mag
	case protocol.SlotGyro:
		return t.Gyro
	case protocol.SlotBaro:
		return t.Baro
	}
	return Bounds{MinUs: protocol.QuantumFineUs, MaxUs: protocol.InfinitePeriod}
}

// FeaturePeriod returns the period cap of an accelerometer feature stream.
func (t Tuning) FeaturePeriod(s sensor.Stream) (uint32, bool) {
	us, ok := t.FeaturePeriodsUs[s.String()]
	return us, ok
}
