package config

import (
	"path/filepath"
	"time"
)

// Bus types.
const (
	BusI2C    = "i2c"    // periph.io registered I2C bus
	BusI2CDev = "i2cdev" // raw /dev/i2c-N character device
	BusSPI    = "spi"    // periph.io registered SPI port
	BusSim    = "sim"    // in-process simulator
)

// BusConfig selects and opens the register transport.
type BusConfig struct {
	Type    string
	Device  string // bus or port name, or device path for i2cdev
	Address uint16 // I2C slave address
	SpeedHz int64  // SPI clock
	Retries int    // attempts on a busy device
	Backoff time.Duration
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool
	Address  string
	Username string
	Password string
}

// NotifyConfig selects the event sinks.
type NotifyConfig struct {
	Log       bool
	WebSocket string // listen address, empty to disable
}

// LogConfig configures the driver logger.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeKB  int
	MaxBackups int
}

// HubConfig is the complete driver configuration.
type HubConfig struct {
	Tuning     Tuning
	TuningPath string

	LegacyPartRevision bool
	PoolSlots          int

	CommandTimeout time.Duration
	CheckTimeout   time.Duration
	BusyAttempts   int
	BusyBackoff    time.Duration

	Bus     BusConfig
	IRQ     *Pin // nil: interrupts come from the simulator
	Metrics MetricsConfig
	Notify  NotifyConfig
	Log     LogConfig
}

// DefaultHubConfig returns the configuration used for absent options.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Tuning:         DefaultTuning(),
		PoolSlots:      11,
		CommandTimeout: 500 * time.Millisecond,
		CheckTimeout:   100 * time.Millisecond,
		BusyAttempts:   3,
		BusyBackoff:    2 * time.Millisecond,
		Bus: BusConfig{
			Type:    BusSim,
			Address: 0x28,
			SpeedHz: 4_000_000,
			Retries: 3,
			Backoff: 100 * time.Microsecond,
		},
		Metrics: MetricsConfig{Address: ":9100"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// LoadHubConfig reads and validates a configuration file. A relative
// tuning path is resolved against the file's directory.
func LoadHubConfig(path string) (*HubConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	hc, err := ParseHubConfig(c, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if err := c.CheckUnused(); err != nil {
		return nil, err
	}
	return hc, nil
}

// ParseHubConfig builds a HubConfig from parsed sections.
func ParseHubConfig(c *Config, baseDir string) (*HubConfig, error) {
	hc := DefaultHubConfig()

	if sec := c.GetSectionOptional("sensorhub"); sec != nil {
		if err := parseHub(sec, &hc, baseDir); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("bus"); sec != nil {
		if err := parseBus(sec, &hc.Bus); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("irq"); sec != nil {
		pin, err := sec.GetPinOptional("pin")
		if err != nil {
			return nil, err
		}
		hc.IRQ = pin
	}
	if hc.IRQ == nil && hc.Bus.Type != BusSim {
		return nil, NewConfigError("irq", "pin", "required unless the bus is the simulator")
	}
	if sec := c.GetSectionOptional("metrics"); sec != nil {
		if err := parseMetrics(sec, &hc.Metrics); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("notify"); sec != nil {
		var err error
		if hc.Notify.Log, err = sec.GetBool("log", false); err != nil {
			return nil, err
		}
		if hc.Notify.WebSocket, err = sec.Get("websocket", ""); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("log"); sec != nil {
		if err := parseLog(sec, &hc.Log); err != nil {
			return nil, err
		}
	}
	return &hc, nil
}

func parseHub(sec *Section, hc *HubConfig, baseDir string) error {
	var err error
	if hc.TuningPath, err = sec.Get("tuning", ""); err != nil {
		return err
	}
	if hc.TuningPath != "" {
		if !filepath.IsAbs(hc.TuningPath) && baseDir != "" {
			hc.TuningPath = filepath.Join(baseDir, hc.TuningPath)
		}
		if hc.Tuning, err = LoadTuning(hc.TuningPath); err != nil {
			return WrapError(sec.GetName(), "tuning", err)
		}
	}
	if hc.LegacyPartRevision, err = sec.GetBool("legacy_part_revision", hc.LegacyPartRevision); err != nil {
		return err
	}
	if hc.PoolSlots, err = sec.GetIntWithBounds("pool_slots", 2, 64, hc.PoolSlots); err != nil {
		return err
	}
	if hc.CommandTimeout, err = sec.GetDuration("command_timeout", hc.CommandTimeout); err != nil {
		return err
	}
	if hc.CheckTimeout, err = sec.GetDuration("check_timeout", hc.CheckTimeout); err != nil {
		return err
	}
	if hc.BusyAttempts, err = sec.GetIntWithBounds("busy_attempts", 1, 10, hc.BusyAttempts); err != nil {
		return err
	}
	if hc.BusyBackoff, err = sec.GetDuration("busy_backoff", hc.BusyBackoff); err != nil {
		return err
	}
	if hc.CommandTimeout <= 0 || hc.CheckTimeout <= 0 {
		return NewConfigError(sec.GetName(), "", "timeouts must be positive")
	}
	return nil
}

func parseBus(sec *Section, bc *BusConfig) error {
	var err error
	if bc.Type, err = sec.GetChoice("type", []string{BusI2C, BusI2CDev, BusSPI, BusSim}, bc.Type); err != nil {
		return err
	}
	if bc.Type != BusSim {
		if bc.Device, err = sec.Get("device"); err != nil {
			return err
		}
	}
	addr, err := sec.GetIntWithBounds("address", 0x03, 0x77, int(bc.Address))
	if err != nil {
		return err
	}
	bc.Address = uint16(addr)
	speed, err := sec.GetIntWithBounds("speed_hz", 100_000, 50_000_000, int(bc.SpeedHz))
	if err != nil {
		return err
	}
	bc.SpeedHz = int64(speed)
	if bc.Retries, err = sec.GetIntWithBounds("retries", 1, 10, bc.Retries); err != nil {
		return err
	}
	if bc.Backoff, err = sec.GetDuration("backoff", bc.Backoff); err != nil {
		return err
	}
	return nil
}

func parseMetrics(sec *Section, mc *MetricsConfig) error {
	var err error
	if mc.Enabled, err = sec.GetBool("enabled", true); err != nil {
		return err
	}
	if mc.Address, err = sec.Get("address", mc.Address); err != nil {
		return err
	}
	if mc.Username, err = sec.Get("username", ""); err != nil {
		return err
	}
	if mc.Password, err = sec.Get("password", ""); err != nil {
		return err
	}
	if (mc.Username == "") != (mc.Password == "") {
		return NewConfigError(sec.GetName(), "", "username and password must be set together")
	}
	return nil
}

func parseLog(sec *Section, lc *LogConfig) error {
	var err error
	if lc.Level, err = sec.GetChoice("level", []string{"trace", "debug", "info", "warn", "error"}, lc.Level); err != nil {
		return err
	}
	if lc.Format, err = sec.GetChoice("format", []string{"text", "json"}, lc.Format); err != nil {
		return err
	}
	if lc.File, err = sec.Get("file", ""); err != nil {
		return err
	}
	if lc.MaxSizeKB, err = sec.GetIntWithBounds("max_size_kb", 0, 1<<20, 0); err != nil {
		return err
	}
	if lc.MaxBackups, err = sec.GetIntWithBounds("max_backups", 0, 100, 0); err != nil {
		return err
	}
	return nil
}
