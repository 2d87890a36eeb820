// Package hubctx holds the state shared by the components of one hub
// driver instance.
//
// Two locks guard it. The state lock covers activation masks, requested
// periods and the committed hardware programming; only the activation
// machine and the rate arbiter write those. The data lock covers the
// calibration cache that interrupt handlers and log replay update.
// Neither lock is ever held across a command.
package hubctx

import (
	"sync"
	"time"

	"sensorhub-go/pkg/clocksync"
	"sensorhub-go/pkg/config"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/metrics"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

// Timing is the hardware sampling programming produced by the arbiter.
type Timing struct {
	SensorUs uint32 // shared sensor task period, quantized
	FusionUs uint32 // fusion task period, InfinitePeriod when idle

	// Periods are the internal per-slot sampling periods, InfinitePeriod
	// for idle sensors.
	Periods [protocol.NumSlots]uint32

	Live        [protocol.NumSlots]uint8
	Batch       [protocol.NumSlots]uint8
	FusionBatch [protocol.NumFusionSlots]uint8
}

// Hardware is the activation-derived MCU programming.
type Hardware struct {
	MagCal     bool
	GyroCal    bool
	DeepSleep  bool
	AccMode    protocol.AccMode
	Sensors    protocol.SetSensorEnable
	FusionMask uint8
	Tasks      protocol.SetTaskEnable
	Logging    sensor.FamilyMask
}

// Calibration is the latest offset and accuracy reported for a sensor.
type Calibration struct {
	Bias     [3]int16
	Accuracy uint8
	Updated  int64
}

// State is a copy of the state-locked fields.
type State struct {
	Live   sensor.Mask
	Batch  sensor.Mask
	Delays [sensor.NumStreams]uint32

	Timing   Timing
	TimingOK bool // Timing has been programmed at least once

	Hardware   Hardware
	HardwareOK bool
}

// Enabled returns the union of live and batched streams.
func (s State) Enabled() sensor.Mask {
	return s.Live | s.Batch
}

// Context is the shared state of one driver instance.
type Context struct {
	stateMu sync.Mutex
	state   State

	dataMu      sync.Mutex
	calibration [protocol.NumDomains]Calibration
	accuracy    [protocol.NumDomains]uint8

	Reconciler *clocksync.Reconciler
	Tuning     config.Tuning
	Clock      clocksync.Clock
	Sleep      func(time.Duration)
	Log        *log.Logger
	Metrics    *metrics.HubMetrics
}

// Option configures a Context.
type Option func(*Context)

// WithClock replaces the host time source.
func WithClock(c clocksync.Clock) Option {
	return func(hc *Context) { hc.Clock = c }
}

// WithSleep replaces the settle-delay sleep.
func WithSleep(fn func(time.Duration)) Option {
	return func(hc *Context) { hc.Sleep = fn }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.HubMetrics) Option {
	return func(hc *Context) { hc.Metrics = m }
}

// WithLogger replaces the component logger.
func WithLogger(l *log.Logger) Option {
	return func(hc *Context) { hc.Log = l }
}

// New creates a context with every stream idle.
func New(tuning config.Tuning, opts ...Option) *Context {
	hc := &Context{
		Reconciler: clocksync.New(),
		Tuning:     tuning,
		Clock:      clocksync.NewMonotonicClock(),
		Sleep:      time.Sleep,
		Log:        log.GetLogger("hub"),
	}
	for i := range hc.state.Delays {
		hc.state.Delays[i] = protocol.InfinitePeriod
	}
	for _, o := range opts {
		o(hc)
	}
	return hc
}

// Snapshot returns a copy of the state-locked fields.
func (hc *Context) Snapshot() State {
	hc.stateMu.Lock()
	defer hc.stateMu.Unlock()
	return hc.state
}

// Update runs fn with the state lock held.
func (hc *Context) Update(fn func(*State)) {
	hc.stateMu.Lock()
	defer hc.stateMu.Unlock()
	fn(&hc.state)
}

// Enabled returns the union of live and batched streams.
func (hc *Context) Enabled() sensor.Mask {
	hc.stateMu.Lock()
	defer hc.stateMu.Unlock()
	return hc.state.Enabled()
}

// SetCalibration stores the offsets reported for a domain.
func (hc *Context) SetCalibration(d protocol.Domain, c Calibration) {
	if d >= protocol.NumDomains {
		return
	}
	hc.dataMu.Lock()
	defer hc.dataMu.Unlock()
	hc.calibration[d] = c
	hc.accuracy[d] = c.Accuracy
}

// Calibration returns the cached offsets of a domain.
func (hc *Context) Calibration(d protocol.Domain) Calibration {
	if d >= protocol.NumDomains {
		return Calibration{}
	}
	hc.dataMu.Lock()
	defer hc.dataMu.Unlock()
	return hc.calibration[d]
}

// SetAccuracy records an accuracy change and returns the previous value.
func (hc *Context) SetAccuracy(d protocol.Domain, acc uint8) uint8 {
	if d >= protocol.NumDomains {
		return 0
	}
	hc.dataMu.Lock()
	defer hc.dataMu.Unlock()
	prev := hc.accuracy[d]
	hc.accuracy[d] = acc
	return prev
}

// Accuracy returns the last accuracy reported for a domain.
func (hc *Context) Accuracy(d protocol.Domain) uint8 {
	if d >= protocol.NumDomains {
		return 0
	}
	hc.dataMu.Lock()
	defer hc.dataMu.Unlock()
	return hc.accuracy[d]
}
