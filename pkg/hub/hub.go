// Package hub assembles one sensor hub driver instance.
//
// A Hub owns the shared context and wires the transport, command channel,
// interrupt dispatcher, rate arbiter, activation machine and log replay
// engine around it. Callers connect an interrupt line to HandleIRQ, call
// Start once the MCU is reachable and then drive streams through
// SetActive, SetBatchActive, SetDelay and Flush.
//
// Events are delivered for streams enabled live or batched. Motion and
// fusion samples come from the MCU log: an accelerometer, magnetometer,
// gyroscope or fusion interrupt drains it while such a stream is live, and
// Flush drains it on demand. Detections, step counts and pressure come
// from their domain interrupts.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sensorhub-go/pkg/activation"
	"sensorhub-go/pkg/clocksync"
	"sensorhub-go/pkg/command"
	"sensorhub-go/pkg/config"
	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/hubctx"
	"sensorhub-go/pkg/irq"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/logreplay"
	"sensorhub-go/pkg/metrics"
	"sensorhub-go/pkg/pool"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/rate"
	"sensorhub-go/pkg/sensor"
	"sensorhub-go/pkg/transport"
)

// Event is a decoded sensor sample or detection.
type Event = sensor.Event

// Notifier receives decoded events.
type Notifier = sensor.Notifier

// Version is the MCU firmware version.
type Version struct {
	Major    uint8
	Minor    uint8
	Patch    uint8
	Revision uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d-r%d", v.Major, v.Minor, v.Patch, v.Revision)
}

// Stats is a point-in-time view of driver activity.
type Stats struct {
	Executes        uint64
	LateCompletions uint64
	Pool            pool.PoolStats
	Replay          logreplay.Stats
	Clock           clocksync.Stats
}

type options struct {
	metrics *metrics.HubMetrics
	clock   clocksync.Clock
	sleep   func(time.Duration)
}

// Option configures a Hub.
type Option func(*options)

// WithMetrics attaches a metrics sink to every component.
func WithMetrics(m *metrics.HubMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces the host time source.
func WithClock(c clocksync.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSleep replaces every settle and backoff sleep.
func WithSleep(fn func(time.Duration)) Option {
	return func(o *options) { o.sleep = fn }
}

// Hub is one driver instance.
type Hub struct {
	cfg config.HubConfig

	hc     *hubctx.Context
	bus    *transport.Retrying
	ch     *command.Channel
	pool   *pool.WorkPool
	disp   *irq.Dispatcher
	arb    *rate.Arbiter
	act    *activation.Machine
	replay *logreplay.Engine

	notify  Notifier
	metrics *metrics.HubMetrics
	log     *log.Logger

	mu      sync.Mutex
	version Version
	started bool
	closed  bool
}

// New builds a driver over bus. line is the interrupt line the dispatcher
// masks while servicing; the caller routes its edges to HandleIRQ. A nil
// cfg uses the defaults and a nil notifier discards events.
func New(cfg *config.HubConfig, bus transport.Bus, line irq.Line, n Notifier, opts ...Option) *Hub {
	if cfg == nil {
		def := config.DefaultHubConfig()
		cfg = &def
	}
	if n == nil {
		n = sensor.Discard
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	h := &Hub{
		cfg:     *cfg,
		notify:  n,
		metrics: o.metrics,
		log:     log.GetLogger("hub"),
	}

	h.bus = transport.NewRetrying(bus, transport.RetryPolicy{
		Attempts: cfg.Bus.Retries,
		Backoff:  cfg.Bus.Backoff,
	})
	h.bus.OnRetry(o.metrics.RecordBusRetry)

	chOpts := []command.Option{
		command.WithTimeouts(command.Timeouts{Normal: cfg.CommandTimeout, Check: cfg.CheckTimeout}),
		command.WithRetry(command.RetryPolicy{Attempts: cfg.BusyAttempts, Backoff: cfg.BusyBackoff}),
		command.WithMetrics(o.metrics),
	}
	ctxOpts := []hubctx.Option{hubctx.WithMetrics(o.metrics)}
	if o.sleep != nil {
		h.bus.SetSleep(o.sleep)
		chOpts = append(chOpts, command.WithSleep(o.sleep))
		ctxOpts = append(ctxOpts, hubctx.WithSleep(o.sleep))
	}
	if o.clock != nil {
		ctxOpts = append(ctxOpts, hubctx.WithClock(o.clock))
	}
	h.ch = command.NewChannel(h.bus, chOpts...)
	h.hc = hubctx.New(cfg.Tuning, ctxOpts...)

	h.pool = pool.NewWorkPool(cfg.PoolSlots)
	h.pool.OnDrop(func(name string) {
		h.metrics.SetPoolBusy(h.pool.Busy())
	})
	h.disp = irq.NewDispatcher(h.bus, h.ch, line, h.pool,
		irq.WithLegacyRevision(cfg.LegacyPartRevision),
		irq.WithMetrics(o.metrics))

	h.arb = rate.NewArbiter(h.hc, h.ch)
	h.act = activation.New(h.hc, h.arb, h.ch)
	h.replay = logreplay.New(h.hc, h.ch, sensor.NotifierFunc(h.emit))

	h.disp.Handle(protocol.DomainAcc, h.drainAfter(h.handleAcc))
	h.disp.Handle(protocol.DomainBaro, h.handleBaro)
	h.disp.Handle(protocol.DomainMag, h.drainAfter(h.handleCalibration))
	h.disp.Handle(protocol.DomainGyro, h.drainAfter(h.handleCalibration))
	h.disp.Handle(protocol.DomainFusion, h.drainAfter(h.handleFusion))
	h.disp.Handle(protocol.DomainCustom, h.handleCustom)
	return h
}

// HandleIRQ is the interrupt line handler.
func (h *Hub) HandleIRQ() {
	h.disp.HandleIRQ()
}

// Start probes the MCU, reads its version and calibration, unmasks its
// interrupts and programs the current activation state.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return huberrors.RuntimeError("hub is closed")
	}
	h.mu.Unlock()

	if err := h.CheckAccess(ctx); err != nil {
		return err
	}
	v, err := h.readVersion(ctx)
	if err != nil {
		return err
	}

	mask := protocol.IntValidMask
	if err := h.bus.Write(protocol.RegIntMask0, []byte{byte(mask), byte(mask >> 8)}); err != nil {
		return err
	}
	if err := h.bus.Write(protocol.RegCfg, []byte{protocol.CfgIntEnable}); err != nil {
		return err
	}

	for _, d := range []protocol.Domain{protocol.DomainMag, protocol.DomainGyro} {
		if err := h.loadCalibration(ctx, d); err != nil {
			h.log.WithError(err).WithField("domain", d).Warn("calibration offsets unavailable")
		}
	}

	if err := h.act.Sync(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.version = v
	h.started = true
	h.mu.Unlock()
	h.log.WithFields(log.Fields{
		"version": v,
		"legacy":  h.cfg.LegacyPartRevision,
	}).Info("sensor hub started")
	return nil
}

// Close stops interrupt processing and waits for deferred work. It closes
// the bus when the bus supports closing.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.disp.Close()
	h.pool.Close()
	return h.bus.Close()
}

// CheckAccess issues the connectivity probe with the short timeout.
func (h *Hub) CheckAccess(ctx context.Context) error {
	_, err := h.ch.Do(ctx, protocol.CheckAccess{}, command.ModeCheck)
	return err
}

func (h *Hub) readVersion(ctx context.Context) (Version, error) {
	res, err := h.ch.Do(ctx, protocol.GetVersion{}, command.ModeReadRegs)
	if err != nil {
		return Version{}, err
	}
	if len(res.Data) < 4 {
		return Version{}, huberrors.SizeMismatchError(4, len(res.Data)).SetOp(protocol.OpGetVersion.String())
	}
	return Version{Major: res.Data[0], Minor: res.Data[1], Patch: res.Data[2], Revision: res.Data[3]}, nil
}

// Version returns the firmware version read by Start.
func (h *Hub) Version() Version {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

func (h *Hub) loadCalibration(ctx context.Context, d protocol.Domain) error {
	res, err := h.ch.Do(ctx, protocol.GetCalibOffsets{Domain: d}, command.ModeReadRegs)
	if err != nil {
		return err
	}
	cd := protocol.DecodeCalibDetail(res.Data)
	h.hc.SetCalibration(d, hubctx.Calibration{
		Bias:     cd.Bias,
		Accuracy: cd.Accuracy,
		Updated:  h.hc.Clock.Now(),
	})
	return nil
}

// SetActive enables or disables live delivery of s.
func (h *Hub) SetActive(ctx context.Context, s sensor.Stream, enabled bool) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.act.SetActive(ctx, s, enabled)
}

// SetBatchActive enables or disables batched delivery of s.
func (h *Hub) SetBatchActive(ctx context.Context, s sensor.Stream, enabled bool) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.act.SetBatchActive(ctx, s, enabled)
}

// SetDelay sets the requested sampling period of s in microseconds.
func (h *Hub) SetDelay(ctx context.Context, s sensor.Stream, periodUs uint32) error {
	if err := h.ready(); err != nil {
		return err
	}
	return h.act.SetDelay(ctx, s, periodUs)
}

// Flush drains the sample log and returns the number of events delivered.
func (h *Hub) Flush(ctx context.Context) (int, error) {
	if err := h.ready(); err != nil {
		return 0, err
	}
	return h.replay.Flush(ctx)
}

// Logging reports whether the MCU is logging samples for any stream, so a
// periodic Flush has something to drain.
func (h *Hub) Logging() bool {
	st := h.hc.Snapshot()
	return sensor.LoggedFamilies(st.Live, st.Batch) != 0
}

// Calibration returns the cached calibration of the mag or gyro domain.
func (h *Hub) Calibration(d protocol.Domain) hubctx.Calibration {
	return h.hc.Calibration(d)
}

// Snapshot returns the activation and programming state.
func (h *Hub) Snapshot() hubctx.State {
	return h.act.Snapshot()
}

// Stats returns activity counters of the driver components.
func (h *Hub) Stats() Stats {
	return Stats{
		Executes:        h.ch.Executes(),
		LateCompletions: h.ch.LateCompletions(),
		Pool:            h.pool.Stats(),
		Replay:          h.replay.GetStats(),
		Clock:           h.hc.Reconciler.GetStats(),
	}
}

func (h *Hub) ready() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return huberrors.RuntimeError("hub is closed")
	case !h.started:
		return huberrors.RuntimeError("hub is not started")
	}
	return nil
}
