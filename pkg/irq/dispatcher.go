// Package irq splits hub interrupts into a top half and deferred work.
//
// The top half masks the line and schedules the bottom half on a bounded
// work pool; when no slot is free the interrupt is dropped and the line
// unmasked again. The bottom half reads ERROR0..INTREQ1 once, hands a
// command completion or hard error to the command channel and schedules
// one task per signalled domain. A domain never has more than one task in
// flight: an interrupt that arrives while its task runs makes the task run
// once more instead of starting a second one.
package irq

import (
	"context"
	"sync"

	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/metrics"
	"sensorhub-go/pkg/pool"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/transport"
)

// Completer receives command completions. *command.Channel implements it.
type Completer interface {
	Complete(code uint16) bool
	Fail() bool
}

// DomainHandler services one domain interrupt. It runs on a work slot and
// may issue commands.
type DomainHandler func(ctx context.Context, d protocol.Domain)

type domainState struct {
	running bool
	requeue bool
}

// Dispatcher routes hub interrupts.
type Dispatcher struct {
	bus  transport.Bus
	cmd  Completer
	line Line
	pool *pool.WorkPool

	legacy bool

	mu       sync.Mutex
	handlers [protocol.NumDomains]DomainHandler
	domains  [protocol.NumDomains]domainState

	ctx    context.Context
	cancel context.CancelFunc

	metrics *metrics.HubMetrics
	log     *log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLegacyRevision skips the CMD register acknowledgement, which the
// legacy part revision does not expect.
func WithLegacyRevision(legacy bool) Option {
	return func(d *Dispatcher) { d.legacy = legacy }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.HubMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher. The caller wires the line's handler
// to HandleIRQ.
func NewDispatcher(bus transport.Bus, cmd Completer, line Line, wp *pool.WorkPool, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:    bus,
		cmd:    cmd,
		line:   line,
		pool:   wp,
		ctx:    ctx,
		cancel: cancel,
		log:    log.GetLogger("irq"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle registers the handler for a domain.
func (d *Dispatcher) Handle(dom protocol.Domain, h DomainHandler) {
	if dom >= protocol.NumDomains {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[dom] = h
}

// HandleIRQ is the top half.
func (d *Dispatcher) HandleIRQ() {
	d.line.Disable()
	if d.pool.TrySchedule("irq", d.bottomHalf) {
		d.metrics.RecordIRQ(false)
		return
	}
	d.metrics.RecordIRQ(true)
	d.log.Warn("no free work slot, interrupt dropped")
	d.line.Enable()
}

func (d *Dispatcher) bottomHalf() {
	defer d.line.Enable()
	d.metrics.SetPoolBusy(d.pool.Busy())

	var reg [protocol.ErrorRegSize]byte
	if err := d.bus.Read(protocol.RegError0, reg[:]); err != nil {
		d.log.WithError(err).Error("interrupt status read failed")
		return
	}
	code, req := protocol.DecodeErrorReg(reg[:])

	if req == protocol.IntHardError {
		d.metrics.RecordHardError()
		d.log.Error("mcu reported a hard error")
		d.cmd.Fail()
		return
	}

	if req.Has(protocol.IntCmdComplete) {
		// the ack must land before the waiter can issue the next command
		if !d.legacy {
			ack := [protocol.OpcodeSize]byte{}
			if err := d.bus.Write(protocol.RegCmd0, ack[:]); err != nil {
				d.log.WithError(err).Warn("command register ack failed")
			}
		}
		d.cmd.Complete(code)
	}

	for dom := protocol.Domain(0); dom < protocol.NumDomains; dom++ {
		if req.Has(dom.Bit()) {
			d.dispatch(dom)
		}
	}
}

func (d *Dispatcher) dispatch(dom protocol.Domain) {
	d.mu.Lock()
	h := d.handlers[dom]
	if h == nil {
		d.mu.Unlock()
		d.log.WithField("domain", dom).Debug("interrupt for unhandled domain")
		return
	}
	st := &d.domains[dom]
	if st.running {
		st.requeue = true
		d.mu.Unlock()
		d.metrics.RecordDomainTask(dom.String(), true)
		return
	}
	st.running = true
	d.mu.Unlock()

	task := func() {
		for {
			d.metrics.RecordDomainTask(dom.String(), false)
			h(d.ctx, dom)

			d.mu.Lock()
			if !st.requeue || d.ctx.Err() != nil {
				st.running = false
				st.requeue = false
				d.mu.Unlock()
				return
			}
			st.requeue = false
			d.mu.Unlock()
		}
	}
	if !d.pool.TrySchedule("domain:"+dom.String(), task) {
		d.mu.Lock()
		st.running = false
		st.requeue = false
		d.mu.Unlock()
		d.log.WithField("domain", dom).Warn("no free work slot, domain interrupt dropped")
	}
}

// Running reports whether a task for dom is in flight.
func (d *Dispatcher) Running(dom protocol.Domain) bool {
	if dom >= protocol.NumDomains {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.domains[dom].running
}

// Close cancels running domain tasks. The work pool is owned by the
// caller and must be closed after the dispatcher.
func (d *Dispatcher) Close() {
	d.cancel()
}
