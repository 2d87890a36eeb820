// Package command serialises host commands to the hub MCU.
//
// One command is in flight at a time. Issuing a command writes the
// parameter block, the two opcode bytes and the entry trigger; completion
// arrives asynchronously from the interrupt dispatcher through Complete or
// Fail. Every issue arms a fresh single-slot waiter tagged with a sequence
// number so a completion that arrives after its command timed out is
// discarded instead of being credited to the next command.
package command

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/metrics"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/transport"
)

// Mode selects how Execute waits for and reads back a command.
type Mode uint8

const (
	// ModeWait blocks until the completion interrupt.
	ModeWait Mode = 1 << iota
	// ModeReadFIFO reads the 2-byte size then that many FIFO bytes.
	ModeReadFIFO
	// ModeReadRegs reads the 64 result registers.
	ModeReadRegs
	// ModeCheck uses the short connectivity-check timeout.
	ModeCheck
	// ModeSkipUnlock keeps the channel locked after a successful
	// return; the caller must call Unlock.
	ModeSkipUnlock
)

// Has reports whether m includes f.
func (m Mode) Has(f Mode) bool { return m&f != 0 }

func (m Mode) waits() bool {
	return m.Has(ModeWait | ModeReadFIFO | ModeReadRegs | ModeCheck)
}

// Result is the outcome of one command.
type Result struct {
	Code uint16 // MCU error code, 0 on success
	Size int    // result size reported by the MCU before clamping
	Data []byte // result bytes, owned by the caller
}

// Timeouts bound the wait for a completion.
type Timeouts struct {
	Normal time.Duration
	Check  time.Duration
}

// DefaultTimeouts are used for zero fields.
var DefaultTimeouts = Timeouts{Normal: 500 * time.Millisecond, Check: 100 * time.Millisecond}

// RetryPolicy bounds Do's retries on the transient busy code.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy retries a busy MCU three times in total.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 2 * time.Millisecond}

type completion struct {
	code uint16
	hard bool
}

type waiter struct {
	seq    uint64
	issued bool
	done   chan completion
}

// Channel is the command channel to one hub MCU.
type Channel struct {
	bus transport.Bus

	// held for the whole issue/wait/read sequence
	lock sync.Mutex

	mu     sync.Mutex
	seq    uint64
	waiter *waiter

	timeouts Timeouts
	retry    RetryPolicy
	sleep    func(time.Duration)

	executes atomic.Uint64
	late     atomic.Uint64

	metrics *metrics.HubMetrics
	log     *log.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeouts overrides the completion timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *Channel) {
		if t.Normal > 0 {
			c.timeouts.Normal = t.Normal
		}
		if t.Check > 0 {
			c.timeouts.Check = t.Check
		}
	}
}

// WithRetry overrides the busy retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Channel) {
		if p.Attempts > 0 {
			c.retry = p
		}
	}
}

// WithSleep replaces the retry backoff sleep.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Channel) { c.sleep = fn }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.HubMetrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// NewChannel creates a command channel over bus.
func NewChannel(bus transport.Bus, opts ...Option) *Channel {
	c := &Channel{
		bus:      bus,
		timeouts: DefaultTimeouts,
		retry:    DefaultRetryPolicy,
		sleep:    time.Sleep,
		log:      log.GetLogger("command"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do executes cmd, retrying while the MCU reports ErrCodeBusy. Any other
// failure is returned immediately.
func (c *Channel) Do(ctx context.Context, cmd protocol.Command, mode Mode) (*Result, error) {
	var (
		res *Result
		err error
	)
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		res, err = c.Execute(ctx, cmd, mode)
		code, isProto := huberrors.MCUCode(err)
		if err == nil || !isProto || code != protocol.ErrCodeBusy {
			return res, err
		}
		if attempt < c.retry.Attempts {
			c.metrics.RecordCommandRetry(cmd.Opcode().String())
			c.log.WithFields(log.Fields{"opcode": cmd.Opcode(), "attempt": attempt}).Debug("mcu busy, retrying")
			c.sleep(c.retry.Backoff)
		}
	}
	return res, err
}

// Execute issues cmd once.
func (c *Channel) Execute(ctx context.Context, cmd protocol.Command, mode Mode) (res *Result, err error) {
	c.lock.Lock()
	defer func() {
		// the lock survives only a successful skip-unlock call
		if err != nil || !mode.Has(ModeSkipUnlock) {
			c.lock.Unlock()
		}
	}()

	c.executes.Add(1)
	op := cmd.Opcode()
	start := time.Now()
	defer func() {
		c.metrics.RecordCommand(op.String(), time.Since(start), string(huberrors.Code(err)))
	}()

	var w *waiter
	if mode.waits() {
		w = c.arm()
	}

	if err := c.issue(op, cmd.MarshalParams(), w); err != nil {
		c.disarm(w)
		return nil, huberrors.Wrap(err, huberrors.ErrTransport, "command issue failed").SetOp(op.String())
	}
	if w == nil {
		return &Result{}, nil
	}

	timeout := c.timeouts.Normal
	if mode.Has(ModeCheck) {
		timeout = c.timeouts.Check
	}
	comp, err := c.wait(ctx, w, op, timeout)
	if err != nil {
		return nil, err
	}
	if comp.hard {
		return nil, huberrors.HardError(op.String())
	}

	res = &Result{Code: comp.code}
	if comp.code != protocol.ErrCodeOK {
		return res, huberrors.ProtocolError(op.String(), comp.code)
	}

	switch {
	case mode.Has(ModeReadFIFO):
		err = c.readFIFO(op, res)
	case mode.Has(ModeReadRegs):
		res.Data = make([]byte, protocol.ResultRegCount)
		res.Size = protocol.ResultRegCount
		if rerr := c.bus.Read(protocol.RegResult, res.Data); rerr != nil {
			err = huberrors.Wrap(rerr, huberrors.ErrTransport, "result register read failed").SetOp(op.String())
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// issue writes PRM, CMD0/CMD1 and the entry trigger. The waiter starts
// accepting completions just before the trigger.
func (c *Channel) issue(op protocol.Opcode, params protocol.ParamBlock, w *waiter) error {
	if err := c.bus.Write(protocol.RegParam, params[:]); err != nil {
		return err
	}
	ob := op.Bytes()
	if err := c.bus.Write(protocol.RegCmd0, ob[:]); err != nil {
		return err
	}
	if w != nil {
		c.markIssued(w)
	}
	return c.bus.Write(protocol.RegCmdEntry, []byte{protocol.CmdEntryTrigger})
}

func (c *Channel) readFIFO(op protocol.Opcode, res *Result) error {
	var sz [protocol.ResultSizeBytes]byte
	if err := c.bus.Read(protocol.RegResult, sz[:]); err != nil {
		return huberrors.Wrap(err, huberrors.ErrTransport, "result size read failed").SetOp(op.String())
	}
	res.Size = int(binary.LittleEndian.Uint16(sz[:]))
	n := res.Size
	if n > protocol.FIFOSize {
		c.log.WithFields(log.Fields{"opcode": op, "size": n}).Warn("result size clamped to fifo capacity")
		n = protocol.FIFOSize
	}
	res.Data = make([]byte, n)
	if n == 0 {
		return nil
	}
	if err := c.bus.Read(protocol.RegFIFO, res.Data); err != nil {
		return huberrors.Wrap(err, huberrors.ErrTransport, "fifo read failed").SetOp(op.String())
	}
	return nil
}

// arm clears the pending completion by installing a fresh waiter.
func (c *Channel) arm() *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	w := &waiter{seq: c.seq, done: make(chan completion, 1)}
	c.waiter = w
	return w
}

func (c *Channel) markIssued(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiter == w {
		w.issued = true
	}
}

func (c *Channel) disarm(w *waiter) {
	if w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiter == w {
		c.waiter = nil
	}
}

func (c *Channel) wait(ctx context.Context, w *waiter, op protocol.Opcode, timeout time.Duration) (completion, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case comp := <-w.done:
		return comp, nil
	case <-timer.C:
		c.disarm(w)
		c.log.WithFields(log.Fields{"opcode": op, "seq": w.seq, "timeout": timeout}).Warn("command timed out")
		return completion{}, huberrors.TimeoutError(op.String(), timeout)
	case <-ctx.Done():
		c.disarm(w)
		return completion{}, huberrors.Wrap(ctx.Err(), huberrors.ErrTimeout, "wait cancelled").SetOp(op.String())
	}
}

// take detaches the current waiter if it is ready for a completion.
func (c *Channel) take() *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.waiter
	if w == nil || !w.issued {
		return nil
	}
	c.waiter = nil
	return w
}

// Complete delivers a command-complete interrupt carrying the MCU error
// code. It returns false when no command was waiting.
func (c *Channel) Complete(code uint16) bool {
	w := c.take()
	if w == nil {
		c.late.Add(1)
		c.metrics.RecordLateCompletion()
		c.log.WithField("code", code).Warn("completion with no waiting command discarded")
		return false
	}
	w.done <- completion{code: code}
	return true
}

// Fail delivers a hard error to the waiting command, if any.
func (c *Channel) Fail() bool {
	w := c.take()
	if w == nil {
		return false
	}
	w.done <- completion{hard: true}
	return true
}

// ReadFIFO reads the FIFO result of the command that just completed. The
// caller must still hold the channel through ModeSkipUnlock.
func (c *Channel) ReadFIFO(op protocol.Opcode) (*Result, error) {
	res := &Result{}
	if err := c.readFIFO(op, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Unlock releases a lock kept by ModeSkipUnlock.
func (c *Channel) Unlock() {
	c.lock.Unlock()
}

// Executes returns the number of Execute calls made so far.
func (c *Channel) Executes() uint64 {
	return c.executes.Load()
}

// LateCompletions returns how many completions were discarded.
func (c *Channel) LateCompletions() uint64 {
	return c.late.Load()
}
