package irq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sensorhub-go/pkg/pool"
	"sensorhub-go/pkg/protocol"
)

// fakeBus returns queued ERROR0..INTREQ1 blocks and records writes.
type fakeBus struct {
	mu     sync.Mutex
	status [][protocol.ErrorRegSize]byte
	reads  int
	trace  *[]string
}

func (b *fakeBus) push(code uint16, req protocol.IntReq) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = append(b.status, protocol.EncodeErrorReg(code, req))
}

func (b *fakeBus) Read(addr uint8, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr != protocol.RegError0 {
		return nil
	}
	b.reads++
	if len(b.status) > 0 {
		copy(buf, b.status[0][:])
		b.status = b.status[1:]
	}
	return nil
}

func (b *fakeBus) Write(addr uint8, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr == protocol.RegCmd0 && b.trace != nil {
		*b.trace = append(*b.trace, "ack")
	}
	return nil
}

func (b *fakeBus) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

type fakeCompleter struct {
	mu    sync.Mutex
	trace *[]string
	codes []uint16
	fails int
	done  chan struct{}
}

func (c *fakeCompleter) Complete(code uint16) bool {
	c.mu.Lock()
	c.codes = append(c.codes, code)
	*c.trace = append(*c.trace, "complete")
	c.mu.Unlock()
	c.done <- struct{}{}
	return true
}

func (c *fakeCompleter) Fail() bool {
	c.mu.Lock()
	c.fails++
	c.mu.Unlock()
	c.done <- struct{}{}
	return true
}

type harness struct {
	bus  *fakeBus
	cmp  *fakeCompleter
	line *SoftLine
	pool *pool.WorkPool
	d    *Dispatcher

	trace []string
}

func newHarness(t *testing.T, slots int, opts ...Option) *harness {
	t.Helper()
	h := &harness{}
	h.bus = &fakeBus{trace: &h.trace}
	h.cmp = &fakeCompleter{trace: &h.trace, done: make(chan struct{}, 8)}
	h.line = NewSoftLine()
	h.pool = pool.NewWorkPool(slots)
	h.d = NewDispatcher(h.bus, h.cmp, h.line, h.pool, opts...)
	h.line.Attach(h.d.HandleIRQ)
	t.Cleanup(func() {
		h.d.Close()
		h.pool.Close()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.cmp.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no completion delivered")
	}
}

func TestCommandCompleteAcksFirst(t *testing.T) {
	h := newHarness(t, 4)
	h.bus.push(0x0007, protocol.IntCmdComplete)
	h.line.Trigger()
	h.waitDone(t)

	h.cmp.mu.Lock()
	defer h.cmp.mu.Unlock()
	if len(h.cmp.codes) != 1 || h.cmp.codes[0] != 0x0007 {
		t.Fatalf("codes = %v", h.cmp.codes)
	}
	if len(h.trace) != 2 || h.trace[0] != "ack" || h.trace[1] != "complete" {
		t.Errorf("trace = %v, want [ack complete]", h.trace)
	}
}

func TestLegacyRevisionSkipsAck(t *testing.T) {
	h := newHarness(t, 4, WithLegacyRevision(true))
	h.bus.push(0, protocol.IntCmdComplete)
	h.line.Trigger()
	h.waitDone(t)

	h.cmp.mu.Lock()
	defer h.cmp.mu.Unlock()
	if len(h.trace) != 1 || h.trace[0] != "complete" {
		t.Errorf("trace = %v, want [complete]", h.trace)
	}
}

func TestHardErrorFailsCommand(t *testing.T) {
	h := newHarness(t, 4)
	var domainRuns atomic.Int32
	h.d.Handle(protocol.DomainAcc, func(context.Context, protocol.Domain) { domainRuns.Add(1) })

	h.bus.push(0, protocol.IntHardError)
	h.line.Trigger()
	h.waitDone(t)
	waitFor(t, "line re-enabled", h.line.Enabled)

	h.cmp.mu.Lock()
	defer h.cmp.mu.Unlock()
	if h.cmp.fails != 1 || len(h.cmp.codes) != 0 {
		t.Errorf("fails = %d, codes = %v", h.cmp.fails, h.cmp.codes)
	}
	if domainRuns.Load() != 0 {
		t.Error("hard error must not dispatch domain handlers")
	}
}

func TestDropWhenPoolExhausted(t *testing.T) {
	h := newHarness(t, 1)
	block := make(chan struct{})
	if !h.pool.TrySchedule("blocker", func() { <-block }) {
		t.Fatal("could not occupy the only slot")
	}
	defer close(block)

	h.bus.push(0, protocol.IntCmdComplete)
	h.line.Trigger()

	if !h.line.Enabled() {
		t.Error("line must be re-enabled after a drop")
	}
	if h.pool.Drops() != 1 {
		t.Errorf("drops = %d, want 1", h.pool.Drops())
	}
	if h.bus.readCount() != 0 {
		t.Error("dropped interrupt must not touch the bus")
	}
}

func TestDomainTasksCoalesce(t *testing.T) {
	h := newHarness(t, 4)
	release := make(chan struct{})
	var runs atomic.Int32
	h.d.Handle(protocol.DomainAcc, func(ctx context.Context, d protocol.Domain) {
		if d != protocol.DomainAcc {
			t.Errorf("handler got domain %s", d)
		}
		runs.Add(1)
		<-release
	})

	for i := 0; i < 3; i++ {
		h.bus.push(0, protocol.IntAcc)
		h.line.Trigger()
		want := i + 1
		waitFor(t, "status read", func() bool { return h.bus.readCount() == want })
		waitFor(t, "bottom half done", func() bool { return h.pool.Busy() == 1 && h.line.Enabled() })
	}
	if !h.d.Running(protocol.DomainAcc) {
		t.Fatal("acc task should be in flight")
	}
	close(release)
	waitFor(t, "acc task finished", func() bool { return !h.d.Running(protocol.DomainAcc) })

	if got := runs.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

func TestMultipleDomainsDispatched(t *testing.T) {
	h := newHarness(t, 8)
	var mu sync.Mutex
	seen := map[protocol.Domain]int{}
	var wg sync.WaitGroup
	wg.Add(2)
	handler := func(_ context.Context, d protocol.Domain) {
		mu.Lock()
		seen[d]++
		mu.Unlock()
		wg.Done()
	}
	h.d.Handle(protocol.DomainMag, handler)
	h.d.Handle(protocol.DomainCustom, handler)

	h.bus.push(0, protocol.IntMag|protocol.IntCustom|protocol.IntBaro)
	h.line.Trigger()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen[protocol.DomainMag] != 1 || seen[protocol.DomainCustom] != 1 || len(seen) != 2 {
		t.Errorf("seen = %v", seen)
	}
}

func TestSoftLinePendingWhileDisabled(t *testing.T) {
	l := NewSoftLine()
	var fired int
	l.Attach(func() { fired++ })

	l.Disable()
	l.Trigger()
	l.Trigger()
	if fired != 0 {
		t.Fatal("disabled line must not fire")
	}
	l.Enable()
	if fired != 1 {
		t.Errorf("fired = %d after enable, want 1", fired)
	}
	l.Enable()
	if fired != 1 {
		t.Error("pending interrupt delivered twice")
	}
}
