// Bounded work slots and reusable buffers for the interrupt path
//
// Provides:
// - WorkPool: a fixed number of deferred-work slots. Scheduling never
//   blocks and never allocates a slot beyond the bound; when every slot is
//   busy the task is dropped and the caller applies its own backpressure.
// - Byte buffers for assembling multi-block log transfers
//
// Usage:
//
//	if !wp.TrySchedule("irq", bottomHalf) {
//		line.Enable() // drop and re-arm
//	}
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"sensorhub-go/pkg/log"
)

// DefaultSlots is the number of deferred-work slots a hub driver owns.
const DefaultSlots = 11

// WorkPool runs tasks on at most Size() concurrent slots.
type WorkPool struct {
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	scheduled atomic.Uint64
	drops     atomic.Uint64
	panics    atomic.Uint64

	onDrop func(name string)
	log    *log.Logger
}

// NewWorkPool creates a pool with n slots (DefaultSlots if n <= 0).
func NewWorkPool(n int) *WorkPool {
	if n <= 0 {
		n = DefaultSlots
	}
	p := &WorkPool{
		slots: make(chan struct{}, n),
		log:   log.GetLogger("pool"),
	}
	for i := 0; i < n; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// OnDrop installs a hook called whenever a task is dropped.
func (p *WorkPool) OnDrop(fn func(name string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDrop = fn
}

// TrySchedule runs fn on a free slot. It returns false without running
// fn when the pool is exhausted or closed.
func (p *WorkPool) TrySchedule(name string, fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.drop(name)
		return false
	}
	select {
	case <-p.slots:
	default:
		onDrop := p.onDrop
		p.mu.Unlock()
		p.drops.Add(1)
		if onDrop != nil {
			onDrop(name)
		}
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.scheduled.Add(1)
	go p.run(name, fn)
	return true
}

func (p *WorkPool) drop(name string) {
	p.drops.Add(1)
	p.mu.Lock()
	onDrop := p.onDrop
	p.mu.Unlock()
	if onDrop != nil {
		onDrop(name)
	}
}

func (p *WorkPool) run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.WithField("task", name).Error(fmt.Sprintf("task panicked: %v", r))
		}
		p.slots <- struct{}{}
		p.wg.Done()
	}()
	fn()
}

// Size returns the number of slots.
func (p *WorkPool) Size() int {
	return cap(p.slots)
}

// Busy returns the number of slots currently running a task.
func (p *WorkPool) Busy() int {
	return cap(p.slots) - len(p.slots)
}

// Drops returns how many tasks were rejected.
func (p *WorkPool) Drops() uint64 {
	return p.drops.Load()
}

// PoolStats holds counters about pool usage
type PoolStats struct {
	Slots     int
	Busy      int
	Scheduled uint64
	Drops     uint64
	Panics    uint64
}

// Stats returns a snapshot of the pool counters.
func (p *WorkPool) Stats() PoolStats {
	return PoolStats{
		Slots:     p.Size(),
		Busy:      p.Busy(),
		Scheduled: p.scheduled.Load(),
		Drops:     p.drops.Load(),
		Panics:    p.panics.Load(),
	}
}

// Close rejects new tasks and waits for running ones.
func (p *WorkPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// logBufferSize is the initial capacity of a log transfer buffer, one
// FIFO window.
const logBufferSize = 512

// ByteBuffer pool - for assembling log transfers
type ByteBuffer struct {
	buf []byte
}

// maxPooledBuffer caps what is returned to the pool
const maxPooledBuffer = 64 * 1024

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{
			buf: make([]byte, 0, logBufferSize),
		}
	},
}

// GetByteBuffer gets a byte buffer from the pool
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0]
	return b
}

// PutByteBuffer returns a byte buffer to the pool
func PutByteBuffer(b *ByteBuffer) {
	if b == nil || cap(b.buf) > maxPooledBuffer {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Write appends bytes to the buffer
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Len returns the buffer length
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Reset clears the buffer
func (b *ByteBuffer) Reset() {
	b.buf = b.buf[:0]
}

// Grow ensures the buffer has capacity for n more bytes
func (b *ByteBuffer) Grow(n int) {
	if cap(b.buf)-len(b.buf) < n {
		newBuf := make([]byte, len(b.buf), cap(b.buf)*2+n)
		copy(newBuf, b.buf)
		b.buf = newBuf
	}
}
