// Package clocksync reconciles batched sample timestamps with host time.
//
// Every timestamp family keeps a committed base (the host time of its most
// recent reconstructed sample) and a pending base sampled when activation
// or a log delimiter starts. Replayed log records carry only a small offset
// counter in task cycles; OffsetToTimestamp chains them off the committed
// base and re-commits the result, so timestamps within a family never go
// backwards.
package clocksync

import (
	"sync"
	"time"

	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

const (
	// FlashAdjustRatio bounds the drift, as a fraction of the task period,
	// that a flush may absorb by moving half way towards the pending base.
	FlashAdjustRatio = 0.8

	// DefaultTaskPeriodUs is assumed until the arbiter programs a period.
	DefaultTaskPeriodUs = 200000
)

// Clock is the host time source in nanoseconds.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

// Now calls f.
func (f ClockFunc) Now() int64 { return f() }

// MonotonicClock reports nanoseconds since it was created.
type MonotonicClock struct {
	startTime time.Time
}

// NewMonotonicClock creates a monotonic time source.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{startTime: time.Now()}
}

// Now returns the elapsed monotonic time in nanoseconds.
func (mc *MonotonicClock) Now() int64 {
	return int64(time.Since(mc.startTime))
}

// Split returns ns as whole seconds and the remaining nanoseconds.
func Split(ns int64) (sec, nsec int32) {
	return int32(ns / int64(time.Second)), int32(ns % int64(time.Second))
}

type familyState struct {
	committed int64
	pending   int64
}

// Reconciler holds the per-family timestamp bases.
type Reconciler struct {
	mu sync.Mutex

	families     [sensor.NumFamilies]familyState
	taskPeriodUs uint32

	adjusts uint64
	resets  uint64
}

// New creates a reconciler with all bases at zero.
func New() *Reconciler {
	return &Reconciler{taskPeriodUs: DefaultTaskPeriodUs}
}

// SetTaskPeriod records the shared sampling period programmed on the MCU.
func (r *Reconciler) SetTaskPeriod(us uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if us == 0 || us == protocol.InfinitePeriod {
		return
	}
	r.taskPeriodUs = us
}

// TaskPeriod returns the recorded shared sampling period.
func (r *Reconciler) TaskPeriod() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.taskPeriodUs
}

// CycleNs returns the nominal length of one task cycle, quantized to the
// MCU tick granularity.
func (r *Reconciler) CycleNs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cycleNsLocked()
}

func (r *Reconciler) cycleNsLocked() int64 {
	return int64(protocol.QuantizePeriod(r.taskPeriodUs)) * int64(time.Microsecond)
}

// SetPending samples t as the pending base of every family in fm.
func (r *Reconciler) SetPending(fm sensor.FamilyMask, t int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for f := sensor.Family(0); f < sensor.NumFamilies; f++ {
		if fm.Has(f) {
			r.families[f].pending = t
		}
	}
}

// Commit promotes the pending base of every family in fm.
func (r *Reconciler) Commit(fm sensor.FamilyMask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for f := sensor.Family(0); f < sensor.NumFamilies; f++ {
		if fm.Has(f) {
			r.families[f].committed = r.families[f].pending
		}
	}
}

// CommitAt sets both bases of every family in fm to t.
func (r *Reconciler) CommitAt(fm sensor.FamilyMask, t int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for f := sensor.Family(0); f < sensor.NumFamilies; f++ {
		if fm.Has(f) {
			r.families[f].committed = t
			r.families[f].pending = t
		}
	}
}

// FlashAdjust commits the pending bases of fm after a flush.
//
// When periodsMatch is set and the reference family's committed base is
// within FlashAdjustRatio task periods of its pending base, every family
// moves only half way towards its pending base. Otherwise the pending
// bases are committed outright. It reports whether the half-way
// adjustment was applied.
func (r *Reconciler) FlashAdjust(fm sensor.FamilyMask, ref sensor.Family, periodsMatch bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	adjust := false
	if periodsMatch && ref < sensor.NumFamilies {
		st := r.families[ref]
		diff := st.pending - st.committed
		if diff < 0 {
			diff = -diff
		}
		limit := int64(FlashAdjustRatio * float64(r.cycleNsLocked()))
		adjust = diff <= limit
	}

	for f := sensor.Family(0); f < sensor.NumFamilies; f++ {
		if !fm.Has(f) {
			continue
		}
		st := &r.families[f]
		if adjust {
			st.committed += (st.pending - st.committed) / 2
		} else {
			st.committed = st.pending
		}
	}
	if adjust {
		r.adjusts++
	} else {
		r.resets++
	}
	return adjust
}

// OffsetToTimestamp converts a count of task cycles past the committed
// base of f into an absolute timestamp and commits it as the new base.
func (r *Reconciler) OffsetToTimestamp(f sensor.Family, cycles uint32) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f >= sensor.NumFamilies {
		return 0
	}
	st := &r.families[f]
	st.committed += int64(cycles) * r.cycleNsLocked()
	return st.committed
}

// Committed returns the committed base of f.
func (r *Reconciler) Committed(f sensor.Family) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f >= sensor.NumFamilies {
		return 0
	}
	return r.families[f].committed
}

// Pending returns the pending base of f.
func (r *Reconciler) Pending(f sensor.Family) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f >= sensor.NumFamilies {
		return 0
	}
	return r.families[f].pending
}

// Stats returns statistics about the reconciler.
type Stats struct {
	TaskPeriodUs uint32
	CycleNs      int64
	Adjusts      uint64
	Resets       uint64
}

// GetStats returns current statistics.
func (r *Reconciler) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		TaskPeriodUs: r.taskPeriodUs,
		CycleNs:      r.cycleNsLocked(),
		Adjusts:      r.adjusts,
		Resets:       r.resets,
	}
}
