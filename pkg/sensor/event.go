package sensor

import "fmt"

// Event is one decoded sensor sample or detection.
//
// Values holds the fixed per-stream layout (axes, quaternion components,
// accuracy, counts). Timestamp is host monotonic time in nanoseconds.
type Event struct {
	Stream    Stream
	Values    []int32
	Timestamp int64
}

// Split returns the timestamp as seconds and nanoseconds.
func (e Event) Split() (sec, nsec int32) {
	return int32(e.Timestamp / 1e9), int32(e.Timestamp % 1e9)
}

// Array returns the delivery layout: the values followed by the
// timestamp seconds and nanoseconds.
func (e Event) Array() []int32 {
	sec, nsec := e.Split()
	out := make([]int32, 0, len(e.Values)+2)
	out = append(out, e.Values...)
	return append(out, sec, nsec)
}

func (e Event) String() string {
	return fmt.Sprintf("%s%v@%d", e.Stream, e.Values, e.Timestamp)
}

// Notifier receives decoded events. Implementations must not block for
// long; they are called from the driver's deferred work.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})
