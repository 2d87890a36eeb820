// Package notify provides event sinks for the hub driver: a structured
// log sink, a fan-out to several sinks and a websocket broadcaster.
package notify

import (
	"sync"

	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/sensor"
)

// LogNotifier writes every event to a logger.
type LogNotifier struct {
	log   *log.Logger
	level log.LogLevel
}

// NewLogNotifier logs events at level through l, or through the "events"
// logger when l is nil.
func NewLogNotifier(l *log.Logger, level log.LogLevel) *LogNotifier {
	if l == nil {
		l = log.GetLogger("events")
	}
	return &LogNotifier{log: l, level: level}
}

// Notify implements sensor.Notifier.
func (n *LogNotifier) Notify(e sensor.Event) {
	if !n.log.Enabled(n.level) {
		return
	}
	sec, nsec := e.Split()
	entry := n.log.WithFields(log.Fields{
		"stream": e.Stream.String(),
		"values": e.Values,
		"sec":    sec,
		"nsec":   nsec,
	})
	switch n.level {
	case log.TRACE:
		entry.Trace("event")
	case log.DEBUG:
		entry.Debug("event")
	case log.WARN:
		entry.Warn("event")
	case log.ERROR:
		entry.Error("event")
	default:
		entry.Info("event")
	}
}

// Fanout delivers each event to every registered notifier in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []sensor.Notifier
}

// NewFanout creates a fan-out over sinks; nil sinks are skipped.
func NewFanout(sinks ...sensor.Notifier) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add registers another sink.
func (f *Fanout) Add(n sensor.Notifier) {
	if n == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, n)
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Notify implements sensor.Notifier.
func (f *Fanout) Notify(e sensor.Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(e)
	}
}
