package irq

import "sync"

// Line is the hub's interrupt line as seen by the dispatcher. The line is
// level triggered: an interrupt raised while it is disabled is delivered
// when it is enabled again.
type Line interface {
	Enable()
	Disable()
}

// SoftLine is a Line driven by software, used with the simulator and by
// GPIOLine.
type SoftLine struct {
	mu      sync.Mutex
	enabled bool
	pending bool
	handler func()
}

// NewSoftLine returns an enabled line with no handler.
func NewSoftLine() *SoftLine {
	return &SoftLine{enabled: true}
}

// Attach installs the top-half handler.
func (l *SoftLine) Attach(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = fn
}

// Trigger raises the line.
func (l *SoftLine) Trigger() {
	l.mu.Lock()
	if !l.enabled || l.handler == nil {
		l.pending = true
		l.mu.Unlock()
		return
	}
	fn := l.handler
	l.mu.Unlock()
	fn()
}

// Enable implements Line.
func (l *SoftLine) Enable() {
	l.mu.Lock()
	l.enabled = true
	fire := l.pending && l.handler != nil
	l.pending = false
	fn := l.handler
	l.mu.Unlock()
	if fire {
		fn()
	}
}

// Disable implements Line.
func (l *SoftLine) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
}

// Enabled reports whether the line is enabled.
func (l *SoftLine) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}
