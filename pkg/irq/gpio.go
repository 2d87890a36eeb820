package irq

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// edgePoll bounds each edge wait so Close is noticed.
const edgePoll = 100 * time.Millisecond

// GPIOLine is the hub interrupt pin. By default the MCU drives it low
// while an interrupt is pending.
type GPIOLine struct {
	*SoftLine
	pin    gpio.PinIn
	active gpio.Level

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// OpenGPIO opens a registered pin by name. An active-high line is
// watched for rising edges instead of falling ones.
func OpenGPIO(name string, pullup, activeHigh bool) (*GPIOLine, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("irq: unknown gpio %q", name)
	}
	pull := gpio.Float
	if pullup {
		pull = gpio.PullUp
	}
	return newGPIOLine(p, pull, activeHigh)
}

// NewGPIOLine configures an active-low pin with pull-up for falling-edge
// detection.
func NewGPIOLine(pin gpio.PinIn) (*GPIOLine, error) {
	return newGPIOLine(pin, gpio.PullUp, false)
}

func newGPIOLine(pin gpio.PinIn, pull gpio.Pull, activeHigh bool) (*GPIOLine, error) {
	edge, active := gpio.FallingEdge, gpio.Low
	if activeHigh {
		edge, active = gpio.RisingEdge, gpio.High
	}
	if err := pin.In(pull, edge); err != nil {
		return nil, fmt.Errorf("irq: configure %s: %w", pin, err)
	}
	return &GPIOLine{
		SoftLine: NewSoftLine(),
		pin:      pin,
		active:   active,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start attaches handler and begins watching the pin. It does nothing
// after the first call or once the line is closed.
func (g *GPIOLine) Start(handler func()) {
	g.Attach(handler)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || g.closed {
		return
	}
	g.started = true
	go g.watch()
}

func (g *GPIOLine) watch() {
	defer close(g.done)
	for {
		select {
		case <-g.stop:
			return
		default:
		}
		if g.pin.WaitForEdge(edgePoll) {
			g.Trigger()
		}
	}
}

// Enable implements Line. A pin still held low is serviced again.
func (g *GPIOLine) Enable() {
	g.SoftLine.Enable()
	if g.pin.Read() == g.active {
		g.Trigger()
	}
}

// Close stops the watcher.
func (g *GPIOLine) Close() error {
	g.mu.Lock()
	started := g.started
	if !g.closed {
		g.closed = true
		close(g.stop)
	}
	g.mu.Unlock()
	if started {
		<-g.done
	}
	return g.pin.In(gpio.PullNoChange, gpio.NoEdge)
}
