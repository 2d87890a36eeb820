package irq

import (
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestGPIOLineFiresOnEdge(t *testing.T) {
	pin := &gpiotest.Pin{N: "HUB_INT", L: gpio.High, EdgesChan: make(chan gpio.Level)}
	line, err := NewGPIOLine(pin)
	if err != nil {
		t.Fatalf("NewGPIOLine: %v", err)
	}

	fired := make(chan struct{}, 4)
	line.Start(func() { fired <- struct{}{} })
	defer line.Close()

	pin.EdgesChan <- gpio.High
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("edge did not reach the handler")
	}
}

func TestGPIOLineDeferredWhileDisabled(t *testing.T) {
	pin := &gpiotest.Pin{N: "HUB_INT", L: gpio.High, EdgesChan: make(chan gpio.Level)}
	line, err := NewGPIOLine(pin)
	if err != nil {
		t.Fatalf("NewGPIOLine: %v", err)
	}
	fired := make(chan struct{}, 4)
	line.Start(func() { fired <- struct{}{} })
	defer line.Close()

	line.Disable()
	pin.EdgesChan <- gpio.High
	select {
	case <-fired:
		t.Fatal("disabled line fired")
	case <-time.After(20 * time.Millisecond):
	}

	line.Enable()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("pending edge not delivered on enable")
	}
}

func TestGPIOLineActiveHighLevelRetriggers(t *testing.T) {
	pin := &gpiotest.Pin{N: "HUB_INT", L: gpio.High, EdgesChan: make(chan gpio.Level)}
	line, err := newGPIOLine(pin, gpio.Float, true)
	if err != nil {
		t.Fatalf("newGPIOLine: %v", err)
	}
	fired := make(chan struct{}, 4)
	line.Start(func() { fired <- struct{}{} })
	defer line.Close()

	// level still asserted when the bottom half unmasks the line
	line.Disable()
	line.Enable()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("asserted level not serviced on enable")
	}
}

func TestGPIOLineStartCloseRace(t *testing.T) {
	pin := &gpiotest.Pin{N: "HUB_INT", L: gpio.High, EdgesChan: make(chan gpio.Level)}
	line, err := NewGPIOLine(pin)
	if err != nil {
		t.Fatalf("NewGPIOLine: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		line.Start(func() {})
	}()
	go func() {
		defer wg.Done()
		line.Close()
	}()
	wg.Wait()
	if err := line.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestGPIOLineStartAfterClose(t *testing.T) {
	pin := &gpiotest.Pin{N: "HUB_INT", L: gpio.High, EdgesChan: make(chan gpio.Level)}
	line, err := NewGPIOLine(pin)
	if err != nil {
		t.Fatalf("NewGPIOLine: %v", err)
	}
	if err := line.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	line.Start(func() { t.Error("closed line fired") })
	if line.started {
		t.Error("watcher started on a closed line")
	}

	select {
	case pin.EdgesChan <- gpio.High:
		t.Error("edge consumed after close")
	case <-time.After(20 * time.Millisecond):
	}
}
