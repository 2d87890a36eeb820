// Package transport is the register bus boundary of the hub driver.
//
// A Bus moves raw bytes to and from register addresses on the MCU. The
// Retrying wrapper hides transient "device busy" signals from callers so
// the command layer only ever sees hard transport failures.
package transport

import (
	"errors"
	"sync"
	"time"

	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/log"
)

// ErrDeviceBusy is returned by a Bus when the device NAKs or is mid
// transaction. It is the only error Retrying retries.
var ErrDeviceBusy = errors.New("transport: device busy")

// ErrClosed is returned after the bus has been closed.
var ErrClosed = errors.New("transport: bus closed")

// Bus is a register-addressed byte transport (I2C or SPI).
type Bus interface {
	Write(addr uint8, data []byte) error
	Read(addr uint8, buf []byte) error
}

// RetryPolicy bounds transport-level retries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used when a zero policy is given.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 100 * time.Microsecond}

// Retrying serialises access to a Bus and retries busy transfers.
type Retrying struct {
	mu      sync.Mutex
	bus     Bus
	policy  RetryPolicy
	log     *log.Logger
	sleep   func(time.Duration)
	onRetry func(op string)
}

// NewRetrying wraps bus with the given retry policy.
func NewRetrying(bus Bus, policy RetryPolicy) *Retrying {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy
	}
	return &Retrying{
		bus:    bus,
		policy: policy,
		log:    log.GetLogger("transport"),
		sleep:  time.Sleep,
	}
}

// OnRetry installs a hook called before every retry.
func (r *Retrying) OnRetry(fn func(op string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRetry = fn
}

// SetSleep replaces the backoff sleep (tests).
func (r *Retrying) SetSleep(fn func(time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleep = fn
}

// Write implements Bus.
func (r *Retrying) Write(addr uint8, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Frame("write", addr, data)
	return r.retry("write", func() error { return r.bus.Write(addr, data) })
}

// Read implements Bus.
func (r *Retrying) Read(addr uint8, buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.retry("read", func() error { return r.bus.Read(addr, buf) })
	if err == nil {
		r.log.Frame("read", addr, buf)
	}
	return err
}

func (r *Retrying) retry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDeviceBusy) {
			return huberrors.TransportError(op, err)
		}
		if attempt < r.policy.Attempts {
			if r.onRetry != nil {
				r.onRetry(op)
			}
			r.sleep(r.policy.Backoff)
		}
	}
	return huberrors.TransportError(op, err).SetContext("attempts", r.policy.Attempts)
}

// Close closes the wrapped bus when it supports closing.
func (r *Retrying) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.bus.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
