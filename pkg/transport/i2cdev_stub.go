// i2c-dev stub for non-Linux platforms.

//go:build !linux

package transport

import "errors"

// I2CDev is unavailable outside Linux.
type I2CDev struct{}

// OpenI2CDev always fails on this platform.
func OpenI2CDev(path string, addr uint16) (*I2CDev, error) {
	return nil, errors.New("transport: i2c-dev is only supported on linux")
}

func (d *I2CDev) Write(addr uint8, data []byte) error { return ErrClosed }
func (d *I2CDev) Read(addr uint8, buf []byte) error   { return ErrClosed }
func (d *I2CDev) Close() error                        { return nil }
