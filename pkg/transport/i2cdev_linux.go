//go:build linux

package transport

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// i2c-dev ioctl selecting the slave address for plain read/write
const ioctlI2CSlave = 0x0703

// I2CDev talks to the MCU through a Linux /dev/i2c-N character device.
type I2CDev struct {
	mu   sync.Mutex
	fd   int
	path string
	addr uint16
}

// OpenI2CDev opens path and selects the slave address.
func OpenI2CDev(path string, addr uint16) (*I2CDev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, ioctlI2CSlave, int(addr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set i2c address 0x%02x: %w", addr, err)
	}
	return &I2CDev{fd: fd, path: path, addr: addr}, nil
}

// Write implements Bus.
func (d *I2CDev) Write(addr uint8, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return ErrClosed
	}
	w := make([]byte, 1+len(data))
	w[0] = addr
	copy(w[1:], data)
	return d.write(w)
}

// Read implements Bus.
func (d *I2CDev) Read(addr uint8, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return ErrClosed
	}
	if err := d.write([]byte{addr}); err != nil {
		return err
	}
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return mapErrno(err)
	}
	if n != len(buf) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(buf))
	}
	return nil
}

func (d *I2CDev) write(w []byte) error {
	n, err := unix.Write(d.fd, w)
	if err != nil {
		return mapErrno(err)
	}
	if n != len(w) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(w))
	}
	return nil
}

// mapErrno turns NAK style errnos into ErrDeviceBusy.
func mapErrno(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EREMOTEIO) {
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	}
	return err
}

// Close closes the device file.
func (d *I2CDev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func (d *I2CDev) String() string {
	return fmt.Sprintf("%s@0x%02x", d.path, d.addr)
}
