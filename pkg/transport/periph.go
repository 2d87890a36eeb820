package transport

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi"
)

// PeriphBus adapts a periph.io connection to Bus. The register address
// is sent as the first byte of every transaction; for SPI parts ReadFlag
// is OR'ed into the address byte on reads.
type PeriphBus struct {
	c        conn.Conn
	ReadFlag uint8
	closer   func() error
}

// NewPeriph wraps an already opened periph connection.
func NewPeriph(c conn.Conn) *PeriphBus {
	return &PeriphBus{c: c}
}

// NewPeriphI2C binds a periph I2C bus to a device address.
func NewPeriphI2C(bus i2c.Bus, addr uint16) *PeriphBus {
	return &PeriphBus{c: &i2c.Dev{Addr: addr, Bus: bus}}
}

// OpenPeriphI2C opens a registered periph I2C bus by name.
func OpenPeriphI2C(name string, addr uint16) (*PeriphBus, error) {
	bc, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	b := NewPeriphI2C(bc, addr)
	b.closer = bc.Close
	return b, nil
}

// NewPeriphSPI wraps an SPI connection. The MCU's read flag is 0x80.
func NewPeriphSPI(c spi.Conn) *PeriphBus {
	return &PeriphBus{c: c, ReadFlag: 0x80}
}

// Write implements Bus.
func (p *PeriphBus) Write(addr uint8, data []byte) error {
	w := make([]byte, 1+len(data))
	w[0] = addr
	copy(w[1:], data)
	return p.tx(w, nil)
}

// Read implements Bus.
func (p *PeriphBus) Read(addr uint8, buf []byte) error {
	if p.c.Duplex() == conn.Full {
		// full duplex: clock out the address then dummy bytes
		w := make([]byte, 1+len(buf))
		w[0] = addr | p.ReadFlag
		r := make([]byte, len(w))
		if err := p.tx(w, r); err != nil {
			return err
		}
		copy(buf, r[1:])
		return nil
	}
	return p.tx([]byte{addr | p.ReadFlag}, buf)
}

func (p *PeriphBus) tx(w, r []byte) error {
	if err := p.c.Tx(w, r); err != nil {
		return fmt.Errorf("%s: %w", p.c, err)
	}
	return nil
}

// String returns the underlying connection name.
func (p *PeriphBus) String() string {
	return p.c.String()
}

// Close releases the bus if it was opened by this package.
func (p *PeriphBus) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
