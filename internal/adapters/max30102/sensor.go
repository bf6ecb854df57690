// Package max30102 drives the MAX30102 pulse oximeter over I2C.
package max30102

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"dharaflow/internal/ports"
)

// Register map.
const (
	regIntrEnable1  = 0x02
	regIntrEnable2  = 0x03
	regFIFOWrite    = 0x04
	regFIFOOverflow = 0x05
	regFIFORead     = 0x06
	regFIFOData     = 0x07
	regFIFOConfig   = 0x08
	regModeConfig   = 0x09
	regSPO2Config   = 0x0A
	regLED1PA       = 0x0C
	regLED2PA       = 0x0D
)

const (
	modeReset    = 0x40
	modeShutdown = 0x80
	modeSpO2     = 0x03
	ledCurrent   = 0x24 // ~7 mA drive on both LEDs
	sampleMask   = 0x3FFFF
)

type Config struct {
	Bus  string `yaml:"bus"`
	Addr int    `yaml:"addr"`
}

func (c *Config) ApplyDefaults() {
	if c.Bus == "" {
		c.Bus = "1"
	}
	if c.Addr == 0 {
		c.Addr = 0x57
	}
}

func (c *Config) Validate() error {
	if c.Addr <= 0 || c.Addr > 0x7F {
		return errors.New("addr must be a 7-bit i2c address")
	}
	return nil
}

// Sensor reads red/IR pairs from the part's FIFO. The bus is opened lazily
// in Start so a failed probe can be retried later without rebuilding the
// adapter; Read before a successful Start fails.
type Sensor struct {
	cfg Config

	mu  sync.Mutex
	bus i2c.BusCloser
	dev *i2c.Dev
}

func New(cfg Config) (*Sensor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sensor{cfg: cfg}, nil
}

// Start opens the bus if needed, resets and configures the part, then
// raises the LED currents and enters SpO2 mode.
func (s *Sensor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("i2c host init: %w", err)
		}
		bus, err := i2creg.Open(s.cfg.Bus)
		if err != nil {
			return fmt.Errorf("open i2c bus %q: %w", s.cfg.Bus, err)
		}
		s.bus = bus
		s.dev = &i2c.Dev{Addr: uint16(s.cfg.Addr), Bus: bus}
		if err := s.resetLocked(); err != nil {
			_ = s.bus.Close()
			s.teardownLocked()
			return err
		}
	}

	for _, w := range []struct{ reg, val byte }{
		{regLED1PA, ledCurrent},
		{regLED2PA, ledCurrent},
		{regModeConfig, modeSpO2},
	} {
		if err := s.writeLocked(w.reg, w.val); err != nil {
			return fmt.Errorf("max30102 start: %w", err)
		}
	}
	return nil
}

// Stop drops the LED currents and shuts the part down. The bus stays open
// for the next Start.
func (s *Sensor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Read returns one red/IR pair decoded from the 6-byte FIFO entry.
func (s *Sensor) Read() (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return 0, 0, errors.New("max30102: not started")
	}
	var buf [6]byte
	if err := s.dev.Tx([]byte{regFIFOData}, buf[:]); err != nil {
		return 0, 0, fmt.Errorf("max30102 fifo read: %w", err)
	}
	red := (uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])) & sampleMask
	ir := (uint32(buf[3])<<16 | uint32(buf[4])<<8 | uint32(buf[5])) & sampleMask
	return red, ir, nil
}

// Close powers the part down and releases the bus.
func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bus == nil {
		return nil
	}
	_ = s.stopLocked()
	err := s.bus.Close()
	s.teardownLocked()
	return err
}

func (s *Sensor) resetLocked() error {
	if err := s.writeLocked(regModeConfig, modeReset); err != nil {
		return fmt.Errorf("max30102 reset: %w", err)
	}
	time.Sleep(100 * time.Millisecond)

	for _, w := range []struct{ reg, val byte }{
		{regIntrEnable1, 0xC0},
		{regIntrEnable2, 0x00},
		{regFIFOWrite, 0x00},
		{regFIFOOverflow, 0x00},
		{regFIFORead, 0x00},
		{regFIFOConfig, 0x4F},
		{regSPO2Config, 0x27}, // 100 Hz, 18-bit ADC
		{regLED1PA, 0x00},
		{regLED2PA, 0x00},
		{regModeConfig, modeSpO2},
	} {
		if err := s.writeLocked(w.reg, w.val); err != nil {
			return fmt.Errorf("max30102 init reg 0x%02X: %w", w.reg, err)
		}
	}
	return nil
}

func (s *Sensor) stopLocked() error {
	if s.dev == nil {
		return nil
	}
	for _, w := range []struct{ reg, val byte }{
		{regLED1PA, 0x00},
		{regLED2PA, 0x00},
		{regModeConfig, modeShutdown},
	} {
		if err := s.writeLocked(w.reg, w.val); err != nil {
			return fmt.Errorf("max30102 stop: %w", err)
		}
	}
	return nil
}

func (s *Sensor) writeLocked(reg, val byte) error {
	return s.dev.Tx([]byte{reg, val}, nil)
}

func (s *Sensor) teardownLocked() {
	s.bus = nil
	s.dev = nil
}

var _ ports.Sensor = (*Sensor)(nil)
