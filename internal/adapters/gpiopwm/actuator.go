// Package gpiopwm drives the pump and heater through PWM pins.
package gpiopwm

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

type Config struct {
	FlowPin string `yaml:"flow_pin"`
	TempPin string `yaml:"temp_pin"`
	FreqHz  int    `yaml:"freq_hz"`
}

func (c *Config) ApplyDefaults() {
	if c.FlowPin == "" {
		c.FlowPin = "GPIO17"
	}
	if c.TempPin == "" {
		c.TempPin = "GPIO27"
	}
	if c.FreqHz <= 0 {
		c.FreqHz = 100
	}
}

func (c *Config) Validate() error {
	if c.FlowPin == "" || c.TempPin == "" {
		return errors.New("flow_pin and temp_pin are required")
	}
	return nil
}

// Actuator maps setpoints to PWM duty: flow scales linearly to full pump
// output, temperature scales over the heater's 30–50 °C span. Out-of-range
// requests are clamped, hardware errors are logged and absorbed.
type Actuator struct {
	cfg  Config
	mu   sync.Mutex
	flow gpio.PinIO
	temp gpio.PinIO
}

func New(cfg Config) (*Actuator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", err)
	}
	flow := gpioreg.ByName(cfg.FlowPin)
	if flow == nil {
		return nil, fmt.Errorf("gpio pin %q not found", cfg.FlowPin)
	}
	temp := gpioreg.ByName(cfg.TempPin)
	if temp == nil {
		return nil, fmt.Errorf("gpio pin %q not found", cfg.TempPin)
	}
	return &Actuator{cfg: cfg, flow: flow, temp: temp}, nil
}

func (a *Actuator) SetFlow(mlPerMin float64) {
	a.apply(a.flow, a.cfg.FlowPin, clamp01(mlPerMin/domain.FlowOutputMax))
}

func (a *Actuator) SetTemp(celsius float64) {
	span := domain.TempOutputMax - domain.TempOutputMin
	a.apply(a.temp, a.cfg.TempPin, clamp01((celsius-domain.TempOutputMin)/span))
}

func (a *Actuator) Off() {
	a.apply(a.flow, a.cfg.FlowPin, 0)
	a.apply(a.temp, a.cfg.TempPin, 0)
}

// Close halts both pins.
func (a *Actuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.flow.Halt(), a.temp.Halt())
}

func (a *Actuator) apply(pin gpio.PinIO, name string, duty float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := gpio.Duty(duty * float64(gpio.DutyMax))
	if err := pin.PWM(d, physic.Frequency(a.cfg.FreqHz)*physic.Hertz); err != nil {
		log.Printf("gpiopwm: %s pwm: %v", name, err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ ports.Actuator = (*Actuator)(nil)
