package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dharaflow/internal/adapters/gpiopwm"
	"dharaflow/internal/adapters/max30102"
	"dharaflow/internal/adapters/opcua"
	"dharaflow/internal/domain"
)

// Duration wraps time.Duration so yaml files can say "20ms" or "45m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"45m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Session   SessionConfig   `yaml:"session"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Command   CommandConfig   `yaml:"command"`
	Presence  PresenceConfig  `yaml:"presence"`
	Safety    SafetyConfig    `yaml:"safety"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Spool     SpoolConfig     `yaml:"spool"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DeviceConfig struct {
	ID string `yaml:"id"`
}

// SessionConfig holds the fallbacks applied when a session document is
// missing or unreadable.
type SessionConfig struct {
	DefaultDuration Duration `yaml:"default_duration"`
	DefaultMode     string   `yaml:"default_mode"`
	DefaultFlow     float64  `yaml:"default_flow"`
	DefaultTemp     float64  `yaml:"default_temp"`
}

type SamplingConfig struct {
	SensorInterval  Duration `yaml:"sensor_interval"`
	IdleInterval    Duration `yaml:"idle_interval"`
	Window          Duration `yaml:"window"`
	ReprobeInterval Duration `yaml:"reprobe_interval"`
	SynthBPM        float64  `yaml:"synth_bpm"`
}

type TelemetryConfig struct {
	Interval Duration `yaml:"interval"`
}

type CommandConfig struct {
	IdlePoll  Duration `yaml:"idle_poll"`
	Staleness Duration `yaml:"staleness"`
}

type PresenceConfig struct {
	Heartbeat Duration `yaml:"heartbeat"`
	TTL       Duration `yaml:"ttl"`
}

type SafetyConfig struct {
	PulseMin float64 `yaml:"pulse_min"`
	PulseMax float64 `yaml:"pulse_max"`
	TempMax  float64 `yaml:"temp_max"`
	FlowMin  float64 `yaml:"flow_min"`
}

func (c SafetyConfig) Limits() domain.SafetyLimits {
	return domain.SafetyLimits{
		PulseMin: c.PulseMin,
		PulseMax: c.PulseMax,
		TempMax:  c.TempMax,
		FlowMin:  c.FlowMin,
	}
}

const (
	SensorSynthetic = "synthetic"
	SensorMAX30102  = "max30102"

	ActuatorLog   = "log"
	ActuatorGPIO  = "gpio"
	ActuatorOPCUA = "opcua"
)

type SensorConfig struct {
	Driver   string          `yaml:"driver"`
	MAX30102 max30102.Config `yaml:"max30102"`
}

type ActuatorConfig struct {
	Driver string         `yaml:"driver"`
	GPIO   gpiopwm.Config `yaml:"gpio"`
	OPCUA  opcua.Config   `yaml:"opcua"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// SpoolConfig enables the on-disk store-and-forward buffer for telemetry
// that could not be published. An empty dir disables it.
type SpoolConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	def := domain.DefaultSessionConfig()
	if c.Session.DefaultDuration == 0 {
		c.Session.DefaultDuration = Duration(def.Duration)
	}
	if c.Session.DefaultMode == "" {
		c.Session.DefaultMode = string(def.Mode)
	}
	if c.Session.DefaultFlow == 0 {
		c.Session.DefaultFlow = def.InitialFlow
	}
	if c.Session.DefaultTemp == 0 {
		c.Session.DefaultTemp = def.InitialTemp
	}

	if c.Sampling.SensorInterval == 0 {
		c.Sampling.SensorInterval = Duration(20 * time.Millisecond)
	}
	if c.Sampling.IdleInterval == 0 {
		c.Sampling.IdleInterval = Duration(500 * time.Millisecond)
	}
	if c.Sampling.Window == 0 {
		c.Sampling.Window = Duration(12 * time.Second)
	}
	if c.Sampling.ReprobeInterval == 0 {
		c.Sampling.ReprobeInterval = Duration(10 * time.Second)
	}
	if c.Sampling.SynthBPM == 0 {
		c.Sampling.SynthBPM = 72
	}

	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = Duration(2 * time.Second)
	}
	if c.Command.IdlePoll == 0 {
		c.Command.IdlePoll = Duration(time.Second)
	}
	if c.Command.Staleness == 0 {
		c.Command.Staleness = Duration(300 * time.Second)
	}
	if c.Presence.Heartbeat == 0 {
		c.Presence.Heartbeat = Duration(5 * time.Second)
	}
	if c.Presence.TTL == 0 {
		c.Presence.TTL = Duration(15 * time.Second)
	}

	lim := domain.DefaultSafetyLimits()
	if c.Safety.PulseMin == 0 {
		c.Safety.PulseMin = lim.PulseMin
	}
	if c.Safety.PulseMax == 0 {
		c.Safety.PulseMax = lim.PulseMax
	}
	if c.Safety.TempMax == 0 {
		c.Safety.TempMax = lim.TempMax
	}
	if c.Safety.FlowMin == 0 {
		c.Safety.FlowMin = lim.FlowMin
	}

	if c.Sensor.Driver == "" {
		c.Sensor.Driver = SensorMAX30102
	}
	if c.Actuator.Driver == "" {
		c.Actuator.Driver = ActuatorGPIO
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = "dhara"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "dhara"
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "vitals"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	c.Sensor.MAX30102.ApplyDefaults()
	c.Actuator.GPIO.ApplyDefaults()
	c.Actuator.OPCUA.ApplyDefaults()
}

func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if _, ok := domain.ParseMode(c.Session.DefaultMode); !ok {
		return fmt.Errorf("session.default_mode %q is not a known mode", c.Session.DefaultMode)
	}

	switch c.Sensor.Driver {
	case SensorSynthetic:
	case SensorMAX30102:
		if err := c.Sensor.MAX30102.Validate(); err != nil {
			return fmt.Errorf("sensor.max30102: %w", err)
		}
	default:
		return fmt.Errorf("sensor.driver %q is not a known driver", c.Sensor.Driver)
	}

	switch c.Actuator.Driver {
	case ActuatorLog:
	case ActuatorGPIO:
		if err := c.Actuator.GPIO.Validate(); err != nil {
			return fmt.Errorf("actuator.gpio: %w", err)
		}
	case ActuatorOPCUA:
		if err := c.Actuator.OPCUA.Validate(); err != nil {
			return fmt.Errorf("actuator.opcua: %w", err)
		}
	default:
		return fmt.Errorf("actuator.driver %q is not a known driver", c.Actuator.Driver)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.NATS.URL == "" && c.Timescale.ConnString == "" {
		return fmt.Errorf("at least one of nats.url or timescale.conn_string is required")
	}
	if c.Safety.PulseMin >= c.Safety.PulseMax {
		return fmt.Errorf("safety.pulse_min must be below safety.pulse_max")
	}
	return nil
}

// SessionDefaults converts the configured fallbacks into the domain shape
// the engine applies on metadata failures.
func (c *Config) SessionDefaults() domain.SessionConfig {
	mode, _ := domain.ParseMode(c.Session.DefaultMode)
	return domain.SessionConfig{
		Duration:    c.Session.DefaultDuration.Std(),
		Mode:        mode,
		InitialFlow: c.Session.DefaultFlow,
		InitialTemp: c.Session.DefaultTemp,
	}
}
