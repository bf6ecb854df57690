package dharaflow

import (
	"dharaflow/internal/adapters/gpiopwm"
	"dharaflow/internal/adapters/max30102"
	"dharaflow/internal/adapters/opcua"
	"dharaflow/internal/app/config"
)

// Config re-exports the root configuration struct so embedding projects
// can construct or modify it programmatically.
type Config = config.Config

type (
	// DeviceConfig names the device instance.
	DeviceConfig = config.DeviceConfig
	// SessionDefaultsConfig holds the fallbacks applied when session
	// metadata is missing or unreadable.
	SessionDefaultsConfig = config.SessionConfig
	// SamplingConfig tunes the PPG sampler cadence and analysis window.
	SamplingConfig = config.SamplingConfig
	// TelemetryConfig tunes the vitals publish interval.
	TelemetryConfig = config.TelemetryConfig
	// CommandConfig tunes command polling and staleness rejection.
	CommandConfig = config.CommandConfig
	// PresenceConfig tunes the device heartbeat.
	PresenceConfig = config.PresenceConfig
	// SafetyConfig bounds pulse, temperature, and flow.
	SafetyConfig = config.SafetyConfig
	// SensorConfig selects and configures the PPG sensor driver.
	SensorConfig = config.SensorConfig
	// ActuatorConfig selects and configures the delivery actuator driver.
	ActuatorConfig = config.ActuatorConfig
	// RedisConfig points at the clinic command/session store.
	RedisConfig = config.RedisConfig
	// NATSConfig points at the telemetry and alert bus.
	NATSConfig = config.NATSConfig
	// TimescaleConfig configures the vitals history sink.
	TimescaleConfig = config.TimescaleConfig
	// SpoolConfig enables the on-disk store-and-forward telemetry buffer.
	SpoolConfig = config.SpoolConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// Duration parses "20ms"-style strings from yaml.
	Duration = config.Duration

	// MAX30102Config holds the i2c details of the pulse oximeter.
	MAX30102Config = max30102.Config
	// GPIOConfig holds the PWM pin assignment of the pump and heater.
	GPIOConfig = gpiopwm.Config
	// OPCUAConfig holds the endpoint and node ids of the dosing unit.
	OPCUAConfig = opcua.Config
)

// Known driver names for SensorConfig and ActuatorConfig.
const (
	SensorSynthetic = config.SensorSynthetic
	SensorMAX30102  = config.SensorMAX30102

	ActuatorLog   = config.ActuatorLog
	ActuatorGPIO  = config.ActuatorGPIO
	ActuatorOPCUA = config.ActuatorOPCUA
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
