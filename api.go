package dharaflow

import (
	base "dharaflow/pkg/dharaflow"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrCommanderClosed   = base.ErrCommanderClosed
)

// Type aliases so consumers can import dharaflow directly.
type (
	Config                = base.Config
	DeviceConfig          = base.DeviceConfig
	SessionDefaultsConfig = base.SessionDefaultsConfig
	SamplingConfig        = base.SamplingConfig
	TelemetryConfig       = base.TelemetryConfig
	CommandConfig         = base.CommandConfig
	PresenceConfig        = base.PresenceConfig
	SafetyConfig          = base.SafetyConfig
	SensorConfig          = base.SensorConfig
	ActuatorConfig        = base.ActuatorConfig
	RedisConfig           = base.RedisConfig
	NATSConfig            = base.NATSConfig
	TimescaleConfig       = base.TimescaleConfig
	SpoolConfig           = base.SpoolConfig
	MetricsConfig         = base.MetricsConfig
	Duration              = base.Duration
	MAX30102Config        = base.MAX30102Config
	GPIOConfig            = base.GPIOConfig
	OPCUAConfig           = base.OPCUAConfig
	Runtime               = base.Runtime
	Option                = base.Option
	LocalCommander        = base.LocalCommander
	Command               = base.Command
	AckResult             = base.AckResult
	TelemetryRecord       = base.TelemetryRecord
	Alert                 = base.Alert
	SessionSnapshot       = base.SessionSnapshot
	SessionInfo           = base.SessionInfo
	SessionConfig         = base.SessionConfig
	PulseEstimate         = base.PulseEstimate
	SafetyLimits          = base.SafetyLimits
	Mode                  = base.Mode
	Sensor                = base.Sensor
	Actuator              = base.Actuator
	CommandSource         = base.CommandSource
	SessionStore          = base.SessionStore
	TelemetrySink         = base.TelemetrySink
	AlertSink             = base.AlertSink
	Presence              = base.Presence
	Observability         = base.Observability
	Field                 = base.Field
	Clock                 = base.Clock
)

// Session modes.
const (
	ModeManual = base.ModeManual
	ModeAuto   = base.ModeAuto
)

// Command names accepted by the engine.
const (
	CmdStartSession  = base.CmdStartSession
	CmdStopSession   = base.CmdStopSession
	CmdEmergencyStop = base.CmdEmergencyStop
	CmdSetFlow       = base.CmdSetFlow
	CmdSetTemp       = base.CmdSetTemp
	CmdSetMode       = base.CmdSetMode
	CmdSetPower      = base.CmdSetPower
)

// Rejection reasons carried in command acks.
const (
	ReasonStale         = base.ReasonStale
	ReasonAlreadyActive = base.ReasonAlreadyActive
	ReasonNoSession     = base.ReasonNoSession
	ReasonInvalidMode   = base.ReasonInvalidMode
	ReasonMissingValue  = base.ReasonMissingValue
	ReasonUnsafeValue   = base.ReasonUnsafeValue
	ReasonUnknown       = base.ReasonUnknown
)

// Session statuses written back to the session store.
const (
	StatusActive           = base.StatusActive
	StatusCompleted        = base.StatusCompleted
	StatusStoppedEmergency = base.StatusStoppedEmergency
)

// Configured adapter drivers.
const (
	SensorSynthetic = base.SensorSynthetic
	SensorMAX30102  = base.SensorMAX30102
	ActuatorLog     = base.ActuatorLog
	ActuatorGPIO    = base.ActuatorGPIO
	ActuatorOPCUA   = base.ActuatorOPCUA
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSensor(s Sensor) Option {
	return base.WithSensor(s)
}

func WithActuator(a Actuator) Option {
	return base.WithActuator(a)
}

func WithCommandSource(c CommandSource) Option {
	return base.WithCommandSource(c)
}

func WithSessionStore(s SessionStore) Option {
	return base.WithSessionStore(s)
}

func WithPresence(p Presence) Option {
	return base.WithPresence(p)
}

func WithTelemetrySink(s TelemetrySink) Option {
	return base.WithTelemetrySink(s)
}

func WithAlertSink(s AlertSink) Option {
	return base.WithAlertSink(s)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithClock(c Clock) Option {
	return base.WithClock(c)
}

// Sink adapters.
func NewCallbackSink(name string, fn func(TelemetryRecord) error) TelemetrySink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (TelemetrySink, <-chan TelemetryRecord, func()) {
	return base.NewChannelSink(name, buffer)
}

func NewFanOutSink(sinks ...TelemetrySink) TelemetrySink {
	return base.NewFanOutSink(sinks...)
}

func NewCallbackAlerts(fn func(Alert) error) AlertSink {
	return base.NewCallbackAlerts(fn)
}

func NewLogActuator() Actuator {
	return base.NewLogActuator()
}

// Local command channel.
func NewLocalCommander() *LocalCommander {
	return base.NewLocalCommander()
}
