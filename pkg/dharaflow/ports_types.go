package dharaflow

import (
	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
	"dharaflow/internal/session"
)

// Command is one operator instruction handed to the device engine.
type Command = domain.Command

// AckResult is reported back to the command channel exactly once per command.
type AckResult = domain.AckResult

// TelemetryRecord is one published vitals row.
type TelemetryRecord = domain.TelemetryRecord

// Alert is a safety notification pushed to the clinic alert channels.
type Alert = domain.Alert

// SessionSnapshot is a consistent copy of the engine's session state.
type SessionSnapshot = session.Snapshot

// SessionInfo identifies a running therapy session.
type SessionInfo = domain.SessionInfo

// SessionConfig carries the operator-chosen session settings.
type SessionConfig = domain.SessionConfig

// PulseEstimate is the detector's current belief about the patient's pulse.
type PulseEstimate = domain.PulseEstimate

// SafetyLimits bound the readings and setpoints the engine tolerates.
type SafetyLimits = domain.SafetyLimits

// Mode selects between the automatic therapy curve and manual setpoints.
type Mode = domain.Mode

// Sensor streams raw PPG readings into the sampler.
type Sensor = ports.Sensor

// Actuator drives the pump and heater setpoints.
type Actuator = ports.Actuator

// CommandSource delivers operator commands and carries their acks back.
type CommandSource = ports.CommandSource

// SessionStore reads session metadata and writes session status.
type SessionStore = ports.SessionStore

// TelemetrySink consumes published vitals records.
type TelemetrySink = ports.TelemetrySink

// AlertSink consumes safety alerts.
type AlertSink = ports.AlertSink

// Presence announces device liveness to the clinic.
type Presence = ports.Presence

// Observability emits metrics and logs for the control loops.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Clock abstracts the device clock so tests can drive time.
type Clock = ports.Clock

// Session modes.
const (
	ModeManual = domain.ModeManual
	ModeAuto   = domain.ModeAuto
)

// Command names accepted by the engine.
const (
	CmdStartSession  = domain.CmdStartSession
	CmdStopSession   = domain.CmdStopSession
	CmdEmergencyStop = domain.CmdEmergencyStop
	CmdSetFlow       = domain.CmdSetFlow
	CmdSetTemp       = domain.CmdSetTemp
	CmdSetMode       = domain.CmdSetMode
	CmdSetPower      = domain.CmdSetPower
)

// Rejection reasons carried in command acks.
const (
	ReasonStale         = domain.ReasonStale
	ReasonAlreadyActive = domain.ReasonAlreadyActive
	ReasonNoSession     = domain.ReasonNoSession
	ReasonInvalidMode   = domain.ReasonInvalidMode
	ReasonMissingValue  = domain.ReasonMissingValue
	ReasonUnsafeValue   = domain.ReasonUnsafeValue
	ReasonUnknown       = domain.ReasonUnknown
)

// Session statuses written back to the session store.
const (
	StatusActive           = domain.StatusActive
	StatusCompleted        = domain.StatusCompleted
	StatusStoppedEmergency = domain.StatusStoppedEmergency
)
