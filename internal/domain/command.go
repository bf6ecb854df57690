package domain

import "time"

// Command names accepted from the operator console.
const (
	CmdStartSession  = "start_session"
	CmdStopSession   = "stop_session"
	CmdEmergencyStop = "emergency_stop"
	CmdSetFlow       = "set_flow"
	CmdSetTemp       = "set_temp"
	CmdSetMode       = "set_mode"
	CmdSetPower      = "set_power"
)

// Command is one operator instruction pulled off the command channel.
// IssuedAt is the operator-side issue time and is used only for the
// staleness check; it never feeds elapsed-time math.
type Command struct {
	ID       string
	Name     string
	IssuedAt time.Time
	Payload  map[string]any
}

// Float extracts a numeric payload field. JSON decoding yields float64 for
// all numbers; int is accepted for commands injected in-process.
func (c Command) Float(key string) (float64, bool) {
	switch v := c.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Str extracts a string payload field.
func (c Command) Str(key string) (string, bool) {
	v, ok := c.Payload[key].(string)
	return v, ok
}

// AckResult is reported back to the command channel exactly once per
// command, whether it was applied or rejected.
type AckResult struct {
	ProcessedAt time.Time
	Err         string // empty on success, otherwise a Reason* code
}

// Stable rejection reasons carried in command acks.
const (
	ReasonStale         = "stale_command"
	ReasonAlreadyActive = "session_already_active"
	ReasonNoSession     = "no_active_session"
	ReasonInvalidMode   = "invalid_mode"
	ReasonMissingValue  = "missing_value"
	ReasonUnsafeValue   = "unsafe_value"
	ReasonUnknown       = "unknown_command"
)
