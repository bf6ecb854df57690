package domain

import "time"

// Mode selects who drives the delivery setpoints during a session: the
// operator (manual) or the therapeutic curve (auto).
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// ParseMode validates an operator-supplied mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeManual:
		return ModeManual, true
	case ModeAuto:
		return ModeAuto, true
	}
	return "", false
}

// SessionInfo identifies the running therapy session. StartedAt is the
// local instant the device accepted the session; all elapsed-time math is
// relative to it, never to operator-side timestamps.
type SessionInfo struct {
	PatientID string
	SessionID string
	StartedAt time.Time
	Duration  time.Duration
}

// SessionConfig carries the operator-chosen settings read from the session
// document when a session starts.
type SessionConfig struct {
	Duration    time.Duration
	Mode        Mode
	InitialFlow float64
	InitialTemp float64
}

// DefaultSessionConfig is applied when the session document is missing or
// unreadable: the device starts with conservative settings rather than
// refusing the session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Duration:    45 * time.Minute,
		Mode:        ModeManual,
		InitialFlow: 30.0,
		InitialTemp: 40.0,
	}
}

// Session statuses written back to the clinic store.
const (
	StatusActive           = "active"
	StatusCompleted        = "completed"
	StatusStoppedEmergency = "stopped_emergency"
)
