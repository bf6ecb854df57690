package domain

import "errors"

var (
	ErrSessionActive     = errors.New("session already active")
	ErrNoActiveSession   = errors.New("no active session")
	ErrStaleCommand      = errors.New("stale command")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrMissingValue      = errors.New("missing value")
	ErrUnsafeValue       = errors.New("value outside safe limits")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrSensorUnavailable = errors.New("sensor unavailable")
)

// ReasonFor maps a command-validation error to its stable ack reason code.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStaleCommand):
		return ReasonStale
	case errors.Is(err, ErrSessionActive):
		return ReasonAlreadyActive
	case errors.Is(err, ErrNoActiveSession):
		return ReasonNoSession
	case errors.Is(err, ErrInvalidMode):
		return ReasonInvalidMode
	case errors.Is(err, ErrMissingValue):
		return ReasonMissingValue
	case errors.Is(err, ErrUnsafeValue):
		return ReasonUnsafeValue
	case errors.Is(err, ErrUnknownCommand):
		return ReasonUnknown
	}
	return err.Error()
}
