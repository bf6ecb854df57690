package ports

import "time"

// Clock abstracts wall time so staleness and elapsed-time rules are
// testable without sleeping.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
