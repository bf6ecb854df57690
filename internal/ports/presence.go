package ports

import "context"

// Presence keeps the device's liveness record fresh. One call per
// heartbeat tick; the record carries no session state.
type Presence interface {
	Heartbeat(ctx context.Context, deviceID string) error
}
