package ports

import (
	"context"

	"dharaflow/internal/domain"
)

// CommandSource delivers operator commands to the engine. Start begins
// delivery into out and returns immediately; Stop halts delivery. Ack
// reports the outcome of one command and must be called exactly once per
// delivered command; sources are expected to redeliver commands that were
// never acked.
type CommandSource interface {
	Start(out chan<- domain.Command) error
	Stop() error
	Ack(ctx context.Context, id string, res domain.AckResult) error
}
