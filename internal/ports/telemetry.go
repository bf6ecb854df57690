package ports

import (
	"context"

	"dharaflow/internal/domain"
)

// TelemetrySink receives vitals snapshots. Publish is a single bounded
// attempt; the engine logs failures and defers to the next tick.
type TelemetrySink interface {
	Publish(ctx context.Context, rec domain.TelemetryRecord) error
	Name() string
}
