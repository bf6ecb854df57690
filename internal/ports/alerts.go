package ports

import (
	"context"

	"dharaflow/internal/domain"
)

// AlertSink receives safety alerts. Delivery is best-effort: the emergency
// path has already secured the hardware before any alert is published.
type AlertSink interface {
	Publish(ctx context.Context, alert domain.Alert) error
}
