package ports

import (
	"context"
	"time"

	"dharaflow/internal/domain"
)

// SessionStore reads operator-authored session documents and writes session
// status back to the clinic store.
type SessionStore interface {
	FetchConfig(ctx context.Context, patientID, sessionID string) (domain.SessionConfig, error)
	UpdateStatus(ctx context.Context, patientID, sessionID, status string, endedAt *time.Time) error
}
