// Package timescale archives telemetry into a TimescaleDB hypertable.
package timescale

import (
	"context"
	"database/sql"
	"fmt"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

type Sink struct {
	db    *sql.DB
	table string
}

func New(db *sql.DB, table string) *Sink {
	return &Sink{db: db, table: table}
}

func (s *Sink) Name() string { return "timescaledb" }

// Publish inserts one vitals row. Replayed records are idempotent via the
// record id.
func (s *Sink) Publish(ctx context.Context, rec domain.TelemetryRecord) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (id, ts, device_id, patient_id, session_id, pulse, spo2, flow, temp, rmssd) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (id) DO NOTHING",
		s.table,
	)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Timestamp,
		rec.DeviceID,
		rec.PatientID,
		rec.SessionID,
		nullable(rec.Pulse),
		rec.SpO2,
		rec.FlowState,
		rec.Temperature,
		nullable(rec.RMSSD),
	)
	return err
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ ports.TelemetrySink = (*Sink)(nil)
