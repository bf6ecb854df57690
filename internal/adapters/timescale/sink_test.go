package timescale

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"dharaflow/internal/domain"
)

func TestSinkPublish(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := New(db, "vitals")
	ts := time.Now()
	pulse := 72.5

	rec := domain.TelemetryRecord{
		ID:          "rec-1",
		DeviceID:    "dhara-01",
		PatientID:   "p1",
		SessionID:   "s1",
		Pulse:       &pulse,
		SpO2:        98.2,
		FlowState:   30,
		Temperature: 40,
		Timestamp:   ts,
	}

	expectedQuery := regexp.QuoteMeta(
		"INSERT INTO vitals (id, ts, device_id, patient_id, session_id, pulse, spo2, flow, temp, rmssd) " +
			"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (id) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("rec-1", ts, "dhara-01", "p1", "s1", 72.5, 98.2, 30.0, 40.0, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.Publish(context.Background(), rec); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSinkPublishNilPulse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := New(db, "vitals")
	rec := domain.TelemetryRecord{ID: "rec-2", DeviceID: "dhara-01", Timestamp: time.Now()}

	mock.ExpectExec("INSERT INTO vitals").
		WithArgs("rec-2", sqlmock.AnyArg(), "dhara-01", "", "", nil, 0.0, 0.0, 0.0, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.Publish(context.Background(), rec); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSinkName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if New(db, "vitals").Name() != "timescaledb" {
		t.Fatalf("unexpected sink name")
	}
}
