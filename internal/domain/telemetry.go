package domain

import (
	"time"

	"github.com/google/uuid"
)

// TelemetryRecord is one vitals snapshot published while a session runs.
// Pulse is nil until the detector has produced an estimate. PatientID and
// SessionID route the record (subjects, table columns, spool keys) but are
// not part of the wire body, which mirrors the clinic console's schema.
type TelemetryRecord struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	PatientID   string    `json:"-"`
	SessionID   string    `json:"-"`
	Pulse       *float64  `json:"pulse"`
	SpO2        float64   `json:"spo2"`
	FlowState   float64   `json:"flowState"`
	Temperature float64   `json:"temperature"`
	RMSSD       *float64  `json:"rmssd,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert is a safety notification pushed to the clinic alert channels.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	DeviceID  string    `json:"device_id"`
	PatientID string    `json:"-"`
	SessionID string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	AlertEmergencyStop = "emergency_stop"
	AlertLevelCritical = "critical"
)

// NewEmergencyAlert builds the critical alert raised when a watchdog limit
// trips. Value is the reading that tripped it.
func NewEmergencyAlert(deviceID, message string, value float64, now time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      AlertEmergencyStop,
		Level:     AlertLevelCritical,
		Message:   message,
		Value:     value,
		DeviceID:  deviceID,
		Timestamp: now,
	}
}
