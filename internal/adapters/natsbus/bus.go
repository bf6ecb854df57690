// Package natsbus publishes live telemetry and alerts over NATS.
//
// Subject layout under the configured prefix:
//
//	<prefix>.telemetry.<patient>.<session>
//	<prefix>.alerts
//	<prefix>.alerts.<patient>.<session>
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

type Bus struct {
	conn   *nats.Conn
	prefix string
}

// New connects to the broker. The connection retries forever in the
// background, so a device booting before its broker still comes up.
func New(url, prefix, deviceID string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("dharaflow-"+deviceID),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Bus{conn: conn, prefix: prefix}, nil
}

func (b *Bus) Telemetry() *TelemetryPublisher { return &TelemetryPublisher{bus: b} }
func (b *Bus) Alerts() *AlertPublisher        { return &AlertPublisher{bus: b} }

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

type TelemetryPublisher struct {
	bus *Bus
}

func (p *TelemetryPublisher) Publish(_ context.Context, rec domain.TelemetryRecord) error {
	subject := fmt.Sprintf("%s.telemetry.%s.%s", p.bus.prefix, rec.PatientID, rec.SessionID)
	return p.bus.publish(subject, rec)
}

func (p *TelemetryPublisher) Name() string { return "nats" }

type AlertPublisher struct {
	bus *Bus
}

// Publish fans the alert to the device-global channel and, when the alert
// belongs to a session, the per-session channel as well.
func (p *AlertPublisher) Publish(_ context.Context, alert domain.Alert) error {
	if err := p.bus.publish(p.bus.prefix+".alerts", alert); err != nil {
		return err
	}
	if alert.PatientID != "" && alert.SessionID != "" {
		subject := fmt.Sprintf("%s.alerts.%s.%s", p.bus.prefix, alert.PatientID, alert.SessionID)
		return p.bus.publish(subject, alert)
	}
	return nil
}

var (
	_ ports.TelemetrySink = (*TelemetryPublisher)(nil)
	_ ports.AlertSink     = (*AlertPublisher)(nil)
)
