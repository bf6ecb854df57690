package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
	"dharaflow/internal/ppg"
	"dharaflow/internal/session"
	"dharaflow/internal/therapy"
)

func (e *Engine) runTelemetry(ctx context.Context) {
	tick := time.NewTicker(e.set.TelemetryInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			e.telemetryTick(ctx)
		}
	}
}

// telemetryTick completes the session when its duration is up, drives the
// auto curve, enforces the setpoint limits and publishes one vitals
// record. Idle ticks produce nothing.
func (e *Engine) telemetryTick(ctx context.Context) {
	snap := e.hub.Snapshot()
	if !snap.Active() {
		return
	}
	if snap.Info.PatientID == "" || snap.Info.SessionID == "" {
		// unreachable by construction; surface loudly rather than publish
		// a record that cannot be routed
		e.deps.Obs.LogCritical("active session with empty identifiers",
			fmt.Errorf("patient=%q session=%q", snap.Info.PatientID, snap.Info.SessionID))
		return
	}

	now := e.deps.Clock.Now()
	elapsed := snap.Elapsed(now)
	if elapsed >= snap.Info.Duration {
		e.deps.Obs.LogInfo("session duration reached",
			ports.Field{Key: "session_id", Value: snap.Info.SessionID})
		e.finalizeSession(ctx)
		return
	}
	e.deps.Obs.SetGauge("dhara_session_elapsed_seconds", elapsed.Seconds())

	est, estOK := e.Estimate()
	var pulse *float64
	if estOK {
		v := est.BPM
		pulse = &v
	}

	flow, temp := snap.Flow, snap.Temp
	if snap.Mode == domain.ModeAuto {
		t := therapy.AutoTargets(elapsed, snap.Info.Duration, pulse)
		if err := e.hub.SetTargets(t.Flow, t.Temp); err == nil {
			flow, temp = t.Flow, t.Temp
			e.pushTargets(ctx, flow, temp)
		}
	}

	if temp > e.set.Limits.TempMax {
		e.safetyTrip(ctx, "temp_high", temp)
		return
	}
	if flow < e.set.Limits.FlowMin {
		e.safetyTrip(ctx, "flow_low", flow)
		return
	}

	if e.deps.Telemetry == nil {
		return
	}
	rec := e.buildRecord(snap, est, estOK, flow, temp, now)
	start := time.Now()
	if err := e.deps.Telemetry.Publish(ctx, rec); err != nil {
		e.deps.Obs.LogError("telemetry publish failed", err,
			ports.Field{Key: "sink", Value: e.deps.Telemetry.Name()},
			ports.Field{Key: "record_id", Value: rec.ID})
		e.deps.Obs.RecordDrop(&rec, err)
		return
	}
	e.deps.Obs.ObserveLatency("dhara_publish_latency_seconds", time.Since(start).Seconds())
	e.deps.Obs.IncCounter("dhara_telemetry_published_total", 1)
}

// buildRecord assembles one telemetry record. Pulse falls back to the
// default when the detector has not produced an estimate yet; SpO2 is a
// synthetic placeholder until a real channel exists.
func (e *Engine) buildRecord(snap session.Snapshot, est domain.PulseEstimate, estOK bool, flow, temp float64, now time.Time) domain.TelemetryRecord {
	pulse := therapy.DefaultPulse
	if estOK {
		pulse = est.BPM
	}
	pulse = math.Round(pulse*10) / 10

	rec := domain.TelemetryRecord{
		ID:          uuid.NewString(),
		DeviceID:    e.set.DeviceID,
		PatientID:   snap.Info.PatientID,
		SessionID:   snap.Info.SessionID,
		Pulse:       &pulse,
		SpO2:        math.Round((98.0+rand.Float64()*2-1)*10) / 10,
		FlowState:   flow,
		Temperature: temp,
		Timestamp:   now,
	}
	if estOK {
		if r, ok := ppg.RMSSD(est.RR); ok {
			rec.RMSSD = &r
		}
	}
	return rec
}
