package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"dharaflow/internal/domain"
)

func TestTelemetryTickIdleProducesNothing(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.e.telemetryTick(rig.ctx)

	if got := rig.sink.records(); len(got) != 0 {
		t.Fatalf("idle tick must not publish, got %+v", got)
	}
	if got := rig.store.statusList(); len(got) != 0 {
		t.Fatalf("idle tick must not touch the store, got %+v", got)
	}
}

func TestTelemetryTickPublishesRecord(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.startSession(t, "c1")
	rig.e.setEstimate(domain.PulseEstimate{
		BPM:       71.5,
		RR:        []float64{0.8, 0.85, 0.8},
		UpdatedAt: rig.clock.Now(),
	})
	rig.clock.Advance(10 * time.Second)

	rig.e.telemetryTick(rig.ctx)

	recs := rig.sink.records()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" || rec.DeviceID != "dev-1" || rec.PatientID != "p1" || rec.SessionID != "s1" {
		t.Fatalf("record not routed: %+v", rec)
	}
	if rec.Pulse == nil || *rec.Pulse != 71.5 {
		t.Fatalf("pulse should carry the estimate, got %+v", rec.Pulse)
	}
	if rec.FlowState != 30 || rec.Temperature != 40 {
		t.Fatalf("setpoints not reflected: %+v", rec)
	}
	if rec.SpO2 < 97 || rec.SpO2 > 99 {
		t.Fatalf("spo2 out of expected band: %v", rec.SpO2)
	}
	if rec.RMSSD == nil || math.Abs(*rec.RMSSD-50) > 1e-6 {
		t.Fatalf("rmssd from rr intervals should be 50ms, got %+v", rec.RMSSD)
	}
	if !rec.Timestamp.Equal(rig.clock.Now()) {
		t.Fatalf("timestamp should come from the device clock: %v", rec.Timestamp)
	}
	if !rig.e.Snapshot().Active() {
		t.Fatalf("session should remain active")
	}
}

func TestTelemetryTickDefaultPulseWithoutEstimate(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.startSession(t, "c1")
	rig.clock.Advance(time.Second)

	rig.e.telemetryTick(rig.ctx)

	recs := rig.sink.records()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	if recs[0].Pulse == nil || *recs[0].Pulse != 72 {
		t.Fatalf("pulse should fall back to the default, got %+v", recs[0].Pulse)
	}
	if recs[0].RMSSD != nil {
		t.Fatalf("rmssd must be absent without rr intervals, got %v", *recs[0].RMSSD)
	}
}

func TestTelemetryAutoModeWarmupRamp(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.cfg = domain.SessionConfig{
		Duration:    100 * time.Second,
		Mode:        domain.ModeAuto,
		InitialFlow: 20,
		InitialTemp: 37,
	}
	rig.startSession(t, "c1")
	rig.clock.Advance(5 * time.Second)

	rig.e.telemetryTick(rig.ctx)

	snap := rig.e.Snapshot()
	if math.Abs(snap.Flow-27.5) > 1e-9 || math.Abs(snap.Temp-38) > 1e-9 {
		t.Fatalf("warmup targets not applied to the session: %+v", snap)
	}
	recs := rig.sink.records()
	if len(recs) != 1 || recs[0].FlowState != snap.Flow || recs[0].Temperature != snap.Temp {
		t.Fatalf("record should carry the curve targets, got %+v", recs)
	}
	waitFor(t, time.Second, func() bool {
		f, okF := rig.act.lastFlow()
		tp, okT := rig.act.lastTemp()
		return okF && okT && math.Abs(f-27.5) < 1e-9 && math.Abs(tp-38) < 1e-9
	})
}

func TestTelemetryAutoModeUsesPulseEstimate(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.cfg = domain.SessionConfig{
		Duration:    100 * time.Second,
		Mode:        domain.ModeAuto,
		InitialFlow: 30,
		InitialTemp: 38,
	}
	rig.startSession(t, "c1")
	rig.e.setEstimate(domain.PulseEstimate{BPM: 140, UpdatedAt: rig.clock.Now()})
	rig.clock.Advance(25 * time.Second)

	rig.e.telemetryTick(rig.ctx)

	snap := rig.e.Snapshot()
	wantFlow := 35 + 0.5*math.Sin(25.0/5)
	if math.Abs(snap.Flow-wantFlow) > 1e-6 || math.Abs(snap.Temp-39.5) > 1e-9 {
		t.Fatalf("steady targets for high pulse not applied: %+v", snap)
	}
}

func TestTelemetryCompletesSessionAtDuration(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.cfg = domain.SessionConfig{
		Duration:    10 * time.Minute,
		Mode:        domain.ModeManual,
		InitialFlow: 30,
		InitialTemp: 40,
	}
	rig.startSession(t, "c1")
	rig.clock.Advance(10 * time.Minute)

	rig.e.telemetryTick(rig.ctx)

	if rig.e.Snapshot().Active() {
		t.Fatalf("session should be completed")
	}
	if got := rig.sink.records(); len(got) != 0 {
		t.Fatalf("completion tick must not publish vitals, got %+v", got)
	}
	if rig.act.offCount() == 0 {
		t.Fatalf("delivery should be shut off on completion")
	}
	statuses := rig.store.statusList()
	if len(statuses) != 2 || statuses[1].status != domain.StatusCompleted || !statuses[1].ended {
		t.Fatalf("expected active then completed with end time, got %+v", statuses)
	}

	rig.e.telemetryTick(rig.ctx)
	if got := rig.store.statusList(); len(got) != 2 {
		t.Fatalf("ticks after completion must be no-ops, got %+v", got)
	}
}

func TestTelemetryPublishFailureKeepsSessionAlive(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.startSession(t, "c1")
	rig.sink.setErr(errors.New("broker down"))
	rig.clock.Advance(time.Second)

	rig.e.telemetryTick(rig.ctx)

	if got := rig.sink.records(); len(got) != 0 {
		t.Fatalf("failed publish must not record, got %+v", got)
	}
	if !rig.e.Snapshot().Active() {
		t.Fatalf("publish failure must not end the session")
	}

	rig.sink.setErr(nil)
	rig.clock.Advance(time.Second)
	rig.e.telemetryTick(rig.ctx)
	if got := rig.sink.records(); len(got) != 1 {
		t.Fatalf("publishing should resume, got %d records", len(got))
	}
}

func TestTelemetryTripsOnHotTemperature(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.cfg = domain.SessionConfig{
		Duration:    45 * time.Minute,
		Mode:        domain.ModeManual,
		InitialFlow: 30,
		InitialTemp: 49,
	}
	rig.startSession(t, "c1")
	rig.clock.Advance(2 * time.Second)

	rig.e.telemetryTick(rig.ctx)

	if rig.e.Snapshot().Active() {
		t.Fatalf("hot temperature must trip the session")
	}
	alerts := rig.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Message != "Emergency stop: temp_high" || alerts[0].Value != 49 {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
	if got := rig.sink.records(); len(got) != 0 {
		t.Fatalf("tripped tick must not publish vitals, got %+v", got)
	}
}

func TestTelemetryTripsOnLowFlow(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.cfg = domain.SessionConfig{
		Duration:    45 * time.Minute,
		Mode:        domain.ModeManual,
		InitialFlow: 1,
		InitialTemp: 40,
	}
	rig.startSession(t, "c1")
	rig.clock.Advance(2 * time.Second)

	rig.e.telemetryTick(rig.ctx)

	if rig.e.Snapshot().Active() {
		t.Fatalf("starved flow must trip the session")
	}
	alerts := rig.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Message != "Emergency stop: flow_low" || alerts[0].Value != 1 {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
}
