package dharaflow

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func benchConfig() *Config {
	cfg := &Config{}
	cfg.Device.ID = "bench-dev"
	cfg.Sensor.Driver = SensorSynthetic
	cfg.Actuator.Driver = ActuatorLog
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Sampling.SensorInterval = Duration(5 * time.Millisecond)
	cfg.Sampling.IdleInterval = Duration(5 * time.Millisecond)
	cfg.Sampling.Window = Duration(4 * time.Second)
	cfg.Telemetry.Interval = Duration(30 * time.Millisecond)
	cfg.Command.IdlePoll = Duration(10 * time.Millisecond)
	cfg.Presence.Heartbeat = Duration(20 * time.Millisecond)
	return cfg
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("nil config accepted")
	}
}

func TestNewRuntimeRejectsUnknownDrivers(t *testing.T) {
	base := func() (*Config, []Option) {
		cfg := benchConfig()
		opts := []Option{
			WithCommandSource(NewLocalCommander()),
			WithSessionStore(&stubStore{}),
			WithPresence(&stubPresence{}),
			WithTelemetrySink(NewCallbackSink("drop", func(TelemetryRecord) error { return nil })),
			WithAlertSink(NewCallbackAlerts(func(Alert) error { return nil })),
			WithObservability(&quietObs{}),
		}
		return cfg, opts
	}

	cfg, opts := base()
	cfg.Sensor.Driver = "laser"
	if _, err := NewRuntime(cfg, opts...); err == nil || !strings.Contains(err.Error(), "sensor driver") {
		t.Fatalf("unknown sensor driver: got %v", err)
	}

	cfg, opts = base()
	cfg.Actuator.Driver = "steam"
	if _, err := NewRuntime(cfg, opts...); err == nil || !strings.Contains(err.Error(), "actuator driver") {
		t.Fatalf("unknown actuator driver: got %v", err)
	}
}

func TestRuntimeRunsSessionEndToEnd(t *testing.T) {
	lc := NewLocalCommander()
	sink, recCh, closeSink := NewChannelSink("test", 64)
	store := &stubStore{cfg: SessionConfig{
		Duration:    30 * time.Minute,
		Mode:        ModeManual,
		InitialFlow: 25,
		InitialTemp: 41,
	}}
	act := &stubActuator{}

	rt, err := NewRuntime(benchConfig(),
		WithCommandSource(lc),
		WithSessionStore(store),
		WithPresence(&stubPresence{}),
		WithTelemetrySink(sink),
		WithAlertSink(NewCallbackAlerts(func(Alert) error { return nil })),
		WithObservability(&quietObs{}),
		WithActuator(act),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer closeSink()
	defer rt.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := lc.Submit(ctx, Command{
		Name:    CmdStartSession,
		Payload: map[string]any{"patientId": "p1", "sessionId": "s1"},
	})
	if err != nil {
		t.Fatalf("submit start: %v", err)
	}
	if res.Err != "" {
		t.Fatalf("start rejected: %q", res.Err)
	}

	snap := rt.Session()
	if !snap.Active() {
		t.Fatalf("session not active after start")
	}
	if snap.Mode != ModeManual || snap.Flow != 25 || snap.Temp != 41 {
		t.Fatalf("snapshot = mode %q flow %.1f temp %.1f", snap.Mode, snap.Flow, snap.Temp)
	}
	if snap.Info.PatientID != "p1" || snap.Info.SessionID != "s1" {
		t.Fatalf("session info = %+v", snap.Info)
	}

	select {
	case rec := <-recCh:
		if rec.DeviceID != "bench-dev" || rec.FlowState != 25 {
			t.Fatalf("record = %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no telemetry published")
	}

	waitFor(t, 10*time.Second, "pulse estimate", func() bool {
		_, ok := rt.Pulse()
		return ok
	})
	if est, _ := rt.Pulse(); est.BPM < 60 || est.BPM > 85 {
		t.Fatalf("estimate %.1f bpm from the synthetic waveform", est.BPM)
	}

	res, err = lc.Submit(ctx, Command{Name: CmdStopSession})
	if err != nil {
		t.Fatalf("submit stop: %v", err)
	}
	if res.Err != "" {
		t.Fatalf("stop rejected: %q", res.Err)
	}
	if rt.Session().Active() {
		t.Fatalf("session still active after stop")
	}
	if got := store.statusList(); len(got) != 2 || got[0] != StatusActive || got[1] != StatusCompleted {
		t.Fatalf("statuses = %v", got)
	}
	if act.offCount() == 0 {
		t.Fatalf("actuator never turned off after stop")
	}

	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRuntimeStatusEndpoint(t *testing.T) {
	rt, err := NewRuntime(benchConfig(),
		WithCommandSource(NewLocalCommander()),
		WithSessionStore(&stubStore{}),
		WithPresence(&stubPresence{}),
		WithTelemetrySink(NewCallbackSink("drop", func(TelemetryRecord) error { return nil })),
		WithAlertSink(NewCallbackAlerts(func(Alert) error { return nil })),
		WithObservability(&quietObs{}),
		WithActuator(&stubActuator{}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	w := httptest.NewRecorder()
	rt.handleStatus(w, httptest.NewRequest("GET", "/statusz", nil))

	var body struct {
		DeviceID string `json:"device_id"`
		Phase    string `json:"phase"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.DeviceID != "bench-dev" || body.Phase != "idle" {
		t.Fatalf("status = %+v", body)
	}
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type stubActuator struct {
	mu  sync.Mutex
	off int
}

func (a *stubActuator) SetFlow(float64) {}
func (a *stubActuator) SetTemp(float64) {}
func (a *stubActuator) Off() {
	a.mu.Lock()
	a.off++
	a.mu.Unlock()
}

func (a *stubActuator) offCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

type stubStore struct {
	mu       sync.Mutex
	cfg      SessionConfig
	statuses []string
}

func (s *stubStore) FetchConfig(context.Context, string, string) (SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *stubStore) UpdateStatus(_ context.Context, _, _, status string, _ *time.Time) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) statusList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

type stubPresence struct {
	mu    sync.Mutex
	beats int
}

func (p *stubPresence) Heartbeat(context.Context, string) error {
	p.mu.Lock()
	p.beats++
	p.mu.Unlock()
	return nil
}

type quietObs struct{}

func (quietObs) LogInfo(string, ...Field)            {}
func (quietObs) LogError(string, error, ...Field)    {}
func (quietObs) LogCritical(string, error, ...Field) {}
func (quietObs) IncCounter(string, float64)          {}
func (quietObs) ObserveLatency(string, float64)      {}
func (quietObs) SetGauge(string, float64)            {}
func (quietObs) RecordDrop(*TelemetryRecord, error)  {}
