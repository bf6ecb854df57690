// Package engine runs the session control loops: the PPG sampler, the
// command processor, the telemetry publisher, the presence heartbeat and
// the actuator owner. All mutable session state lives in one session.Hub;
// the loops exchange snapshots, never references into each other's
// buffers. Actuator writes from every loop funnel through a single owning
// goroutine so setpoint updates are never interleaved.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
	"dharaflow/internal/session"
)

// Settings carries the tunables of the control loops. Zero fields are
// replaced with the device defaults: 20 ms sampling, 12 s analysis window,
// 2 s telemetry, 5 s heartbeat, 300 s command staleness.
type Settings struct {
	DeviceID string

	SensorInterval    time.Duration
	IdleInterval      time.Duration
	Window            time.Duration
	TelemetryInterval time.Duration
	CommandIdlePoll   time.Duration
	HeartbeatInterval time.Duration
	Staleness         time.Duration
	ReprobeInterval   time.Duration

	SyntheticBPM float64

	Limits          domain.SafetyLimits
	SessionDefaults domain.SessionConfig
}

func (s Settings) withDefaults() Settings {
	if s.SensorInterval <= 0 {
		s.SensorInterval = 20 * time.Millisecond
	}
	if s.IdleInterval <= 0 {
		s.IdleInterval = 500 * time.Millisecond
	}
	if s.Window <= 0 {
		s.Window = 12 * time.Second
	}
	if s.TelemetryInterval <= 0 {
		s.TelemetryInterval = 2 * time.Second
	}
	if s.CommandIdlePoll <= 0 {
		s.CommandIdlePoll = time.Second
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 5 * time.Second
	}
	if s.Staleness <= 0 {
		s.Staleness = 300 * time.Second
	}
	if s.ReprobeInterval <= 0 {
		s.ReprobeInterval = 10 * time.Second
	}
	if s.SyntheticBPM <= 0 {
		s.SyntheticBPM = 72
	}
	if s.Limits == (domain.SafetyLimits{}) {
		s.Limits = domain.DefaultSafetyLimits()
	}
	if s.SessionDefaults == (domain.SessionConfig{}) {
		s.SessionDefaults = domain.DefaultSessionConfig()
	}
	return s
}

// Deps are the ports the engine runs against. Actuator and Commands are
// required; the others may be nil. A nil Sensor selects the synthetic
// waveform and a nil Store falls back to the default session settings;
// nil sinks skip the matching publishes.
type Deps struct {
	Sensor    ports.Sensor
	Actuator  ports.Actuator
	Commands  ports.CommandSource
	Store     ports.SessionStore
	Presence  ports.Presence
	Telemetry ports.TelemetrySink
	Alerts    ports.AlertSink
	Obs       ports.Observability
	Clock     ports.Clock
}

type Engine struct {
	set  Settings
	deps Deps

	hub *session.Hub

	estMu    sync.Mutex
	estimate domain.PulseEstimate
	estOK    bool

	procMu    sync.Mutex
	processed map[string]time.Time

	actCh chan actuatorMsg
	cmdCh chan domain.Command

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(set Settings, deps Deps) (*Engine, error) {
	if deps.Actuator == nil {
		return nil, errors.New("engine: actuator is required")
	}
	if deps.Commands == nil {
		return nil, errors.New("engine: command source is required")
	}
	if deps.Obs == nil {
		deps.Obs = nopObs{}
	}
	if deps.Clock == nil {
		deps.Clock = ports.RealClock{}
	}
	return &Engine{
		set:       set.withDefaults(),
		deps:      deps,
		hub:       session.NewHub(),
		processed: make(map[string]time.Time),
		actCh:     make(chan actuatorMsg, 8),
		cmdCh:     make(chan domain.Command, 16),
	}, nil
}

// Start begins command delivery and launches the control loops. It returns
// once everything is running; Stop shuts it back down.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.deps.Commands.Start(e.cmdCh); err != nil {
		cancel()
		return fmt.Errorf("start command source: %w", err)
	}

	e.cancel = cancel
	e.started = true

	loops := []func(context.Context){
		e.runActuator,
		e.runSampler,
		e.runCommands,
		e.runTelemetry,
		e.runHeartbeat,
	}
	e.wg.Add(len(loops))
	for _, loop := range loops {
		go func(run func(context.Context)) {
			defer e.wg.Done()
			run(ctx)
		}(loop)
	}

	e.deps.Obs.LogInfo("engine started", ports.Field{Key: "device_id", Value: e.set.DeviceID})
	return nil
}

// Stop halts command delivery, cancels the loops and waits for them within
// the bounds of ctx. The actuator owner forces outputs off on its way out;
// if the wait times out, Off is forced directly so the hardware is safe
// no matter what a loop is stuck on.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	var errs []error
	if err := e.deps.Commands.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop command source: %w", err))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.deps.Actuator.Off()
		errs = append(errs, fmt.Errorf("waiting for engine loops: %w", ctx.Err()))
	}

	e.deps.Obs.LogInfo("engine stopped", ports.Field{Key: "device_id", Value: e.set.DeviceID})
	return errors.Join(errs...)
}

// Snapshot exposes the current session state, mainly for embedders and
// health endpoints.
func (e *Engine) Snapshot() session.Snapshot { return e.hub.Snapshot() }

// Estimate returns the latest pulse estimate, false when none has been
// produced during the current session.
func (e *Engine) Estimate() (domain.PulseEstimate, bool) {
	e.estMu.Lock()
	defer e.estMu.Unlock()
	return e.estimate, e.estOK
}

func (e *Engine) setEstimate(est domain.PulseEstimate) {
	e.estMu.Lock()
	e.estimate = est
	e.estOK = true
	e.estMu.Unlock()
}

func (e *Engine) clearEstimate() {
	e.estMu.Lock()
	e.estimate = domain.PulseEstimate{}
	e.estOK = false
	e.estMu.Unlock()
}

// actuatorMsg is one instruction for the actuator owner. Exactly one
// goroutine applies these, so flow/temp pairs are never interleaved with
// writes from another loop.
type actuatorMsg struct {
	off     bool
	hasFlow bool
	flow    float64
	hasTemp bool
	temp    float64
	done    chan struct{}
}

func (e *Engine) runActuator(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// hardware off is the one shutdown action that must not be
			// skipped, then release any waiting senders
			e.deps.Actuator.Off()
			for {
				select {
				case m := <-e.actCh:
					if m.done != nil {
						close(m.done)
					}
				default:
					return
				}
			}
		case m := <-e.actCh:
			e.applyActuator(m)
		}
	}
}

func (e *Engine) applyActuator(m actuatorMsg) {
	if m.off {
		e.deps.Actuator.Off()
	} else {
		if m.hasFlow {
			e.deps.Actuator.SetFlow(m.flow)
		}
		if m.hasTemp {
			e.deps.Actuator.SetTemp(m.temp)
		}
	}
	if m.done != nil {
		close(m.done)
	}
}

func (e *Engine) sendActuator(ctx context.Context, m actuatorMsg, wait bool) {
	if wait {
		m.done = make(chan struct{})
	}
	select {
	case e.actCh <- m:
	case <-ctx.Done():
		return
	}
	if wait {
		select {
		case <-m.done:
		case <-ctx.Done():
		}
	}
}

func (e *Engine) pushFlow(ctx context.Context, v float64) {
	e.sendActuator(ctx, actuatorMsg{hasFlow: true, flow: v}, false)
	e.deps.Obs.SetGauge("dhara_flow_setpoint_ml_min", v)
}

func (e *Engine) pushTemp(ctx context.Context, v float64) {
	e.sendActuator(ctx, actuatorMsg{hasTemp: true, temp: v}, false)
	e.deps.Obs.SetGauge("dhara_temp_setpoint_celsius", v)
}

func (e *Engine) pushTargets(ctx context.Context, flow, temp float64) {
	e.sendActuator(ctx, actuatorMsg{hasFlow: true, flow: flow, hasTemp: true, temp: temp}, false)
	e.deps.Obs.SetGauge("dhara_flow_setpoint_ml_min", flow)
	e.deps.Obs.SetGauge("dhara_temp_setpoint_celsius", temp)
}

// actuatorOff waits for the owner to confirm the outputs are off before
// returning, which is what lets the emergency path guarantee hardware
// shutdown precedes any network publish.
func (e *Engine) actuatorOff(ctx context.Context) {
	e.sendActuator(ctx, actuatorMsg{off: true}, true)
	e.deps.Obs.SetGauge("dhara_flow_setpoint_ml_min", 0)
	e.deps.Obs.SetGauge("dhara_temp_setpoint_celsius", 0)
}

// finalizeSession ends the running session normally: outputs off, status
// "completed" written back. Ending an already idle engine is a no-op,
// which is what makes stop_session idempotent.
func (e *Engine) finalizeSession(ctx context.Context) {
	info, err := e.hub.End()
	if err != nil {
		return
	}
	e.actuatorOff(ctx)
	e.deps.Obs.SetGauge("dhara_session_active", 0)
	e.deps.Obs.SetGauge("dhara_session_elapsed_seconds", 0)

	endedAt := e.deps.Clock.Now()
	if e.deps.Store != nil {
		if err := e.deps.Store.UpdateStatus(ctx, info.PatientID, info.SessionID, domain.StatusCompleted, &endedAt); err != nil {
			e.deps.Obs.LogError("session status update failed", err,
				ports.Field{Key: "session_id", Value: info.SessionID},
				ports.Field{Key: "status", Value: domain.StatusCompleted})
		}
	}
	e.deps.Obs.LogInfo("session completed",
		ports.Field{Key: "patient_id", Value: info.PatientID},
		ports.Field{Key: "session_id", Value: info.SessionID})
}

// emergencyStop secures the hardware and reports the event. The hub is
// cleared first, which atomically claims the transition: when requireActive
// is set (safety trips) a second racing trip finds the hub idle and does
// nothing, keeping the emergency one-shot per session. The actuator is
// forced off, completion-waited, before any alert or status publish is
// attempted; the sensor powers down on the sampler's next tick once it
// observes the idle hub.
func (e *Engine) emergencyStop(ctx context.Context, reason string, value float64, requireActive bool) {
	info, endErr := e.hub.End()
	if requireActive && endErr != nil {
		return
	}
	e.actuatorOff(ctx)

	e.deps.Obs.IncCounter("dhara_emergency_stops_total", 1)
	e.deps.Obs.SetGauge("dhara_session_active", 0)
	e.deps.Obs.SetGauge("dhara_session_elapsed_seconds", 0)
	e.deps.Obs.LogCritical("emergency stop", fmt.Errorf("%s (value=%g)", reason, value),
		ports.Field{Key: "session_id", Value: info.SessionID})

	now := e.deps.Clock.Now()
	alert := domain.NewEmergencyAlert(e.set.DeviceID, "Emergency stop: "+reason, value, now)
	if endErr == nil {
		alert.PatientID = info.PatientID
		alert.SessionID = info.SessionID
	}
	if e.deps.Alerts != nil {
		if err := e.deps.Alerts.Publish(ctx, alert); err != nil {
			e.deps.Obs.LogError("alert publish failed", err, ports.Field{Key: "alert_id", Value: alert.ID})
		}
	}
	if endErr == nil && e.deps.Store != nil {
		if err := e.deps.Store.UpdateStatus(ctx, info.PatientID, info.SessionID, domain.StatusStoppedEmergency, &now); err != nil {
			e.deps.Obs.LogError("session status update failed", err,
				ports.Field{Key: "session_id", Value: info.SessionID},
				ports.Field{Key: "status", Value: domain.StatusStoppedEmergency})
		}
	}
}

// safetyTrip forces the emergency path for a live limit violation: the
// first one during a session wins, later ones find the hub idle.
func (e *Engine) safetyTrip(ctx context.Context, reason string, value float64) {
	e.emergencyStop(ctx, reason, value, true)
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
func (nopObs) RecordDrop(*domain.TelemetryRecord, error) {}

var _ ports.Observability = nopObs{}
