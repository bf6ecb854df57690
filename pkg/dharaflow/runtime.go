package dharaflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dharaflow/internal/adapters/gpiopwm"
	"dharaflow/internal/adapters/max30102"
	"dharaflow/internal/adapters/natsbus"
	"dharaflow/internal/adapters/observability"
	"dharaflow/internal/adapters/opcua"
	"dharaflow/internal/adapters/redisstore"
	"dharaflow/internal/adapters/spool"
	"dharaflow/internal/adapters/timescale"
	"dharaflow/internal/app/engine"
	"dharaflow/internal/ports"
)

// Option customizes the dependencies used by Runtime.
type Option func(*overrides)

type overrides struct {
	sensor    Sensor
	actuator  Actuator
	commands  CommandSource
	store     SessionStore
	presence  Presence
	telemetry TelemetrySink
	alerts    AlertSink
	obs       Observability
	clock     Clock
}

// WithSensor injects a custom PPG source in place of the configured driver.
func WithSensor(s Sensor) Option {
	return func(o *overrides) { o.sensor = s }
}

// WithActuator injects a custom delivery actuator.
func WithActuator(a Actuator) Option {
	return func(o *overrides) { o.actuator = a }
}

// WithCommandSource injects a custom command channel (e.g. a LocalCommander).
func WithCommandSource(c CommandSource) Option {
	return func(o *overrides) { o.commands = c }
}

// WithSessionStore injects a custom session metadata store.
func WithSessionStore(s SessionStore) Option {
	return func(o *overrides) { o.store = s }
}

// WithPresence injects a custom liveness reporter.
func WithPresence(p Presence) Option {
	return func(o *overrides) { o.presence = p }
}

// WithTelemetrySink injects a custom vitals sink in place of the configured
// transports.
func WithTelemetrySink(s TelemetrySink) Option {
	return func(o *overrides) { o.telemetry = s }
}

// WithAlertSink injects a custom alert sink.
func WithAlertSink(s AlertSink) Option {
	return func(o *overrides) { o.alerts = s }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// WithClock overrides the device clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *overrides) { o.clock = c }
}

// Runtime wires the configured adapters around the session engine and
// exposes simple lifecycle hooks for embedding the device stack inside any
// Go service.
type Runtime struct {
	cfg *Config
	eng *engine.Engine
	obs ports.Observability

	spoolFile   *spool.File
	metricsSrv  *http.Server
	gaugeStopCh chan struct{}
	closers     []func() error
}

// NewRuntime bootstraps the configured adapters (MAX30102 sensor, GPIO or
// OPC UA actuator, Redis command/session store, NATS and Timescale sinks,
// Prometheus observability). Option values override any dependency so the
// stack can run against custom hardware, stores, or transports.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var ov overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&ov)
		}
	}

	rt := &Runtime{cfg: cfg}

	obs := ov.obs
	if obs == nil {
		obs = observability.NewPromObs()
	}
	rt.obs = obs

	clock := ov.clock
	if clock == nil {
		clock = ports.RealClock{}
	}

	// one Redis client backs commands, session metadata and presence
	// unless every one of those ports is overridden
	commands, sessions, presence := ov.commands, ov.store, ov.presence
	if commands == nil || sessions == nil || presence == nil {
		store := redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.Namespace, cfg.Device.ID, cfg.Presence.TTL.Std(), cfg.SessionDefaults())
		rt.closers = append(rt.closers, store.Close)
		if commands == nil {
			commands = store
		}
		if sessions == nil {
			sessions = store
		}
		if presence == nil {
			presence = store
		}
	}

	sensor := ov.sensor
	if sensor == nil {
		switch cfg.Sensor.Driver {
		case SensorSynthetic:
			// nil sensor makes the sampler run its synthetic waveform
		case SensorMAX30102:
			hw, err := max30102.New(cfg.Sensor.MAX30102)
			if err != nil {
				return nil, errors.Join(err, rt.closeAll())
			}
			rt.closers = append(rt.closers, hw.Close)
			sensor = hw
		default:
			return nil, errors.Join(fmt.Errorf("sensor driver %q is not wired", cfg.Sensor.Driver), rt.closeAll())
		}
	}

	actuator := ov.actuator
	if actuator == nil {
		var err error
		switch cfg.Actuator.Driver {
		case ActuatorLog:
			actuator = NewLogActuator()
		case ActuatorGPIO:
			var hw *gpiopwm.Actuator
			if hw, err = gpiopwm.New(cfg.Actuator.GPIO); err == nil {
				rt.closers = append(rt.closers, hw.Close)
				actuator = hw
			}
		case ActuatorOPCUA:
			var hw *opcua.Actuator
			if hw, err = opcua.New(cfg.Actuator.OPCUA); err == nil {
				rt.closers = append(rt.closers, hw.Close)
				actuator = hw
			}
		default:
			err = fmt.Errorf("actuator driver %q is not wired", cfg.Actuator.Driver)
		}
		if err != nil {
			return nil, errors.Join(err, rt.closeAll())
		}
	}

	telemetry, alerts := ov.telemetry, ov.alerts

	var bus *natsbus.Bus
	if cfg.NATS.URL != "" && (telemetry == nil || alerts == nil) {
		var err error
		bus, err = natsbus.New(cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.Device.ID)
		if err != nil {
			return nil, errors.Join(err, rt.closeAll())
		}
		rt.closers = append(rt.closers, func() error { bus.Close(); return nil })
	}

	if telemetry == nil {
		var sinks []TelemetrySink
		if bus != nil {
			sinks = append(sinks, bus.Telemetry())
		}
		if cfg.Timescale.ConnString != "" {
			db, err := sql.Open("postgres", cfg.Timescale.ConnString)
			if err != nil {
				return nil, errors.Join(err, rt.closeAll())
			}
			rt.closers = append(rt.closers, db.Close)
			sinks = append(sinks, timescale.New(db, cfg.Timescale.Table))
		}
		switch len(sinks) {
		case 0:
			// a validated config always names at least one transport
		case 1:
			telemetry = sinks[0]
		default:
			telemetry = NewFanOutSink(sinks...)
		}
	}
	if telemetry != nil && cfg.Spool.Dir != "" {
		file, err := spool.Open(cfg.Spool.Dir, 0)
		if err != nil {
			return nil, errors.Join(err, rt.closeAll())
		}
		rt.spoolFile = file
		rt.closers = append(rt.closers, file.Close)
		telemetry = spool.Wrap(telemetry, file)
	}
	if alerts == nil && bus != nil {
		alerts = bus.Alerts()
	}

	eng, err := engine.New(engine.Settings{
		DeviceID:          cfg.Device.ID,
		SensorInterval:    cfg.Sampling.SensorInterval.Std(),
		IdleInterval:      cfg.Sampling.IdleInterval.Std(),
		Window:            cfg.Sampling.Window.Std(),
		TelemetryInterval: cfg.Telemetry.Interval.Std(),
		CommandIdlePoll:   cfg.Command.IdlePoll.Std(),
		HeartbeatInterval: cfg.Presence.Heartbeat.Std(),
		Staleness:         cfg.Command.Staleness.Std(),
		ReprobeInterval:   cfg.Sampling.ReprobeInterval.Std(),
		SyntheticBPM:      cfg.Sampling.SynthBPM,
		Limits:            cfg.Safety.Limits(),
		SessionDefaults:   cfg.SessionDefaults(),
	}, engine.Deps{
		Sensor:    sensor,
		Actuator:  actuator,
		Commands:  commands,
		Store:     sessions,
		Presence:  presence,
		Telemetry: telemetry,
		Alerts:    alerts,
		Obs:       obs,
		Clock:     clock,
	})
	if err != nil {
		return nil, errors.Join(err, rt.closeAll())
	}
	rt.eng = eng

	return rt, nil
}

// Start launches the control loops and the metrics endpoint. It returns
// immediately; call Run to block on a context instead.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if err := r.eng.Start(); err != nil {
		return err
	}
	r.startMetrics()
	return nil
}

// Run starts the runtime and blocks until the provided context is
// cancelled, then attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the control loops, the metrics server, and every adapter
// the runtime owns. The engine stops first so the actuator is off before
// any transport goes away.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.eng != nil {
		if err := r.eng.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if r.gaugeStopCh != nil {
		close(r.gaugeStopCh)
		r.gaugeStopCh = nil
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
	}

	if err := r.closeAll(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Session returns the engine's current session snapshot.
func (r *Runtime) Session() SessionSnapshot { return r.eng.Snapshot() }

// Pulse returns the detector's current estimate, false while none exists.
func (r *Runtime) Pulse() (PulseEstimate, bool) { return r.eng.Estimate() }

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/statusz", r.handleStatus)

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	if r.spoolFile != nil {
		r.gaugeStopCh = make(chan struct{})
		go r.recordSpoolGauges(r.gaugeStopCh, time.Second)
	}
}

func (r *Runtime) recordSpoolGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := r.spoolFile.Stats()
			r.obs.SetGauge(observability.MetricSpoolPending, float64(stats.Pending))
			r.obs.SetGauge(observability.MetricSpoolBytes, float64(stats.SizeBytes))
		}
	}
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := r.eng.Snapshot()
	est, estOK := r.eng.Estimate()

	out := struct {
		DeviceID  string   `json:"device_id"`
		Phase     string   `json:"phase"`
		Mode      string   `json:"mode,omitempty"`
		PatientID string   `json:"patient_id,omitempty"`
		SessionID string   `json:"session_id,omitempty"`
		Elapsed   float64  `json:"elapsed_seconds,omitempty"`
		Flow      float64  `json:"flow"`
		Temp      float64  `json:"temperature"`
		Pulse     *float64 `json:"pulse,omitempty"`
	}{
		DeviceID: r.cfg.Device.ID,
		Phase:    snap.Phase.String(),
		Flow:     snap.Flow,
		Temp:     snap.Temp,
	}
	if snap.Active() {
		out.Mode = string(snap.Mode)
		out.PatientID = snap.Info.PatientID
		out.SessionID = snap.Info.SessionID
		out.Elapsed = snap.Elapsed(time.Now()).Seconds()
	}
	if estOK {
		v := est.BPM
		out.Pulse = &v
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
