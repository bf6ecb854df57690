package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

// Metric names understood by IncCounter/SetGauge/ObserveLatency.
const (
	MetricPulseBPM          = "dhara_pulse_bpm"
	MetricFlowSetpoint      = "dhara_flow_setpoint_ml_min"
	MetricTempSetpoint      = "dhara_temp_setpoint_celsius"
	MetricSessionActive     = "dhara_session_active"
	MetricSessionElapsed    = "dhara_session_elapsed_seconds"
	MetricSensorSynthetic   = "dhara_sensor_synthetic"
	MetricSamplesTotal      = "dhara_samples_total"
	MetricSensorFaults      = "dhara_sensor_faults_total"
	MetricCommandsTotal     = "dhara_commands_total"
	MetricCommandsRejected  = "dhara_commands_rejected_total"
	MetricTelemetryTotal    = "dhara_telemetry_published_total"
	MetricTelemetryDropped  = "dhara_telemetry_dropped_total"
	MetricEmergencyStops    = "dhara_emergency_stops_total"
	MetricHeartbeatsTotal   = "dhara_heartbeats_total"
	MetricPublishLatencySec = "dhara_publish_latency_seconds"
	MetricSpoolPending      = "dhara_spool_pending"
	MetricSpoolBytes        = "dhara_spool_size_bytes"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	counters := map[string]prometheus.Counter{}
	for name, help := range map[string]string{
		MetricSamplesTotal:     "Sensor samples read since start.",
		MetricSensorFaults:     "Sensor read or probe failures.",
		MetricCommandsTotal:    "Commands received from the command channel.",
		MetricCommandsRejected: "Commands rejected by validation.",
		MetricTelemetryTotal:   "Telemetry records published.",
		MetricTelemetryDropped: "Telemetry records lost after publish and spool both failed.",
		MetricEmergencyStops:   "Emergency stops triggered by the safety monitor.",
		MetricHeartbeatsTotal:  "Presence heartbeats sent.",
	} {
		counters[name] = prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}

	gauges := map[string]prometheus.Gauge{}
	for name, help := range map[string]string{
		MetricPulseBPM:        "Latest pulse estimate, 0 when none.",
		MetricFlowSetpoint:    "Current flow setpoint.",
		MetricTempSetpoint:    "Current temperature setpoint.",
		MetricSessionActive:   "1 while a session is running.",
		MetricSessionElapsed:  "Elapsed seconds of the running session.",
		MetricSensorSynthetic: "1 while readings come from the synthetic waveform.",
		MetricSpoolPending:    "Telemetry records waiting in the on-disk spool.",
		MetricSpoolBytes:      "Size of the on-disk telemetry spool.",
	} {
		gauges[name] = prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricPublishLatencySec,
		Help:    "Latency of one telemetry publish attempt.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	for _, c := range counters {
		prometheus.MustRegister(c)
	}
	for _, g := range gauges {
		prometheus.MustRegister(g)
	}
	prometheus.MustRegister(latency)

	return &PromObs{
		counters: counters,
		gauges:   gauges,
		histos:   map[string]prometheus.Observer{MetricPublishLatencySec: latency},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, fieldSuffix(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v%s", msg, err, fieldSuffix(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	log.Printf("CRITICAL: %s: %v%s", msg, err, fieldSuffix(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDrop(rec *domain.TelemetryRecord, err error) {
	p.IncCounter(MetricTelemetryDropped, 1)
	if rec != nil {
		log.Printf("DROP telemetry id=%s session=%s err=%v", rec.ID, rec.SessionID, err)
	}
}

func fieldSuffix(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
