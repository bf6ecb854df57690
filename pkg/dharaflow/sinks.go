package dharaflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after
// being closed.
var ErrChannelSinkClosed = errors.New("dharaflow: channel sink closed")

// NewCallbackSink adapts a plain function into a TelemetrySink so callers
// can consume vitals records without defining structs.
func NewCallbackSink(name string, fn func(TelemetryRecord) error) TelemetrySink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes records via a channel; it returns the sink, the
// read-only channel, and a close function the caller should invoke during
// shutdown.
func NewChannelSink(name string, buffer int) (TelemetrySink, <-chan TelemetryRecord, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan TelemetryRecord, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

// NewFanOutSink publishes every record to all given sinks. It fails only
// when no sink accepted the record, so a single dead transport never drops
// vitals that another transport delivered; partial failures are logged.
func NewFanOutSink(sinks ...TelemetrySink) TelemetrySink {
	return &fanOutSink{sinks: sinks}
}

// NewCallbackAlerts adapts a plain function into an AlertSink.
func NewCallbackAlerts(fn func(Alert) error) AlertSink {
	return alertFunc(fn)
}

// NewLogActuator returns an actuator that only logs setpoint changes. It
// backs the "log" actuator driver and is handy for bench runs without
// delivery hardware.
func NewLogActuator() Actuator {
	return logActuator{}
}

type callbackSink struct {
	name string
	fn   func(TelemetryRecord) error
}

func (s *callbackSink) Publish(_ context.Context, rec TelemetryRecord) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	return s.fn(rec)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan TelemetryRecord
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) Publish(ctx context.Context, rec TelemetryRecord) error {
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- rec:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}

type fanOutSink struct {
	sinks []TelemetrySink
}

func (s *fanOutSink) Publish(ctx context.Context, rec TelemetryRecord) error {
	var errs []error
	delivered := 0
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		log.Printf("fanout: record %s partially failed: %v", rec.ID, err)
	}
	return nil
}

func (s *fanOutSink) Name() string {
	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.Name()
	}
	return strings.Join(names, "+")
}

type alertFunc func(Alert) error

func (f alertFunc) Publish(_ context.Context, alert Alert) error {
	if f == nil {
		return errors.New("alert callback: nil handler")
	}
	return f(alert)
}

type logActuator struct{}

func (logActuator) SetFlow(mlPerMin float64) { log.Printf("actuator: flow %.1f ml/min", mlPerMin) }
func (logActuator) SetTemp(celsius float64)  { log.Printf("actuator: temp %.1f C", celsius) }
func (logActuator) Off()                     { log.Printf("actuator: off") }
