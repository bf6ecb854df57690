package dharaflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func testRecord(id string) TelemetryRecord {
	return TelemetryRecord{
		ID:          id,
		DeviceID:    "dev-1",
		SpO2:        98,
		FlowState:   30,
		Temperature: 40,
		Timestamp:   time.Now(),
	}
}

func TestCallbackSinkDeliversRecords(t *testing.T) {
	var got []TelemetryRecord
	sink := NewCallbackSink("", func(rec TelemetryRecord) error {
		got = append(got, rec)
		return nil
	})

	if err := sink.Publish(context.Background(), testRecord("r1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("callback saw %+v", got)
	}
	if sink.Name() != "callback" {
		t.Fatalf("default name = %q", sink.Name())
	}
}

func TestCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("noop", nil)
	if err := sink.Publish(context.Background(), testRecord("r1")); err == nil {
		t.Fatalf("nil handler accepted a record")
	}
}

func TestChannelSinkDeliversAndCloses(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("vitals", 4)
	if sink.Name() != "vitals" {
		t.Fatalf("name = %q", sink.Name())
	}

	if err := sink.Publish(context.Background(), testRecord("r1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case rec := <-ch:
		if rec.ID != "r1" {
			t.Fatalf("received %q", rec.ID)
		}
	default:
		t.Fatalf("record not buffered")
	}

	closeFn()
	closeFn() // idempotent

	if err := sink.Publish(context.Background(), testRecord("r2")); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("publish after close: got %v, want ErrChannelSinkClosed", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed for readers")
	}
}

func TestChannelSinkHonorsContext(t *testing.T) {
	sink, _, closeFn := NewChannelSink("vitals", 0)
	defer closeFn()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Publish(ctx, testRecord("r1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("publish on cancelled context: got %v, want context.Canceled", err)
	}
}

func TestFanOutDeliversToAllSinks(t *testing.T) {
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b"}
	sink := NewFanOutSink(a, b)

	if got := sink.Name(); got != "a+b" {
		t.Fatalf("name = %q", got)
	}
	if err := sink.Publish(context.Background(), testRecord("r1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("deliveries a=%d b=%d", a.count(), b.count())
	}
}

func TestFanOutToleratesPartialFailure(t *testing.T) {
	dead := &captureSink{name: "dead", err: errors.New("broker down")}
	live := &captureSink{name: "live"}
	sink := NewFanOutSink(dead, live)

	if err := sink.Publish(context.Background(), testRecord("r1")); err != nil {
		t.Fatalf("partial failure surfaced: %v", err)
	}
	if live.count() != 1 {
		t.Fatalf("live sink deliveries = %d", live.count())
	}
}

func TestFanOutFailsWhenNothingDelivered(t *testing.T) {
	a := &captureSink{name: "a", err: errors.New("down")}
	b := &captureSink{name: "b", err: errors.New("also down")}
	sink := NewFanOutSink(a, b)

	err := sink.Publish(context.Background(), testRecord("r1"))
	if err == nil {
		t.Fatalf("total failure reported success")
	}
	for _, name := range []string{"a", "b"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q does not name sink %q", err, name)
		}
	}
}

func TestCallbackAlertsDeliver(t *testing.T) {
	var got []Alert
	sink := NewCallbackAlerts(func(a Alert) error {
		got = append(got, a)
		return nil
	})

	if err := sink.Publish(context.Background(), Alert{ID: "a1", Message: "Emergency stop: temp_high"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("callback saw %+v", got)
	}
}

type captureSink struct {
	name string
	err  error

	mu   sync.Mutex
	recs []TelemetryRecord
}

func (s *captureSink) Publish(_ context.Context, rec TelemetryRecord) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}
