package ppg

import (
	"testing"
	"time"

	"dharaflow/internal/domain"
)

func TestWindowWrapAndEvict(t *testing.T) {
	w := NewWindow(4)
	base := time.Unix(100, 0)
	for i := 0; i < 6; i++ {
		w.Push(domain.Sample{Timestamp: base.Add(time.Duration(i) * time.Second), IR: uint32(i)})
	}
	if w.Len() != 4 {
		t.Fatalf("expected full window of 4, got %d", w.Len())
	}

	snap := w.Snapshot(nil)
	if snap[0].IR != 2 || snap[3].IR != 5 {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}

	w.EvictBefore(base.Add(4 * time.Second))
	if w.Len() != 2 {
		t.Fatalf("expected 2 samples after eviction, got %d", w.Len())
	}
	snap = w.Snapshot(snap)
	if snap[0].IR != 4 || snap[1].IR != 5 {
		t.Fatalf("unexpected samples after eviction: %+v", snap)
	}

	w.Clear()
	if w.Len() != 0 {
		t.Fatalf("window should be empty after clear")
	}
}

func TestWindowSnapshotReuse(t *testing.T) {
	w := NewWindow(8)
	base := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		w.Push(domain.Sample{Timestamp: base.Add(time.Duration(i) * time.Millisecond)})
	}
	buf := make([]domain.Sample, 0, 8)
	snap := w.Snapshot(buf)
	if len(snap) != 3 || cap(snap) != 8 {
		t.Fatalf("snapshot should reuse the provided buffer: len=%d cap=%d", len(snap), cap(snap))
	}
}
