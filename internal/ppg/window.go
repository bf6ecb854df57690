package ppg

import (
	"time"

	"dharaflow/internal/domain"
)

// Window is a fixed-capacity ring of samples covering the trailing analysis
// interval. It is owned by the sampler goroutine and is not safe for
// concurrent use. When full, the oldest sample is overwritten.
type Window struct {
	buf   []domain.Sample
	head  int
	count int
}

func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]domain.Sample, capacity)}
}

func (w *Window) Push(s domain.Sample) {
	tail := (w.head + w.count) % len(w.buf)
	w.buf[tail] = s
	if w.count == len(w.buf) {
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.count++
	}
}

// EvictBefore drops samples older than cutoff from the front of the window.
func (w *Window) EvictBefore(cutoff time.Time) {
	for w.count > 0 && w.buf[w.head].Timestamp.Before(cutoff) {
		w.head = (w.head + 1) % len(w.buf)
		w.count--
	}
}

func (w *Window) Len() int { return w.count }

func (w *Window) Clear() { w.head, w.count = 0, 0 }

// Snapshot copies the window in chronological order into dst, reallocating
// only when dst is too small, and returns the filled slice.
func (w *Window) Snapshot(dst []domain.Sample) []domain.Sample {
	if cap(dst) < w.count {
		dst = make([]domain.Sample, w.count)
	}
	dst = dst[:w.count]
	for i := 0; i < w.count; i++ {
		dst[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return dst
}
