package ppg

import (
	"math"
	"math/rand"
	"time"
)

// Synth generates a plausible resting-pulse PPG waveform for bench runs and
// sensor-fault fallback: a sinusoid at the target rate riding on the
// sensor's DC level, plus gaussian noise.
type Synth struct {
	BPM      float64
	Base     float64
	Amp      float64
	NoiseStd float64

	start time.Time
	rng   *rand.Rand
}

func NewSynth(bpm float64, seed int64) *Synth {
	return &Synth{
		BPM:      bpm,
		Base:     50000,
		Amp:      15000,
		NoiseStd: 2000,
		start:    time.Now(),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Restart re-seats the waveform phase at t. The sampler calls this when it
// switches to synthetic readings so the first sample starts a clean cycle.
func (s *Synth) Restart(t time.Time) { s.start = t }

// At returns the red/IR pair for instant t.
func (s *Synth) At(t time.Time) (red, ir uint32) {
	phase := t.Sub(s.start).Seconds() * (s.BPM / 60.0) * 2 * math.Pi
	v := s.Base + s.Amp*math.Sin(phase)
	if s.NoiseStd > 0 {
		v += s.rng.NormFloat64() * s.NoiseStd
	}
	if v < 0 {
		v = 0
	}
	return uint32(v * 0.9), uint32(v)
}
