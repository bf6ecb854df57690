package therapy

import (
	"math"
	"time"
)

// Targets are the setpoints the curve asks for at a given instant.
type Targets struct {
	Flow float64 // ml/min
	Temp float64 // °C
}

// DefaultPulse is assumed while no estimate is available.
const DefaultPulse = 72.0

const (
	warmupFraction   = 0.10
	cooldownFraction = 0.90
)

// AutoTargets computes the therapeutic delivery curve. The first tenth of
// the session ramps temperature 37→39 °C and flow 20→35 ml/min; the last
// tenth ramps both back down; the steady phase holds 38 °C / 30 ml/min
// adjusted by the patient's pulse (offsets clamped to [-0.5,1.5] °C and
// [-2,5] ml/min) with a slow sinusoidal flow oscillation of ±0.5 ml/min.
// A nil pulse falls back to DefaultPulse. A non-positive duration is
// treated as an already-finished session.
func AutoTargets(elapsed, duration time.Duration, pulse *float64) Targets {
	p := 1.0
	if duration > 0 {
		p = elapsed.Seconds() / duration.Seconds()
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	switch {
	case p < warmupFraction:
		r := p * 10
		return Targets{Flow: 20 + r*15, Temp: 37 + r*2}
	case p > cooldownFraction:
		r := (p - cooldownFraction) * 10
		return Targets{Flow: 35 - r*15, Temp: 39 - r*2}
	}

	bpm := DefaultPulse
	if pulse != nil {
		bpm = *pulse
	}
	flow := 30 + clamp((bpm-60)*0.1, -2, 5) + 0.5*math.Sin(elapsed.Seconds()/5)
	temp := 38 + clamp((bpm-60)*0.05, -0.5, 1.5)
	return Targets{Flow: flow, Temp: temp}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
