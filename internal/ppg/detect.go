package ppg

import (
	"math"

	"dharaflow/internal/domain"
)

// MinSamples is the smallest window Analyze will attempt an estimate on.
const MinSamples = 40

const (
	smoothSpan   = 4   // trailing moving-average width
	thresholdK   = 0.4 // peaks must clear mean + k·stddev
	minBeatGap   = 0.3 // seconds; anything tighter is noise
	maxBeatGap   = 2.0 // seconds; anything wider is a dropout
	maxIntervals = 20
)

// Result is a successful pulse analysis of one window.
type Result struct {
	BPM float64
	RR  []float64
}

// Analyze runs peak detection over a chronological sample window and
// estimates the pulse rate from the IR channel. ok is false when the window
// cannot support an estimate (too few samples or peaks, no plausible beat
// intervals); callers keep their previous estimate.
//
// The signal is smoothed with a trailing moving average, peaks are local
// maxima above an adaptive threshold (plateaus count once, at their left
// edge), and beat intervals outside (0.3 s, 2.0 s) are discarded. The rate
// is 60 over the mean surviving interval, rounded to one decimal.
func Analyze(samples []domain.Sample) (Result, bool) {
	n := len(samples)
	if n <= MinSamples {
		return Result{}, false
	}

	smoothed := make([]float64, n)
	var sum float64
	for i := range samples {
		lo := i - smoothSpan + 1
		if lo < 0 {
			lo = 0
		}
		var acc float64
		for j := lo; j <= i; j++ {
			acc += float64(samples[j].IR)
		}
		smoothed[i] = acc / float64(i-lo+1)
		sum += smoothed[i]
	}
	mean := sum / float64(n)

	var varAcc float64
	for _, v := range smoothed {
		d := v - mean
		varAcc += d * d
	}
	threshold := mean + thresholdK*math.Sqrt(varAcc/float64(n))

	var rr []float64
	var lastPeak int = -1
	peaks := 0
	for i := 1; i < n-1; i++ {
		v := smoothed[i]
		if v <= threshold || v <= smoothed[i-1] || v < smoothed[i+1] {
			continue
		}
		peaks++
		if lastPeak >= 0 {
			d := samples[i].Timestamp.Sub(samples[lastPeak].Timestamp).Seconds()
			if d > minBeatGap && d < maxBeatGap {
				rr = append(rr, d)
			}
		}
		lastPeak = i
	}
	if peaks < 2 || len(rr) == 0 {
		return Result{}, false
	}
	if len(rr) > maxIntervals {
		rr = rr[len(rr)-maxIntervals:]
	}

	var total float64
	for _, d := range rr {
		total += d
	}
	meanRR := total / float64(len(rr))
	bpm := math.Round(60.0/meanRR*10) / 10
	return Result{BPM: bpm, RR: rr}, true
}

// RMSSD computes the root mean square of successive beat-interval
// differences, in milliseconds. Needs at least two intervals.
func RMSSD(rr []float64) (float64, bool) {
	if len(rr) < 2 {
		return 0, false
	}
	var acc float64
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		acc += d * d
	}
	return math.Sqrt(acc/float64(len(rr)-1)) * 1000, true
}
