package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"dharaflow/internal/domain"
	"dharaflow/internal/ppg"
)

func TestSamplerSyntheticWaveformProducesEstimate(t *testing.T) {
	rig := newTestRig(t, nil)

	st := rig.e.newSamplerState(1)
	rig.e.samplerActivate(st)
	if !st.synthetic {
		t.Fatalf("no sensor wired, sampler should run synthetic")
	}
	st.synth.NoiseStd = 0

	for i := 0; i < 700; i++ {
		rig.clock.Advance(20 * time.Millisecond)
		rig.e.sampleOnce(rig.ctx, st)
	}

	est, ok := rig.e.Estimate()
	if !ok {
		t.Fatalf("detector should have produced an estimate")
	}
	if math.Abs(est.BPM-72) > 0.05*72 {
		t.Fatalf("estimate %.1f bpm too far from the 72 bpm waveform", est.BPM)
	}
	if len(est.RR) == 0 {
		t.Fatalf("estimate should carry beat intervals")
	}
	for _, rr := range est.RR {
		if rr <= 0.3 || rr >= 2.0 {
			t.Fatalf("implausible beat interval %.3fs", rr)
		}
	}
}

func TestSamplerHighPulseTripsOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.startSession(t, "c1")

	st := rig.e.newSamplerState(1)
	rig.e.samplerActivate(st)
	st.synth = ppg.NewSynth(160, 1)
	st.synth.NoiseStd = 0
	st.synth.Restart(rig.clock.Now())

	for i := 0; i < 200; i++ {
		rig.clock.Advance(20 * time.Millisecond)
		rig.e.sampleOnce(rig.ctx, st)
	}

	if rig.e.Snapshot().Active() {
		t.Fatalf("160 bpm waveform should have tripped the session")
	}
	alerts := rig.alerts.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("trip must be one-shot, got %d alerts", len(alerts))
	}
	if alerts[0].Message != "Emergency stop: pulse_high" {
		t.Fatalf("unexpected alert %q", alerts[0].Message)
	}
	if alerts[0].Value <= 150 {
		t.Fatalf("alert should carry the offending rate, got %v", alerts[0].Value)
	}
}

func TestSamplerFallsBackAndReprobes(t *testing.T) {
	sensor := &stubSensor{startErr: errors.New("no response on i2c")}
	rig := newTestRig(t, func(_ *Settings, deps *Deps) { deps.Sensor = sensor })

	st := rig.e.newSamplerState(1)
	st.synth.NoiseStd = 0
	rig.e.samplerActivate(st)
	if !st.synthetic {
		t.Fatalf("failed probe should engage the synthetic waveform")
	}

	for i := 0; i < 10; i++ {
		rig.clock.Advance(20 * time.Millisecond)
		rig.e.sampleOnce(rig.ctx, st)
	}
	if starts, _, reads := sensor.counts(); starts != 1 || reads != 0 {
		t.Fatalf("hardware must be left alone until the next probe window, starts=%d reads=%d", starts, reads)
	}

	sensor.set(nil, nil)
	rig.clock.Advance(10 * time.Second)
	rig.e.sampleOnce(rig.ctx, st)

	if starts, _, reads := sensor.counts(); starts != 2 || reads != 1 {
		t.Fatalf("probe window should retry the hardware, starts=%d reads=%d", starts, reads)
	}
	if st.synthetic {
		t.Fatalf("successful probe should resume hardware reads")
	}
}

func TestSamplerReadFailureEngagesSynthetic(t *testing.T) {
	sensor := &stubSensor{red: 48000, ir: 52000}
	rig := newTestRig(t, func(_ *Settings, deps *Deps) { deps.Sensor = sensor })

	st := rig.e.newSamplerState(1)
	st.synth.NoiseStd = 0
	rig.e.samplerActivate(st)
	if st.synthetic {
		t.Fatalf("healthy sensor should be used directly")
	}

	rig.clock.Advance(20 * time.Millisecond)
	rig.e.sampleOnce(rig.ctx, st)

	sensor.set(nil, errors.New("bus error"))
	rig.clock.Advance(20 * time.Millisecond)
	rig.e.sampleOnce(rig.ctx, st)
	if !st.synthetic {
		t.Fatalf("read failure should engage the synthetic waveform")
	}

	rig.clock.Advance(20 * time.Millisecond)
	rig.e.sampleOnce(rig.ctx, st)
	if _, _, reads := sensor.counts(); reads != 2 {
		t.Fatalf("no further reads expected before the probe window, got %d", reads)
	}
	if st.win.Len() != 3 {
		t.Fatalf("synthetic samples must keep the window fed, got %d", st.win.Len())
	}
}

func TestSamplerDeactivateClearsState(t *testing.T) {
	sensor := &stubSensor{red: 48000, ir: 52000}
	rig := newTestRig(t, func(_ *Settings, deps *Deps) { deps.Sensor = sensor })

	st := rig.e.newSamplerState(1)
	rig.e.samplerActivate(st)
	for i := 0; i < 3; i++ {
		rig.clock.Advance(20 * time.Millisecond)
		rig.e.sampleOnce(rig.ctx, st)
	}
	rig.e.setEstimate(domain.PulseEstimate{BPM: 70, UpdatedAt: rig.clock.Now()})

	rig.e.samplerDeactivate(st)

	if st.active || st.hwOn {
		t.Fatalf("sampler should be fully idle: %+v", st)
	}
	if starts, stops, _ := sensor.counts(); starts != 1 || stops != 1 {
		t.Fatalf("sensor should be started and stopped exactly once, starts=%d stops=%d", starts, stops)
	}
	if st.win.Len() != 0 {
		t.Fatalf("window must be cleared, got %d samples", st.win.Len())
	}
	if _, ok := rig.e.Estimate(); ok {
		t.Fatalf("stale estimate must not survive deactivation")
	}
}
