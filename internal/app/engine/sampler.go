package engine

import (
	"context"
	"time"

	"dharaflow/internal/domain"
	"dharaflow/internal/ppg"
)

// samplerState is owned by the sampler goroutine alone. The sensor port is
// only ever touched from here, so hardware access never contends with the
// command or telemetry loops.
type samplerState struct {
	win   *ppg.Window
	synth *ppg.Synth
	buf   []domain.Sample

	active    bool
	hwOn      bool
	synthetic bool
	nextProbe time.Time
}

func (e *Engine) newSamplerState(seed int64) *samplerState {
	capacity := int(e.set.Window / e.set.SensorInterval)
	if capacity < 2*ppg.MinSamples {
		capacity = 2 * ppg.MinSamples
	}
	return &samplerState{
		win:   ppg.NewWindow(capacity),
		synth: ppg.NewSynth(e.set.SyntheticBPM, seed),
	}
}

func (e *Engine) runSampler(ctx context.Context) {
	st := e.newSamplerState(time.Now().UnixNano())
	defer e.stopSensor(st)

	tick := time.NewTicker(e.set.IdleInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		snap := e.hub.Snapshot()
		switch {
		case snap.Active() && !st.active:
			e.samplerActivate(st)
			tick.Reset(e.set.SensorInterval)
		case !snap.Active() && st.active:
			e.samplerDeactivate(st)
			tick.Reset(e.set.IdleInterval)
		}
		if st.active {
			e.sampleOnce(ctx, st)
		}
	}
}

// samplerActivate switches to the fast sampling cadence and powers the
// sensor up, engaging the synthetic waveform when there is no usable
// hardware.
func (e *Engine) samplerActivate(st *samplerState) {
	st.active = true
	now := e.deps.Clock.Now()
	if e.startSensor(st, now) {
		st.synthetic = false
		e.deps.Obs.SetGauge("dhara_sensor_synthetic", 0)
		return
	}
	st.synthetic = true
	st.synth.Restart(now)
	e.deps.Obs.SetGauge("dhara_sensor_synthetic", 1)
}

// samplerDeactivate clears the window and the published estimate so stale
// data never leaks into the next session.
func (e *Engine) samplerDeactivate(st *samplerState) {
	st.active = false
	e.stopSensor(st)
	st.win.Clear()
	e.clearEstimate()
	e.deps.Obs.SetGauge("dhara_pulse_bpm", 0)
	e.deps.Obs.SetGauge("dhara_sensor_synthetic", 0)
}

func (e *Engine) startSensor(st *samplerState, now time.Time) bool {
	if e.deps.Sensor == nil {
		return false
	}
	if err := e.deps.Sensor.Start(); err != nil {
		e.deps.Obs.LogError("sensor start failed, synthetic waveform engaged", err)
		e.deps.Obs.IncCounter("dhara_sensor_faults_total", 1)
		st.nextProbe = now.Add(e.set.ReprobeInterval)
		return false
	}
	st.hwOn = true
	return true
}

func (e *Engine) stopSensor(st *samplerState) {
	if !st.hwOn {
		return
	}
	st.hwOn = false
	if err := e.deps.Sensor.Stop(); err != nil {
		e.deps.Obs.LogError("sensor stop failed", err)
	}
}

// sampleOnce reads one sample, maintains the analysis window and, when the
// detector produces a usable result, republishes the pulse estimate and
// checks it against the pulse limits.
func (e *Engine) sampleOnce(ctx context.Context, st *samplerState) {
	now := e.deps.Clock.Now()
	red, ir, ok := e.readSensor(st, now)
	if !ok {
		red, ir = st.synth.At(now)
	}

	st.win.Push(domain.Sample{Timestamp: now, Red: red, IR: ir})
	st.win.EvictBefore(now.Add(-e.set.Window))
	e.deps.Obs.IncCounter("dhara_samples_total", 1)

	if st.win.Len() <= ppg.MinSamples {
		return
	}
	st.buf = st.win.Snapshot(st.buf)
	res, ok := ppg.Analyze(st.buf)
	if !ok {
		return
	}

	e.setEstimate(domain.PulseEstimate{BPM: res.BPM, RR: res.RR, UpdatedAt: now})
	e.deps.Obs.SetGauge("dhara_pulse_bpm", res.BPM)

	switch {
	case res.BPM > e.set.Limits.PulseMax:
		e.safetyTrip(ctx, "pulse_high", res.BPM)
	case res.BPM < e.set.Limits.PulseMin:
		e.safetyTrip(ctx, "pulse_low", res.BPM)
	}
}

// readSensor returns one hardware sample. Failures engage the synthetic
// waveform; while synthetic, the hardware is re-probed on a slow cadence
// and reads resume as soon as a probe succeeds.
func (e *Engine) readSensor(st *samplerState, now time.Time) (red, ir uint32, ok bool) {
	if e.deps.Sensor == nil {
		return 0, 0, false
	}
	if st.synthetic {
		if now.Before(st.nextProbe) {
			return 0, 0, false
		}
		if !e.startSensor(st, now) {
			return 0, 0, false
		}
	}

	red, ir, err := e.deps.Sensor.Read()
	if err != nil {
		e.deps.Obs.LogError("sensor read failed, synthetic waveform engaged", err)
		e.deps.Obs.IncCounter("dhara_sensor_faults_total", 1)
		st.synthetic = true
		st.synth.Restart(now)
		st.nextProbe = now.Add(e.set.ReprobeInterval)
		e.deps.Obs.SetGauge("dhara_sensor_synthetic", 1)
		return 0, 0, false
	}
	if st.synthetic {
		st.synthetic = false
		e.deps.Obs.LogInfo("sensor recovered, hardware reads resumed")
		e.deps.Obs.SetGauge("dhara_sensor_synthetic", 0)
	}
	return red, ir, true
}
