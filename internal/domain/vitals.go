package domain

import "time"

// Sample is one raw optical reading taken from the PPG front end.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	Red       uint32    `json:"red"`
	IR        uint32    `json:"ir"`
}

// PulseEstimate is the sampler's current belief about the patient's pulse,
// derived from the trailing analysis window. RR holds the most recent
// beat-to-beat intervals in seconds, newest last.
type PulseEstimate struct {
	BPM       float64   `json:"bpm"`
	RR        []float64 `json:"rr"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SafetyLimits bound the physiological readings and delivery setpoints the
// engine tolerates before forcing an emergency stop.
type SafetyLimits struct {
	PulseMin float64
	PulseMax float64
	TempMax  float64
	FlowMin  float64
}

func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{PulseMin: 40, PulseMax: 150, TempMax: 48.0, FlowMin: 2.0}
}

// Hardware output bounds. Drivers clamp to these regardless of what the
// engine requests; they are properties of the pump and heater, not policy.
const (
	FlowOutputMax = 200.0 // ml/min at full pump duty
	TempOutputMin = 30.0  // °C at zero heater duty
	TempOutputMax = 50.0  // °C at full heater duty
)
