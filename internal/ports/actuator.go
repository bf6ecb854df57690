package ports

// Actuator drives the fluid pump and the heater. Implementations clamp to
// device-safe output ranges and absorb hardware errors internally; callers
// treat every write as best-effort and never see a failure. Off must be
// safe to call at any time, including repeatedly.
type Actuator interface {
	SetFlow(mlPerMin float64)
	SetTemp(celsius float64)
	Off()
}
