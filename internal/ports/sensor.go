package ports

// Sensor is a PPG front end. Start wakes the hardware and begins
// conversions; Stop powers it back down between sessions. Read returns one
// red/IR pair and fails with an explicit error when the hardware is absent
// or misbehaving; the sampler decides what to do about it.
type Sensor interface {
	Start() error
	Stop() error
	Read() (red, ir uint32, err error)
}
