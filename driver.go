package sonicore

// Driver is the inbound I/O collaborator (spec §6): it calls Configure
// once to describe its channel counts and sample rate, then calls
// Process repeatedly from its own callback thread. The core never
// spawns an RT goroutine itself — it is invoked synchronously on
// whatever thread the driver's callback runs on, restoring the original
// IO::Driver / IO::Client split (Driver.hpp) the teacher's AVFoundation
// integration collapsed into one engine type.
type Driver interface {
	SampleRate() float64
	NumInputs() int
	NumOutputs() int
	BufferSize() int
}

// StaticDriver is a fixed-parameter Driver, useful for tests and the demo
// host where the hardware topology is known up front rather than probed.
type StaticDriver struct {
	SR         float64
	Inputs     int
	Outputs    int
	Buffer     int
}

func (d StaticDriver) SampleRate() float64 { return d.SR }
func (d StaticDriver) NumInputs() int      { return d.Inputs }
func (d StaticDriver) NumOutputs() int     { return d.Outputs }
func (d StaticDriver) BufferSize() int     { return d.Buffer }
