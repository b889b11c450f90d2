// Package abi defines the plugin ABI surface: the World (RT) and Host
// (NRT) function tables exposed to plugin code, and the SynthDef
// descriptor a plugin registers. It is a direct Go transliteration of
// methcla's methcla_plugin.h C ABI (Methcla_World, Methcla_Host,
// Methcla_SynthDef) — structs of function values stand in for the C
// function-pointer tables, giving plugin code a stable surface to link
// against without importing the engine's internal packages.
package abi

import "context"

// PortDirection mirrors Methcla_PortDirection.
type PortDirection int

const (
	Input PortDirection = iota
	Output
)

// PortType mirrors Methcla_PortType.
type PortType int

const (
	ControlPort PortType = iota
	AudioPort
)

// PortFlags mirrors Methcla_PortFlags; Trigger marks a control input as
// one-shot (read this block, reset to zero after process, spec §4.6).
type PortFlags uint32

const (
	NoFlags PortFlags = 0
	Trigger PortFlags = 1 << 0
)

// PortDescriptor describes one port of a synth definition.
type PortDescriptor struct {
	Direction PortDirection
	Type      PortType
	Flags     PortFlags
}

// Resource is an opaque reference-counted handle visible to plugin code
// for objects whose lifetime may cross the RT/NRT boundary (spec §3).
type Resource uint64

// Synth is an opaque handle to plugin-allocated instance storage. The
// engine never interprets its contents; only the owning SynthDef's
// functions do.
type Synth = any

// World is the real-time facet (spec §4.9, Methcla_World). All of its
// methods must be callable from the RT thread without blocking or
// allocating from the OS heap.
type World struct {
	SampleRate func() float64

	Alloc        func(size int) []byte
	AllocAligned func(alignment, size int) []byte
	Free         func(ptr []byte)

	// PerformCommand schedules fn to run on the NRT worker, carrying data.
	PerformCommand func(fn func(ctx context.Context, data any) error, data any)

	Retain  func(r Resource)
	Release func(r Resource)

	SynthGetResource func(s Synth) Resource
}

// Host is the non-real-time facet (spec §4.9, Methcla_Host).
type Host struct {
	RegisterSynthDef func(def *SynthDef) error

	SoundFileAPI func(mimeType string) any // concrete type lives in package soundfile; any avoids an import cycle

	// PerformCommand schedules fn to run on the RT thread, carrying data.
	PerformCommand func(fn func(ctx context.Context, w *World, data any) error, data any)

	ResourceGetSynth func(r Resource) Synth
}

// SynthDef is the immutable-after-registration plugin descriptor (spec
// §3, Methcla_SynthDef). PortDescriptor must be callable with increasing
// indices starting at 0 until it returns ok==false — the original C ABI's
// "iterate until false" contract (spec §9 Open Questions) — since nothing
// in the ABI returns a port count up front.
type SynthDef struct {
	URI string

	InstanceSize int
	Alignment    int
	OptionsSize  int

	// Configure parses plugin-specific options out of opts (an opaque
	// options blob decoded from the request's args tuple) prior to
	// Construct being called.
	Configure func(opts []byte) (any, error)

	// PortDescriptor returns the descriptor for port index, or
	// ok==false once index is past the last port.
	PortDescriptor func(options any, index int) (desc PortDescriptor, ok bool)

	Construct func(world *World, options any) (Synth, error)
	Connect   func(synth Synth, index int, data any)
	Activate  func(world *World, synth Synth)
	Process   func(world *World, synth Synth, numFrames int)
	Destroy   func(world *World, synth Synth)
}

// PortCount exhausts PortDescriptor to count a definition's ports. It is a
// convenience for callers (construction, validation) that need an upfront
// count; it still respects the "iterate until false" contract rather than
// assuming any fixed maximum.
func PortCount(def *SynthDef, options any) int {
	n := 0
	for {
		if _, ok := def.PortDescriptor(options, n); !ok {
			return n
		}
		n++
	}
}

// Library is the handle returned by a plugin's init entry point (spec
// §6, Methcla_Library).
type Library struct {
	Destroy func()
}
