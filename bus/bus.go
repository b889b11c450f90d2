// Package bus implements the fixed-size audio bus registry (spec §3/§4.3):
// external-input, external-output, and internal block-sized sample
// buffers, each epoch-stamped so readers can tell a bus that was written
// this block apart from one left over from an earlier block.
package bus

import (
	"errors"
)

// ErrInvalidBusID is returned by Registry.Bus for an out-of-range or
// released ID (spec §4.3, kInvalidBusId).
var ErrInvalidBusID = errors.New("bus: invalid bus id")

// ID identifies a bus within a Registry, in one flat namespace: input bus
// IDs are the hardware input channel index, output bus IDs follow them
// (numIn + output channel index), and internal bus IDs start above both
// external ranges.
type ID int

// Variant discriminates how a Bus's backing storage is owned (spec §3).
type Variant int

const (
	// ExternalInput buffers are supplied by the driver each block; the
	// registry never owns or zeroes them.
	ExternalInput Variant = iota
	// ExternalOutput buffers are supplied by the driver and written by
	// the engine (synths mix in additively).
	ExternalOutput
	// Internal buffers are owned by the registry and zeroed at the start
	// of each block on first write in that epoch.
	Internal
)

// Bus is a block-sized float32 sample buffer plus an epoch stamp. Bus's
// epoch equals the registry's current epoch iff it has been written
// during the current block (spec §3 invariant).
type Bus struct {
	Variant Variant
	Samples []float32
	Stamp   uint64
	written bool // whether this bus has been zeroed/touched in the current block yet
}

// IsCurrent reports whether the bus was written during the block stamped
// by cur. A reader observing !IsCurrent treats the bus as silent.
func (b *Bus) IsCurrent(cur uint64) bool {
	return b.Stamp == cur
}

// MarkWritten stamps the bus with the given epoch, marking it as written
// during that block.
func (b *Bus) MarkWritten(cur uint64) {
	b.Stamp = cur
	b.written = true
}

// Registry is the fixed-size table of external-input, external-output,
// and internal buses (spec §4.3). Construct with NewRegistry; it is RT
// thread state only mutated via Refresh/ZeroOutputs/AllocateInternal —
// there is no synchronization because exactly one thread (RT) ever
// touches it.
type Registry struct {
	numIn, numOut int
	in            []Bus
	out           []Bus
	internal      []Bus
	freeInternal  []int // IDs released and available for reuse (mirrors the
	// original Environment's ResourceMap<AudioBusId,AudioBus> free-list)
	blockSize int
}

// NewRegistry builds a registry with numIn external input buses, numOut
// external output buses, and capacity for maxInternal internal buses, all
// sized to blockSize samples.
func NewRegistry(numIn, numOut, maxInternal, blockSize int) *Registry {
	r := &Registry{
		numIn:     numIn,
		numOut:    numOut,
		blockSize: blockSize,
		in:        make([]Bus, numIn),
		out:       make([]Bus, numOut),
		internal:  make([]Bus, 0, maxInternal),
	}
	for i := range r.in {
		r.in[i] = Bus{Variant: ExternalInput, Samples: make([]float32, blockSize)}
	}
	for i := range r.out {
		r.out[i] = Bus{Variant: ExternalOutput, Samples: make([]float32, blockSize)}
	}
	return r
}

// ExternalInput returns the external input bus at index, or ErrInvalidBusID
// if out of range.
func (r *Registry) ExternalInput(index int) (*Bus, error) {
	if index < 0 || index >= len(r.in) {
		return nil, ErrInvalidBusID
	}
	return &r.in[index], nil
}

// ExternalOutput returns the external output bus at index, or
// ErrInvalidBusID if out of range.
func (r *Registry) ExternalOutput(index int) (*Bus, error) {
	if index < 0 || index >= len(r.out) {
		return nil, ErrInvalidBusID
	}
	return &r.out[index], nil
}

// Bus resolves an ID to its underlying Bus across all three variants.
// External input IDs come first, then external output IDs, then internal
// bus IDs — mirroring AudioBusId being a single flat namespace in the
// original Environment.
func (r *Registry) Bus(id ID) (*Bus, error) {
	i := int(id)
	if i < 0 {
		return nil, ErrInvalidBusID
	}
	if i < r.numIn {
		return &r.in[i], nil
	}
	i -= r.numIn
	if i < r.numOut {
		return &r.out[i], nil
	}
	i -= r.numOut
	if i < 0 || i >= len(r.internal) || r.internal[i].Samples == nil {
		return nil, ErrInvalidBusID
	}
	return &r.internal[i], nil
}

// AllocateInternal reserves an internal bus, reusing the most recently
// released slot if one is free, and returns its ID. The maxInternal given
// to NewRegistry is only the initial capacity of the internal table:
// allocating past it grows the table rather than failing.
func (r *Registry) AllocateInternal() ID {
	if n := len(r.freeInternal); n > 0 {
		idx := r.freeInternal[n-1]
		r.freeInternal = r.freeInternal[:n-1]
		r.internal[idx] = Bus{Variant: Internal, Samples: make([]float32, r.blockSize)}
		return ID(r.numIn + r.numOut + idx)
	}
	idx := len(r.internal)
	r.internal = append(r.internal, Bus{Variant: Internal, Samples: make([]float32, r.blockSize)})
	return ID(r.numIn + r.numOut + idx)
}

// ReleaseInternal returns an internal bus ID to the free-list.
func (r *Registry) ReleaseInternal(id ID) error {
	idx := int(id) - r.numIn - r.numOut
	if idx < 0 || idx >= len(r.internal) || r.internal[idx].Samples == nil {
		return ErrInvalidBusID
	}
	r.internal[idx].Samples = nil
	r.freeInternal = append(r.freeInternal, idx)
	return nil
}

// RefreshExternal copies the driver-supplied input buffers for the
// current block into the registry's own persistent input bus storage,
// and stamps them as written (step 3 of the scheduler's process loop,
// spec §4.7). Buses keep the same backing array for their entire
// lifetime — only their contents change — so a port bound once via
// MapPort stays bound to live data across blocks even though the
// driver may hand over a different buffer pointer every callback.
func (r *Registry) RefreshExternal(cur uint64, inputs, outputs [][]float32) {
	for i := range r.in {
		if i < len(inputs) && inputs[i] != nil {
			copy(r.in[i].Samples, inputs[i])
			r.in[i].MarkWritten(cur)
		}
	}
}

// FlushOutputs copies the registry's external output bus contents into
// the driver-supplied output buffers, once processing for the block is
// complete. Step analogous to RefreshExternal but in the outbound
// direction.
func (r *Registry) FlushOutputs(outputs [][]float32) {
	for i := range r.out {
		if i < len(outputs) && outputs[i] != nil {
			copy(outputs[i], r.out[i].Samples)
		}
	}
}

// ZeroOutputs clears every external output buffer and stamps it as
// written for the current epoch, so that synths "mix in additively"
// (spec §4.7 step 4). Internal buses are zeroed lazily on first write
// within EnsureWritten, not here, since most internal buses are written
// exactly once per block by their sole writer.
func (r *Registry) ZeroOutputs(cur uint64) {
	for i := range r.out {
		for j := range r.out[i].Samples {
			r.out[i].Samples[j] = 0
		}
		r.out[i].MarkWritten(cur)
	}
}

// EnsureWritten zeroes an internal bus the first time it is touched in a
// new epoch, then stamps it current. Writers call this before mixing in.
func (b *Bus) EnsureWritten(cur uint64) {
	if b.Stamp != cur {
		for i := range b.Samples {
			b.Samples[i] = 0
		}
		b.MarkWritten(cur)
	}
}

// NumExternalInputs and NumExternalOutputs report the fixed hardware
// channel counts the registry was built with.
func (r *Registry) NumExternalInputs() int  { return r.numIn }
func (r *Registry) NumExternalOutputs() int { return r.numOut }
