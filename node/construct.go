package node

import (
	"errors"
	"fmt"

	"github.com/shaban/sonicore/abi"
)

// ErrInvalidPortIndex is returned by SetPort/SetControlValue for an
// out-of-range port index, or one whose type does not match the
// operation (spec §7, kInvalidArgument).
var ErrInvalidPortIndex = errors.New("node: invalid port index")

// Construct builds a Synth node from def: it allocates instance storage on
// the arena via world.AllocAligned, calls Configure then Construct, binds
// every port to default storage (a private zero for each control port, the
// supplied silence buffer for each audio port) via PortDescriptor/Connect,
// and finally calls Activate once (spec §4.6 "Constructing a synth").
//
// If Construct fails, the instance bytes are freed and no Destroy is
// called — Destroy only runs for an instance that Construct successfully
// produced (spec §4.6 unwind rule).
func Construct(world *abi.World, def *abi.SynthDef, rawOpts []byte, silence []float32) (*Node, error) {
	options, err := def.Configure(rawOpts)
	if err != nil {
		return nil, fmt.Errorf("node: configure %s: %w", def.URI, err)
	}

	storage := world.AllocAligned(def.Alignment, def.InstanceSize)
	instance, err := def.Construct(world, options)
	if err != nil {
		world.Free(storage)
		return nil, fmt.Errorf("node: construct %s: %w", def.URI, err)
	}

	numPorts := abi.PortCount(def, options)
	ports := make([]Port, numPorts)
	for i := 0; i < numPorts; i++ {
		desc, ok := def.PortDescriptor(options, i)
		if !ok {
			break
		}
		var data any
		if desc.Type == abi.AudioPort {
			data = silence
		} else {
			data = new(float32)
		}
		ports[i] = Port{Descriptor: desc, Data: data}
		def.Connect(instance, i, data)
	}

	def.Activate(world, instance)

	return newSynth(def, options, instance, storage, ports), nil
}

// ResetTriggers clears every Trigger-flagged control port back to zero
// after a block has been processed (spec §4.6: trigger ports are read-once
// per block and must not re-fire on the next one).
func ResetTriggers(n *Node) {
	if n.kind != KindSynth {
		return
	}
	for _, p := range n.ports {
		if p.Descriptor.Type == abi.ControlPort && p.Descriptor.Flags&abi.Trigger != 0 {
			if ctrl, ok := p.Data.(*float32); ok {
				*ctrl = 0
			}
		}
	}
}

// Destroy calls the synth's Destroy hook and frees its instance storage.
// It is the NRT-triggered, RT-executed teardown counterpart to Construct
// (spec §4.6). Groups are a no-op: their children must already have been
// destroyed individually.
func Destroy(world *abi.World, n *Node) {
	if n.kind != KindSynth || n.instance == nil {
		return
	}
	n.def.Destroy(world, n.instance)
	n.instance = nil
	if n.storage != nil {
		world.Free(n.storage)
		n.storage = nil
	}
}

// SetPort rebinds a synth's port to new connection data — used by
// MapPort (spec §6) to bind an audio port to a bus's sample buffer after
// construction, when the port's default silent-bus storage no longer
// applies.
func SetPort(n *Node, index int, data any) error {
	if n.kind != KindSynth || index < 0 || index >= len(n.ports) {
		return ErrInvalidPortIndex
	}
	if n.ports[index].Descriptor.Type != abi.AudioPort {
		return ErrInvalidPortIndex
	}
	n.ports[index].Data = data
	n.def.Connect(n.instance, index, data)
	return nil
}

// SetControlValue assigns a control port's value directly, per spec §6
// SetControl. The port must be a control port; MapPort targets audio
// ports only.
func SetControlValue(n *Node, index int, value float32) error {
	if n.kind != KindSynth || index < 0 || index >= len(n.ports) {
		return ErrInvalidPortIndex
	}
	if n.ports[index].Descriptor.Type != abi.ControlPort {
		return ErrInvalidPortIndex
	}
	ptr, ok := n.ports[index].Data.(*float32)
	if !ok {
		return ErrInvalidPortIndex
	}
	*ptr = value
	return nil
}

// Process invokes a synth's Process hook for numFrames. Groups do not
// process directly; the scheduler reaches them only through Walk.
func Process(world *abi.World, n *Node, numFrames int) {
	if n.kind != KindSynth || !n.active {
		return
	}
	n.def.Process(world, n.instance, numFrames)
	ResetTriggers(n)
}
