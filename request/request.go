// Package request models inbound structural and control change requests
// (spec §6): an opaque tagged message standing in for the LV2 atom-object
// patch encoding the original engine decodes off the wire. Decoding bytes
// off a transport is out of scope (spec §1 Non-goals) — callers construct
// a Message value directly and hand it to Decode.
package request

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaban/sonicore/node"
	"github.com/shaban/sonicore/urid"
)

// ErrUnknownBodyType is returned when a Message's Body is not one of the
// recognized variants.
var ErrUnknownBodyType = errors.New("request: unknown body type")

// Placement mirrors node.Placement at the wire-model boundary; Decode
// translates one into the other. Kept distinct so this package does not
// leak node's internal Placement iota ordering as a wire contract.
type Placement int

const (
	AddToHead Placement = iota
	AddToTail
	AddBefore
	AddAfter
)

func (p Placement) toNode() node.Placement {
	switch p {
	case AddToHead:
		return node.AddToHead
	case AddToTail:
		return node.AddToTail
	case AddBefore:
		return node.AddBefore
	default:
		return node.AddAfter
	}
}

// Body is implemented by every request payload variant (spec §6 table:
// Group, Synth, Free, MapPort, SetControl).
type Body interface {
	isBody()
}

// Group requests creation of a new group node attached relative to
// Target according to Placement.
type Group struct {
	Target    uint32
	Placement Placement
}

func (Group) isBody() {}

// Synth requests creation of a new synth node. Args is the opaque options
// blob forwarded to the plugin's Configure hook.
type Synth struct {
	Target    uint32
	Placement Placement
	Plugin    string
	Args      []byte
}

func (Synth) isBody() {}

// Free requests release of an existing node (and its descendants, if it
// is a group).
type Free struct {
	Target uint32
}

func (Free) isBody() {}

// MapPort binds a synth's port to an audio bus.
type MapPort struct {
	Target uint32
	Index  int
	Bus    int
}

func (MapPort) isBody() {}

// SetControl assigns a control port's value directly.
type SetControl struct {
	Target uint32
	Index  int
	Value  float32
}

func (SetControl) isBody() {}

// Message is one inbound patch operation: "Insert{subject, body}" in the
// original atom-object encoding, reduced to Go values (spec §6).
type Message struct {
	Subject uint32
	Body    Body

	// Token correlates this request with its eventual response; NewMessage
	// mints a fresh one per message.
	Token uuid.UUID
}

// NewMessage builds a Message with a freshly minted correlation token.
func NewMessage(subject uint32, body Body) Message {
	return Message{Subject: subject, Body: body, Token: uuid.New()}
}

// WellKnown reproduces the original engine's Uris struct (spec §9
// supplemented feature): a fixed set of engine-internal URIs pre-interned
// through a urid.Mapper at construction, for callers that compare URIDs
// instead of strings. Decode itself does not consult it.
type WellKnown struct {
	Group      uint32
	Synth      uint32
	AddToHead  uint32
	AddToTail  uint32
	AddBefore  uint32
	AddAfter   uint32
	Plugin     uint32
	Insert     uint32
	Subject    uint32
	BodyURI    uint32
}

// NewWellKnown interns every constant URI through m.
func NewWellKnown(m urid.Mapper) WellKnown {
	return WellKnown{
		Group:     m.Map("methcla:Group"),
		Synth:     m.Map("methcla:Synth"),
		AddToHead: m.Map("methcla:addToHead"),
		AddToTail: m.Map("methcla:addToTail"),
		AddBefore: m.Map("methcla:addBefore"),
		AddAfter:  m.Map("methcla:addAfter"),
		Plugin:    m.Map("methcla:plugin"),
		Insert:    m.Map("patch:Insert"),
		Subject:   m.Map("patch:subject"),
		BodyURI:   m.Map("patch:body"),
	}
}

// Decoded is a Message translated into RT command arguments, ready for
// the dispatcher to wrap in command.Record values (spec §6's CreateGroup/
// CreateSynth/FreeNode/MapPort/SetControl command set).
type Decoded struct {
	Kind   Kind
	Target node.NodeId

	// Group/Synth only.
	Placement node.Placement
	Plugin    string
	Args      []byte

	// Synth only, when a Mapper was supplied to Validator: Plugin interned
	// as a URID, so the RT-side apply step can resolve the synth definition
	// via pluginmanager.Manager.LookupURID instead of a string lookup.
	PluginURID uint32

	// MapPort only.
	PortIndex int
	BusId     int

	// SetControl only.
	ControlIndex int
	ControlValue float32
}

// Kind discriminates the decoded RT command shape.
type Kind int

const (
	KindCreateGroup Kind = iota
	KindCreateSynth
	KindFreeNode
	KindMapPort
	KindSetControl
)

// Validator resolves and validates references a Message makes before a
// command is derived from it (spec §6: "plugin URI exists, target node
// exists, placement legal").
type Validator struct {
	Lookup    func(id node.NodeId) (*node.Node, error)
	HasPlugin func(uri string) bool

	// Mapper interns a Synth request's Plugin URI into Decoded.PluginURID
	// (spec §6 "URIs are interned through a URID map shared with
	// plugins"). May be nil, in which case PluginURID is left zero.
	Mapper urid.Mapper
}

// Decode translates msg into a Decoded command description, running
// v's checks first. It never mutates the node tree itself — callers
// apply the result through the scheduler's command-drain step.
func Decode(msg Message, v Validator) (Decoded, error) {
	switch b := msg.Body.(type) {
	case Group:
		target := node.NodeId(b.Target)
		if err := validateTarget(v, target, b.Placement.toNode()); err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: KindCreateGroup, Target: target, Placement: b.Placement.toNode()}, nil

	case Synth:
		target := node.NodeId(b.Target)
		if err := validateTarget(v, target, b.Placement.toNode()); err != nil {
			return Decoded{}, err
		}
		if v.HasPlugin != nil && !v.HasPlugin(b.Plugin) {
			return Decoded{}, fmt.Errorf("request: unknown plugin %q", b.Plugin)
		}
		decoded := Decoded{Kind: KindCreateSynth, Target: target, Placement: b.Placement.toNode(), Plugin: b.Plugin, Args: b.Args}
		if v.Mapper != nil {
			decoded.PluginURID = v.Mapper.Map(b.Plugin)
		}
		return decoded, nil

	case Free:
		target := node.NodeId(b.Target)
		if v.Lookup != nil {
			if _, err := v.Lookup(target); err != nil {
				return Decoded{}, fmt.Errorf("request: free target: %w", err)
			}
		}
		return Decoded{Kind: KindFreeNode, Target: target}, nil

	case MapPort:
		target := node.NodeId(b.Target)
		if v.Lookup != nil {
			if _, err := v.Lookup(target); err != nil {
				return Decoded{}, fmt.Errorf("request: map-port target: %w", err)
			}
		}
		return Decoded{Kind: KindMapPort, Target: target, PortIndex: b.Index, BusId: b.Bus}, nil

	case SetControl:
		target := node.NodeId(b.Target)
		if v.Lookup != nil {
			if _, err := v.Lookup(target); err != nil {
				return Decoded{}, fmt.Errorf("request: set-control target: %w", err)
			}
		}
		return Decoded{Kind: KindSetControl, Target: target, ControlIndex: b.Index, ControlValue: b.Value}, nil

	default:
		return Decoded{}, ErrUnknownBodyType
	}
}

func validateTarget(v Validator, target node.NodeId, placement node.Placement) error {
	if v.Lookup == nil {
		return nil
	}
	targetNode, err := v.Lookup(target)
	if err != nil {
		return fmt.Errorf("request: target: %w", err)
	}
	if targetNode.Kind() != node.KindGroup && (placement == node.AddToHead || placement == node.AddToTail) {
		return node.ErrIllegalPlacement
	}
	return nil
}
