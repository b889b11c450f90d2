// Package node implements the node table and the Group/Synth tree (spec
// §3/§4.5/§4.6): a dense index -> node slot table with per-slot
// generation tags so a stale NodeId can never alias a reused slot, and
// the doubly-linked Group child-list/Synth leaf structure the scheduler
// walks once per block.
//
// Grounded on avaudio/node/node.go (lifecycle naming) and
// channel_impl.go's BaseChannel (shared fields across node kinds) from
// the teacher, and NodeMap/Node/Group in the original Methcla
// Environment.hpp for the tree and ID-allocation semantics.
package node

import (
	"errors"
	"fmt"

	"github.com/shaban/sonicore/abi"
)

// Errors matching spec §7's NodeId-related error kinds.
var (
	ErrInvalidNodeId   = errors.New("node: invalid node id")
	ErrDuplicateNodeId = errors.New("node: duplicate node id")
	ErrAllocationFailed = errors.New("node: node table exhausted")
)

// NodeId packs a dense table index (low 24 bits) and a slot generation
// (high 8 bits), per SPEC_FULL's generation-tagged-index expansion. The
// first node inserted into a Table (the root group) gets index 0 at
// generation 0, so the zero value is that node's live ID.
type NodeId uint32

func newNodeId(index int, generation uint8) NodeId {
	return NodeId(uint32(generation)<<24 | uint32(index&0x00FFFFFF))
}

func (id NodeId) index() int        { return int(id & 0x00FFFFFF) }
func (id NodeId) generation() uint8 { return uint8(id >> 24) }

func (id NodeId) String() string {
	return fmt.Sprintf("Node#%d.%d", id.index(), id.generation())
}

// Kind discriminates the two node variants (spec §3).
type Kind int

const (
	KindGroup Kind = iota
	KindSynth
)

// Placement selects where a new node attaches relative to a target (spec
// §4.6 / §6 addAction).
type Placement int

const (
	AddToHead Placement = iota
	AddToTail
	AddBefore
	AddAfter
)

// Port is one resolved connection slot on a Synth node.
type Port struct {
	Descriptor abi.PortDescriptor
	Data       any // []float32 for AudioPort, *float32 for ControlPort
}

// Node is a tagged Group/Synth value. Groups never produce audio
// directly; Synths hold plugin-owned instance state. Every node has a
// unique NodeId, a parent (nil only for the root group), and sibling
// pointers within the parent's child list (spec §3 invariants).
type Node struct {
	id     NodeId
	kind   Kind
	active bool

	parent      *Node
	prev, next  *Node
	childHead   *Node
	childTail   *Node

	def      *abi.SynthDef
	options  any
	instance abi.Synth
	storage  []byte
	ports    []Port
}

func newGroup() *Node {
	return &Node{kind: KindGroup, active: true}
}

func newSynth(def *abi.SynthDef, options any, instance abi.Synth, storage []byte, ports []Port) *Node {
	return &Node{kind: KindSynth, active: true, def: def, options: options, instance: instance, storage: storage, ports: ports}
}

// ID returns the node's assigned identifier.
func (n *Node) ID() NodeId { return n.id }

// Kind returns KindGroup or KindSynth.
func (n *Node) Kind() Kind { return n.kind }

// IsActive reports whether the node should be processed. Cleared synths
// are skipped during the tree walk (spec §3).
func (n *Node) IsActive() bool { return n.active }

// SetActive toggles the active flag.
func (n *Node) SetActive(active bool) { n.active = active }

// Parent returns the node's parent, or nil for the root group.
func (n *Node) Parent() *Node { return n.parent }

// Def returns the synth definition for a Synth node, or nil for a Group.
func (n *Node) Def() *abi.SynthDef { return n.def }

// Ports returns the synth's resolved port connections. Empty for a Group.
func (n *Node) Ports() []Port { return n.ports }

// Instance returns the plugin-owned instance storage for a Synth node.
func (n *Node) Instance() abi.Synth { return n.instance }

// Depth returns the number of parent hops to the root, used by the
// acyclicity test harness (spec §8).
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// slot is one entry of a Table: a possibly-live node pointer plus its
// current generation. live is cleared immediately on Release so stale
// lookups fail right away; the index is only added back to the free list
// once ConfirmRelease runs (the NRT-ack round trip, spec §4.5).
type slot struct {
	node       *Node
	generation uint8
	live       bool
	pending    bool // released, awaiting NRT ack before reuse
}

// Table is the dense NodeId -> *Node table (spec §4.5). It is RT-thread
// state: mutated only during the scheduler's command-drain step.
type Table struct {
	slots       []slot
	freeList    []int // indices eligible for immediate reuse, lowest-first
	maxNumNodes int
}

// NewTable builds an empty table with room for maxNumNodes live nodes.
func NewTable(maxNumNodes int) *Table {
	return &Table{maxNumNodes: maxNumNodes}
}

// Insert assigns the lowest free index to node and returns its new
// NodeId, or ErrAllocationFailed if maxNumNodes would be exceeded (spec
// §8: "Creating node maxNumNodes + 1 fails with AllocationFailed").
func (t *Table) Insert(n *Node) (NodeId, error) {
	if len(t.freeList) > 0 {
		idx := t.freeList[0]
		t.freeList = t.freeList[1:]
		s := &t.slots[idx]
		s.node = n
		s.live = true
		s.pending = false
		id := newNodeId(idx, s.generation)
		n.id = id
		return id, nil
	}

	idx := len(t.slots)
	if idx >= t.maxNumNodes {
		return 0, ErrAllocationFailed
	}
	t.slots = append(t.slots, slot{node: n, live: true})
	id := newNodeId(idx, 0)
	n.id = id
	return id, nil
}

// Lookup resolves id to its live node, or ErrInvalidNodeId if the id is
// out of range, vacant, or stale (index reused under a newer generation).
func (t *Table) Lookup(id NodeId) (*Node, error) {
	idx := id.index()
	if idx < 0 || idx >= len(t.slots) {
		return nil, ErrInvalidNodeId
	}
	s := &t.slots[idx]
	if !s.live || s.generation != id.generation() {
		return nil, ErrInvalidNodeId
	}
	return s.node, nil
}

// Release marks id's slot as no longer live; lookups fail immediately.
// The slot is not yet eligible for reuse — call ConfirmRelease once the
// release has been observed on both sides of the RT/NRT boundary (spec
// §3: "stale IDs never alias to new nodes; ID reuse waits for a full
// release round-trip to NRT").
func (t *Table) Release(id NodeId) error {
	idx := id.index()
	if idx < 0 || idx >= len(t.slots) {
		return ErrInvalidNodeId
	}
	s := &t.slots[idx]
	if !s.live || s.generation != id.generation() {
		return ErrInvalidNodeId
	}
	s.live = false
	s.pending = true
	s.node = nil
	s.generation++
	return nil
}

// ConfirmRelease makes the index backing id eligible for reuse by a
// future Insert. id must have already been passed to Release (its
// generation will be one higher than when it was released, since Release
// bumps it).
func (t *Table) ConfirmRelease(id NodeId) error {
	idx := id.index()
	if idx < 0 || idx >= len(t.slots) {
		return ErrInvalidNodeId
	}
	s := &t.slots[idx]
	if s.live || !s.pending {
		return ErrInvalidNodeId
	}
	s.pending = false
	pos := 0
	for pos < len(t.freeList) && t.freeList[pos] < idx {
		pos++
	}
	t.freeList = append(t.freeList, 0)
	copy(t.freeList[pos+1:], t.freeList[pos:])
	t.freeList[pos] = idx
	return nil
}

// Len returns the number of slots ever allocated (live + pending +
// free), i.e. the table's current high-water mark.
func (t *Table) Len() int { return len(t.slots) }
