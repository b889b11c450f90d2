package node

import (
	"errors"
	"testing"

	"github.com/shaban/sonicore/abi"
)

var errFailedConstruct = errors.New("node: test construct failure")

func TestTableInsertLookupRelease(t *testing.T) {
	tbl := NewTable(4)
	root := NewRootGroup()
	id, err := tbl.Insert(root)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := tbl.Lookup(id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != root {
		t.Fatal("lookup returned a different node")
	}
	if err := tbl.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := tbl.Lookup(id); err == nil {
		t.Fatal("expected lookup to fail for released id")
	}
}

func TestTableAllocationFailsAtCapacity(t *testing.T) {
	tbl := NewTable(2)
	if _, err := tbl.Insert(NewGroup()); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := tbl.Insert(NewGroup()); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if _, err := tbl.Insert(NewGroup()); err != ErrAllocationFailed {
		t.Fatalf("want ErrAllocationFailed, got %v", err)
	}
}

func TestTableReusesLowestFreedIndexOnlyAfterConfirm(t *testing.T) {
	tbl := NewTable(4)
	idA, _ := tbl.Insert(NewGroup())
	idB, _ := tbl.Insert(NewGroup())

	if err := tbl.Release(idA); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Not yet confirmed: next insert must not reuse idA's index.
	idC, err := tbl.Insert(NewGroup())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if idC.index() == idA.index() {
		t.Fatal("index reused before ConfirmRelease")
	}

	if err := tbl.ConfirmRelease(idA); err != nil {
		t.Fatalf("confirm release: %v", err)
	}
	idD, err := tbl.Insert(NewGroup())
	if err != nil {
		t.Fatalf("insert after confirm: %v", err)
	}
	if idD.index() != idA.index() {
		t.Fatalf("expected index %d reused, got %d", idA.index(), idD.index())
	}
	if idD.generation() == idA.generation() {
		t.Fatal("reused slot must carry a bumped generation")
	}
	if idB.index() == idD.index() {
		t.Fatal("unrelated live node's index corrupted")
	}
}

func TestStaleIdNeverAliasesReusedSlot(t *testing.T) {
	tbl := NewTable(2)
	idA, _ := tbl.Insert(NewGroup())
	_ = tbl.Release(idA)
	_ = tbl.ConfirmRelease(idA)
	idB, _ := tbl.Insert(NewGroup())

	if idB.index() != idA.index() {
		t.Fatalf("expected slot reuse, indices %d != %d", idA.index(), idB.index())
	}
	if _, err := tbl.Lookup(idA); err == nil {
		t.Fatal("stale id must not resolve after its slot was reused")
	}
	if _, err := tbl.Lookup(idB); err != nil {
		t.Fatalf("new id should resolve: %v", err)
	}
}

func TestAttachToHeadAndTail(t *testing.T) {
	root := NewRootGroup()
	a := NewGroup()
	b := NewGroup()
	c := NewGroup()

	if err := Attach(root, a, AddToTail); err != nil {
		t.Fatalf("attach a: %v", err)
	}
	if err := Attach(root, b, AddToTail); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	if err := Attach(root, c, AddToHead); err != nil {
		t.Fatalf("attach c: %v", err)
	}

	children := root.Children()
	if len(children) != 3 || children[0] != c || children[1] != a || children[2] != b {
		t.Fatalf("unexpected child order: %v", children)
	}
	for _, child := range children {
		if child.Parent() != root {
			t.Fatal("child's parent pointer not set to root")
		}
	}
}

func TestAttachBeforeAfterSibling(t *testing.T) {
	root := NewRootGroup()
	a := NewGroup()
	b := NewGroup()
	_ = Attach(root, a, AddToTail)

	if err := Attach(a, b, AddBefore); err != nil {
		t.Fatalf("attach before: %v", err)
	}
	children := root.Children()
	if len(children) != 2 || children[0] != b || children[1] != a {
		t.Fatalf("unexpected order after AddBefore: %v", children)
	}

	c := NewGroup()
	if err := Attach(a, c, AddAfter); err != nil {
		t.Fatalf("attach after: %v", err)
	}
	children = root.Children()
	if len(children) != 3 || children[1] != a || children[2] != c {
		t.Fatalf("unexpected order after AddAfter: %v", children)
	}
}

func TestAttachSynthTargetOnlyAllowsSiblingPlacement(t *testing.T) {
	root := NewRootGroup()
	synth := newSynth(&abi.SynthDef{URI: "test"}, nil, struct{}{}, nil, nil)
	_ = Attach(root, synth, AddToTail)

	sibling := NewGroup()
	if err := Attach(synth, sibling, AddToHead); err != ErrIllegalPlacement {
		t.Fatalf("want ErrIllegalPlacement, got %v", err)
	}
	if err := Attach(synth, sibling, AddAfter); err != nil {
		t.Fatalf("sibling placement on synth target should be legal: %v", err)
	}
}

func TestDetachRemovesFromParent(t *testing.T) {
	root := NewRootGroup()
	a := NewGroup()
	b := NewGroup()
	_ = Attach(root, a, AddToTail)
	_ = Attach(root, b, AddToTail)

	Detach(a)
	children := root.Children()
	if len(children) != 1 || children[0] != b {
		t.Fatalf("unexpected children after detach: %v", children)
	}
	if a.Parent() != nil {
		t.Fatal("detached node still has a parent pointer")
	}
}

func TestWalkVisitsActiveSynthsHeadToTail(t *testing.T) {
	root := NewRootGroup()
	group := NewGroup()
	_ = Attach(root, group, AddToTail)

	s1 := newSynth(&abi.SynthDef{URI: "s1"}, nil, struct{}{}, nil, nil)
	s2 := newSynth(&abi.SynthDef{URI: "s2"}, nil, struct{}{}, nil, nil)
	s3 := newSynth(&abi.SynthDef{URI: "s3"}, nil, struct{}{}, nil, nil)
	s2.SetActive(false)

	_ = Attach(group, s1, AddToTail)
	_ = Attach(group, s2, AddToTail)
	_ = Attach(root, s3, AddToTail)

	var visited []*Node
	Walk(root, func(s *Node) { visited = append(visited, s) })

	if len(visited) != 2 || visited[0] != s1 || visited[1] != s3 {
		t.Fatalf("unexpected visit order/set: %v", visited)
	}
}

func TestWalkToleratesSelfRemovalDuringVisit(t *testing.T) {
	root := NewRootGroup()
	s1 := newSynth(&abi.SynthDef{URI: "s1"}, nil, struct{}{}, nil, nil)
	s2 := newSynth(&abi.SynthDef{URI: "s2"}, nil, struct{}{}, nil, nil)
	s3 := newSynth(&abi.SynthDef{URI: "s3"}, nil, struct{}{}, nil, nil)
	_ = Attach(root, s1, AddToTail)
	_ = Attach(root, s2, AddToTail)
	_ = Attach(root, s3, AddToTail)

	var visited []*Node
	Walk(root, func(s *Node) {
		visited = append(visited, s)
		if s == s1 {
			Detach(s1)
			Detach(s2) // remove a later sibling too
		}
	})

	if len(visited) != 2 || visited[0] != s1 || visited[1] != s3 {
		t.Fatalf("walk did not tolerate mid-walk removal, got %v", visited)
	}
}

func TestConstructBindsPortsAndActivates(t *testing.T) {
	activated := false
	connected := map[int]any{}
	def := &abi.SynthDef{
		URI:          "test:osc",
		InstanceSize: 8,
		Alignment:    8,
		Configure:    func(opts []byte) (any, error) { return nil, nil },
		PortDescriptor: func(options any, index int) (abi.PortDescriptor, bool) {
			switch index {
			case 0:
				return abi.PortDescriptor{Direction: abi.Input, Type: abi.ControlPort, Flags: abi.Trigger}, true
			case 1:
				return abi.PortDescriptor{Direction: abi.Output, Type: abi.AudioPort}, true
			default:
				return abi.PortDescriptor{}, false
			}
		},
		Construct: func(world *abi.World, options any) (abi.Synth, error) { return "instance", nil },
		Connect: func(synth abi.Synth, index int, data any) {
			connected[index] = data
		},
		Activate: func(world *abi.World, synth abi.Synth) { activated = true },
		Process:  func(world *abi.World, synth abi.Synth, numFrames int) {},
		Destroy:  func(world *abi.World, synth abi.Synth) {},
	}

	var freed [][]byte
	world := &abi.World{
		SampleRate:   func() float64 { return 48000 },
		AllocAligned: func(alignment, size int) []byte { return make([]byte, size) },
		Alloc:        func(size int) []byte { return make([]byte, size) },
		Free:         func(ptr []byte) { freed = append(freed, ptr) },
	}
	silence := make([]float32, 64)

	n, err := Construct(world, def, nil, silence)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if !activated {
		t.Fatal("activate was not called")
	}
	if len(n.Ports()) != 2 {
		t.Fatalf("want 2 ports, got %d", len(n.Ports()))
	}
	if ctrl, ok := connected[0].(*float32); !ok || ctrl == nil {
		t.Fatal("control port not connected to private storage")
	}
	if audio, ok := connected[1].([]float32); !ok || len(audio) != len(silence) {
		t.Fatal("audio port not connected to silence buffer")
	}

	Destroy(world, n)
	if len(freed) != 1 {
		t.Fatalf("want instance storage freed exactly once, got %d frees", len(freed))
	}
}

func TestConstructFreesStorageOnConstructFailure(t *testing.T) {
	def := &abi.SynthDef{
		URI:          "test:broken",
		InstanceSize: 4,
		Configure:    func(opts []byte) (any, error) { return nil, nil },
		Construct: func(world *abi.World, options any) (abi.Synth, error) {
			return nil, errFailedConstruct
		},
	}
	var freed bool
	world := &abi.World{
		AllocAligned: func(alignment, size int) []byte { return make([]byte, size) },
		Free:         func(ptr []byte) { freed = true },
	}
	if _, err := Construct(world, def, nil, nil); err == nil {
		t.Fatal("expected construct error to propagate")
	}
	if !freed {
		t.Fatal("expected instance storage to be freed after construct failure")
	}
}

func TestSetPortRebindsConnection(t *testing.T) {
	connected := map[int]any{}
	def := &abi.SynthDef{
		URI:     "test:port",
		Connect: func(synth abi.Synth, index int, data any) { connected[index] = data },
	}
	n := newSynth(def, nil, "instance", nil, []Port{
		{Descriptor: abi.PortDescriptor{Type: abi.AudioPort}, Data: []float32{}},
	})
	newBuf := []float32{1, 2, 3}
	if err := SetPort(n, 0, newBuf); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if got, ok := connected[0].([]float32); !ok || len(got) != 3 {
		t.Fatalf("connect not invoked with new data: %v", connected[0])
	}
	if len(n.Ports()[0].Data.([]float32)) != 3 {
		t.Fatal("port data not updated on node")
	}
}

func TestSetPortRejectsOutOfRangeIndex(t *testing.T) {
	n := newSynth(&abi.SynthDef{URI: "test"}, nil, "instance", nil, nil)
	if err := SetPort(n, 0, nil); err != ErrInvalidPortIndex {
		t.Fatalf("want ErrInvalidPortIndex, got %v", err)
	}
}

func TestSetControlValueAssignsThroughPointer(t *testing.T) {
	val := float32(0)
	n := newSynth(&abi.SynthDef{URI: "test"}, nil, "instance", nil, []Port{
		{Descriptor: abi.PortDescriptor{Type: abi.ControlPort}, Data: &val},
	})
	if err := SetControlValue(n, 0, 0.75); err != nil {
		t.Fatalf("set control: %v", err)
	}
	if val != 0.75 {
		t.Fatalf("want 0.75, got %v", val)
	}
}

func TestSetControlValueRejectsAudioPort(t *testing.T) {
	n := newSynth(&abi.SynthDef{URI: "test"}, nil, "instance", nil, []Port{
		{Descriptor: abi.PortDescriptor{Type: abi.AudioPort}, Data: []float32{0}},
	})
	if err := SetControlValue(n, 0, 1); err != ErrInvalidPortIndex {
		t.Fatalf("want ErrInvalidPortIndex, got %v", err)
	}
}

func TestResetTriggersClearsOnlyTriggerPorts(t *testing.T) {
	triggerVal := float32(1)
	normalVal := float32(2)
	n := newSynth(&abi.SynthDef{URI: "test"}, nil, struct{}{}, nil, []Port{
		{Descriptor: abi.PortDescriptor{Type: abi.ControlPort, Flags: abi.Trigger}, Data: &triggerVal},
		{Descriptor: abi.PortDescriptor{Type: abi.ControlPort}, Data: &normalVal},
	})
	ResetTriggers(n)
	if triggerVal != 0 {
		t.Fatalf("trigger port not reset, got %v", triggerVal)
	}
	if normalVal != 2 {
		t.Fatalf("non-trigger port should be untouched, got %v", normalVal)
	}
}
