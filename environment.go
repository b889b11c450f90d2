// Package sonicore composes the real-time audio synthesis engine core:
// epoch clock, RT memory arenas, bounded command queues, the audio bus
// registry, the plugin manager, the node table/tree, the NRT request
// dispatcher, and the World/Host plugin ABI facets, wired together by
// Environment the way the teacher's Engine composed AVFoundation,
// channels, and the topology dispatcher (spec §2/§4.11).
package sonicore

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/shaban/sonicore/abi"
	"github.com/shaban/sonicore/bus"
	"github.com/shaban/sonicore/command"
	"github.com/shaban/sonicore/dispatcher"
	"github.com/shaban/sonicore/epoch"
	"github.com/shaban/sonicore/node"
	"github.com/shaban/sonicore/pluginmanager"
	"github.com/shaban/sonicore/queue"
	"github.com/shaban/sonicore/request"
	"github.com/shaban/sonicore/rtmem"
	"github.com/shaban/sonicore/soundfile"
	"github.com/shaban/sonicore/urid"
)

// Options configures a new Environment (spec §8 scenario 1).
type Options struct {
	SampleRate    float64
	BlockSize     int
	MaxNumNodes   int
	MaxAudioBuses int // internal buses only; external counts come from HWIn/HWOut
	HWIn, HWOut   int
	PluginPaths   []string

	RTArenaSize   int
	NRTArenaSize  int
	QueueCapacity int

	Logger *log.Logger
}

func (o Options) validate() error {
	if o.BlockSize <= 0 {
		return wrapErr(InvalidArgument, "block size must be positive", nil)
	}
	if o.MaxNumNodes <= 0 {
		return wrapErr(InvalidArgument, "maxNumNodes must be positive", nil)
	}
	if o.HWIn < 0 || o.HWOut < 0 {
		return wrapErr(InvalidArgument, "hardware channel counts must be non-negative", nil)
	}
	return nil
}

// Environment is the top-level owner composing every engine component,
// restoring the original Environment's role (spec §4.11): exposes
// Configure, Process, and Submit (the "request" entry point).
type Environment struct {
	opts Options

	mem       *rtmem.Manager
	buses     *bus.Registry
	table     *node.Table
	root      *node.Node
	resources *resourceTable

	toRT  *queue.Queue
	toNRT *queue.Queue
	disp  *dispatcher.Dispatcher

	pluginMgr *pluginmanager.Manager
	soundFile *soundfile.Registry

	urids     *urid.Table
	wellKnown request.WellKnown

	world *abi.World
	host  abi.Host

	silence []float32

	log *log.Logger

	mu           sync.Mutex
	driver       Driver
	configured   bool
	started      bool
	currentEpoch epoch.Epoch
}

// NewEnvironment constructs an Environment. pluginPaths, if non-empty,
// are loaded immediately via pluginMgr.LoadDirectories.
func NewEnvironment(opts Options) (*Environment, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.RTArenaSize <= 0 {
		opts.RTArenaSize = 1 << 20
	}
	if opts.NRTArenaSize <= 0 {
		opts.NRTArenaSize = 1 << 20
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	e := &Environment{
		opts:      opts,
		mem:       rtmem.NewManager(opts.RTArenaSize, opts.NRTArenaSize),
		buses:     bus.NewRegistry(opts.HWIn, opts.HWOut, opts.MaxAudioBuses, opts.BlockSize),
		table:     node.NewTable(opts.MaxNumNodes),
		resources: newResourceTable(),
		toRT:      queue.New(opts.QueueCapacity),
		toNRT:     queue.New(opts.QueueCapacity),
		soundFile: soundfile.NewRegistry(),
		silence:   make([]float32, opts.BlockSize),
		log:       opts.Logger,
	}

	e.urids = urid.NewTable()
	e.wellKnown = request.NewWellKnown(e.urids)

	e.world = e.buildWorld()
	e.pluginMgr = pluginmanager.New(func(m *pluginmanager.Manager) abi.Host {
		return e.buildHost()
	}, e.urids)
	e.host = e.buildHost()

	root := node.NewRootGroup()
	if _, err := e.table.Insert(root); err != nil {
		return nil, wrapErr(AllocationFailed, "inserting root group", err)
	}
	e.root = root

	validator := request.Validator{
		Lookup:    e.table.Lookup,
		HasPlugin: func(uri string) bool { _, err := e.pluginMgr.Lookup(uri); return err == nil },
		Mapper:    e.urids,
	}
	e.disp = dispatcher.New(e.toRT, e.toNRT, e.apply, validator, opts.Logger)

	if len(opts.PluginPaths) > 0 {
		if err := e.pluginMgr.LoadDirectories(opts.PluginPaths); err != nil {
			e.log.Error("plugin load errors", "err", err)
		}
	}

	return e, nil
}

func (e *Environment) buildWorld() *abi.World {
	return &abi.World{
		SampleRate:   func() float64 { return e.opts.SampleRate },
		Alloc:        func(size int) []byte { return e.mem.RT.Alloc(size) },
		AllocAligned: func(alignment, size int) []byte { return e.mem.RT.AllocAligned(alignment, size) },
		Free:         func(ptr []byte) { e.mem.RT.Free(ptr) },
		PerformCommand: func(fn func(ctx context.Context, data any) error, data any) {
			rec := command.Func(command.NRT, func(ctx context.Context) error { return fn(ctx, data) })
			if err := e.toNRT.TryEnqueue(rec); err != nil {
				e.log.Warn("RT->NRT queue full, command dropped", "overflows", e.toNRT.Overflows())
			}
		},
		Retain:           e.resources.retain,
		Release:          func(r abi.Resource) { e.resources.release(r) },
		SynthGetResource: e.resources.resourceFor,
	}
}

func (e *Environment) buildHost() abi.Host {
	return abi.Host{
		RegisterSynthDef: e.pluginMgr.RegisterSynthDef,
		SoundFileAPI:     e.soundFile.HostFunc(),
		PerformCommand: func(fn func(ctx context.Context, w *abi.World, data any) error, data any) {
			rec := command.Func(command.RT, func(ctx context.Context) error { return fn(ctx, e.world, data) })
			if err := e.toRT.TryEnqueue(rec); err != nil {
				e.log.Warn("NRT->RT queue full, command dropped")
			}
		},
		ResourceGetSynth: e.resources.synthFor,
	}
}

// PluginManager exposes the environment's plugin manager, e.g. for a demo
// host to register in-process test plugins directly.
func (e *Environment) PluginManager() *pluginmanager.Manager { return e.pluginMgr }

// SoundFiles exposes the environment's sound-file API registry.
func (e *Environment) SoundFiles() *soundfile.Registry { return e.soundFile }

// WellKnown exposes the engine-internal URIs interned at construction, for
// callers building request.Message values that reference them (spec §9
// supplemented feature).
func (e *Environment) WellKnown() request.WellKnown { return e.wellKnown }

// RootId returns the root group's NodeId (always 0 on a fresh Environment,
// spec §8 scenario 1).
func (e *Environment) RootId() node.NodeId { return e.root.ID() }

// Epoch returns the current epoch counter.
func (e *Environment) Epoch() uint64 { return e.currentEpoch.Current() }

// Configure binds a Driver. It must describe the same sample rate and
// channel counts the Environment was built with; mismatches and
// reconfiguration after Start both fail with InvalidArgument, since the
// spec forbids sample-rate changes mid-stream (§1 Non-goals, §9 Open
// Question resolution).
func (e *Environment) Configure(d Driver) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.configured {
		return wrapErr(InvalidArgument, "environment already configured", nil)
	}
	if d.SampleRate() != e.opts.SampleRate {
		return wrapErr(InvalidArgument, "driver sample rate does not match Options", nil)
	}
	if d.NumInputs() != e.opts.HWIn || d.NumOutputs() != e.opts.HWOut {
		return wrapErr(InvalidArgument, "driver channel counts do not match Options", nil)
	}
	if d.BufferSize() > e.opts.BlockSize {
		return wrapErr(InvalidArgument, "driver buffer size exceeds configured block size", nil)
	}
	e.driver = d
	e.configured = true
	return nil
}

// Start begins the NRT worker. Configure must have been called first.
func (e *Environment) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.configured {
		return wrapErr(InvalidArgument, "Start called before Configure", nil)
	}
	if e.started {
		return nil
	}
	if err := e.disp.Start(); err != nil {
		return err
	}
	e.started = true
	return nil
}

// Stop halts the NRT worker.
func (e *Environment) Stop() error {
	e.mu.Lock()
	started := e.started
	e.started = false
	e.mu.Unlock()
	if !started {
		return nil
	}
	return e.disp.Stop()
}

// Submit decodes and enqueues msg, per spec §4.8. It is safe to call from
// any caller thread.
func (e *Environment) Submit(msg request.Message) (<-chan dispatcher.Response, error) {
	return e.disp.Submit(msg)
}

// Process runs one block through the scheduler (spec §4.7's seven
// steps). numFrames must not exceed the configured block size.
func (e *Environment) Process(numFrames int, inputs, outputs [][]float32) error {
	if numFrames > e.opts.BlockSize {
		return wrapErr(InvalidArgument, "numFrames exceeds configured block size", nil)
	}

	cur := e.currentEpoch.Next() // 1. increment the epoch

	e.drainToRT() // 2. drain NRT->RT commands

	e.buses.RefreshExternal(cur, inputs, outputs) // 3. refresh external inputs
	e.buses.ZeroOutputs(cur)                      // 4. zero external outputs

	if numFrames > 0 { // 5. walk the tree
		node.Walk(e.root, func(s *node.Node) {
			node.Process(e.world, s, numFrames)
		})
	}

	e.pollToNRTBudget() // 6. back-pressure re-poll (actual perform happens on NRT)

	e.buses.FlushOutputs(outputs)

	return nil
}

func (e *Environment) drainToRT() {
	ctx := context.Background()
	for {
		rec, ok := e.toRT.TryDequeue()
		if !ok {
			return
		}
		if err := rec.Perform(ctx); err != nil {
			e.log.Warn("RT command failed", "err", err)
		}
	}
}

// pollToNRTBudget exists as the named step-6 hook from spec §4.7; actual
// NRT command execution happens on the dispatcher's own worker goroutine,
// woken by the wake-channel send in postResponse. Nothing to do here
// beyond the tally logging overflow already performs.
func (e *Environment) pollToNRTBudget() {}

func (e *Environment) confirmRelease(id node.NodeId) {
	rec := command.Func(command.RT, func(ctx context.Context) error {
		return e.table.ConfirmRelease(id)
	})
	if err := e.toRT.TryEnqueue(rec); err != nil {
		e.log.Warn("could not enqueue ConfirmRelease, node id index stays pending", "id", id.String())
	}
}

// apply executes one decoded request against engine state. It runs
// inside a command.Record's Perform closure, dequeued from toRT during
// Process's step 2 — i.e. always on the RT thread's logical turn (spec
// §4.7 step 2, §5 "Node tree: mutated only by the RT thread").
func (e *Environment) apply(ctx context.Context, d request.Decoded) (node.NodeId, error) {
	switch d.Kind {
	case request.KindCreateGroup:
		return e.applyCreateGroup(d)
	case request.KindCreateSynth:
		return e.applyCreateSynth(d)
	case request.KindFreeNode:
		return e.applyFreeNode(d)
	case request.KindMapPort:
		return 0, e.applyMapPort(d)
	case request.KindSetControl:
		return 0, e.applySetControl(d)
	default:
		return 0, wrapErr(InvalidArgument, "unknown decoded request kind", nil)
	}
}

func (e *Environment) applyCreateGroup(d request.Decoded) (node.NodeId, error) {
	target, err := e.table.Lookup(d.Target)
	if err != nil {
		return 0, wrapErr(InvalidNodeId, "create group target", err)
	}
	g := node.NewGroup()
	if err := node.Attach(target, g, d.Placement); err != nil {
		return 0, wrapErr(InvalidArgument, "attach group", err)
	}
	id, err := e.table.Insert(g)
	if err != nil {
		node.Detach(g)
		return 0, wrapErr(AllocationFailed, "node table exhausted", err)
	}
	return id, nil
}

// lookupSynthDef resolves a Synth request's plugin, preferring the interned
// URID (spec §6 "URIs are interned through a URID map shared with plugins")
// when the request carried one, and falling back to the string URI
// otherwise — e.g. when the request was built without a Mapper.
func (e *Environment) lookupSynthDef(d request.Decoded) (*abi.SynthDef, error) {
	if d.PluginURID != 0 {
		if def, err := e.pluginMgr.LookupURID(d.PluginURID); err == nil {
			return def, nil
		}
	}
	return e.pluginMgr.Lookup(d.Plugin)
}

func (e *Environment) applyCreateSynth(d request.Decoded) (node.NodeId, error) {
	target, err := e.table.Lookup(d.Target)
	if err != nil {
		return 0, wrapErr(InvalidNodeId, "create synth target", err)
	}
	def, err := e.lookupSynthDef(d)
	if err != nil {
		return 0, wrapErr(UnknownPlugin, d.Plugin, err)
	}
	synth, err := node.Construct(e.world, def, d.Args, e.silence)
	if err != nil {
		return 0, wrapErr(InvalidArgument, "construct synth", err)
	}
	if err := node.Attach(target, synth, d.Placement); err != nil {
		node.Destroy(e.world, synth)
		return 0, wrapErr(InvalidArgument, "attach synth", err)
	}
	id, err := e.table.Insert(synth)
	if err != nil {
		node.Detach(synth)
		node.Destroy(e.world, synth)
		return 0, wrapErr(AllocationFailed, "node table exhausted", err)
	}
	return id, nil
}

func (e *Environment) applyFreeNode(d request.Decoded) (node.NodeId, error) {
	target, err := e.table.Lookup(d.Target)
	if err != nil {
		return 0, wrapErr(InvalidNodeId, "free target", err)
	}
	node.Detach(target)
	ids := e.destroyRecursive(target)
	for _, id := range ids {
		if err := e.table.Release(id); err != nil {
			return 0, wrapErr(InvalidNodeId, "release", err)
		}
	}
	e.world.PerformCommand(func(ctx context.Context, data any) error {
		for _, id := range ids {
			e.confirmRelease(id)
		}
		return nil
	}, nil)
	return d.Target, nil
}

// destroyRecursive tears down n and, if it is a group, every descendant,
// depth-first (spec §4.6 "Removing a node"), returning the NodeId of every
// node destroyed (descendants before n). A group's whole subtree shares
// one Free request, so every one of those ids — not just n's — needs its
// table slot released and, once the NRT round trip acks it, confirmed
// free; otherwise a descendant's id stays "live" forever while its synth
// has already been torn down (spec §3 "Unique ID mapping").
func (e *Environment) destroyRecursive(n *node.Node) []node.NodeId {
	var ids []node.NodeId
	for _, child := range n.Children() {
		node.Detach(child)
		ids = append(ids, e.destroyRecursive(child)...)
	}
	node.Destroy(e.world, n)
	ids = append(ids, n.ID())
	return ids
}

func (e *Environment) applyMapPort(d request.Decoded) error {
	target, err := e.table.Lookup(d.Target)
	if err != nil {
		return wrapErr(InvalidNodeId, "map port target", err)
	}
	b, err := e.buses.Bus(bus.ID(d.BusId))
	if err != nil {
		return wrapErr(InvalidBusId, "map port bus", err)
	}
	if err := node.SetPort(target, d.PortIndex, b.Samples); err != nil {
		return wrapErr(InvalidArgument, "map port index", err)
	}
	return nil
}

func (e *Environment) applySetControl(d request.Decoded) error {
	target, err := e.table.Lookup(d.Target)
	if err != nil {
		return wrapErr(InvalidNodeId, "set control target", err)
	}
	if err := node.SetControlValue(target, d.ControlIndex, d.ControlValue); err != nil {
		return wrapErr(InvalidArgument, "set control index", err)
	}
	return nil
}
