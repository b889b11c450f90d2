package sonicore

import (
	"sync"
	"sync/atomic"

	"github.com/shaban/sonicore/abi"
)

// resourceTable implements the Resource half of spec §3: an opaque,
// reference-counted handle visible to plugin code for objects whose
// lifetime may cross the RT/NRT boundary. Counts are atomic; release
// reports a decrement to zero, but World.Release discards that result, so
// no deferred-delete command is scheduled: a synth is only torn down
// through the FreeNode path.
type resourceTable struct {
	mu      sync.Mutex
	nextId  uint64
	bySynth map[abi.Synth]abi.Resource
	synths  map[abi.Resource]abi.Synth
	counts  map[abi.Resource]*atomic.Int64
}

func newResourceTable() *resourceTable {
	return &resourceTable{
		bySynth: make(map[abi.Synth]abi.Resource),
		synths:  make(map[abi.Resource]abi.Synth),
		counts:  make(map[abi.Resource]*atomic.Int64),
	}
}

// resourceFor returns the Resource handle for synth, minting one with an
// initial count of 1 the first time synth is seen.
func (t *resourceTable) resourceFor(synth abi.Synth) abi.Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.bySynth[synth]; ok {
		return r
	}
	t.nextId++
	r := abi.Resource(t.nextId)
	t.bySynth[synth] = r
	t.synths[r] = synth
	t.counts[r] = &atomic.Int64{}
	t.counts[r].Store(1)
	return r
}

func (t *resourceTable) synthFor(r abi.Resource) abi.Synth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synths[r]
}

func (t *resourceTable) retain(r abi.Resource) {
	t.mu.Lock()
	c := t.counts[r]
	t.mu.Unlock()
	if c != nil {
		c.Add(1)
	}
}

// release decrements r's count and reports whether it reached zero. The
// caller is responsible for scheduling the actual teardown on the owning
// side; release itself never performs destruction.
func (t *resourceTable) release(r abi.Resource) (zero bool) {
	t.mu.Lock()
	c := t.counts[r]
	t.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Add(-1) == 0
}
