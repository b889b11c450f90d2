// Package urid defines the URI-interning collaborator the request and
// pluginmanager packages depend on (spec §6): a way to turn a URI string
// into a small stable integer once, so hot paths compare integers instead
// of strings. Table is the in-process implementation; Environment builds
// one and shares it with the request validator and the plugin manager.
package urid

import "sync"

// Mapper interns a URI string into a stable uint32, allocating a new id
// the first time a given URI is seen and returning the same id on every
// later call with that URI. Implementations must be safe for concurrent
// use from both the RT and NRT sides.
type Mapper interface {
	Map(uri string) uint32
}

// Table is a simple in-process Mapper: a growable string<->id table. It
// never forgets a URI once mapped and never reuses an id, which is the
// only safe behavior for a mapper whose ids are compared for the lifetime
// of the process (spec §6).
type Table struct {
	mu    sync.Mutex
	byURI map[string]uint32
	byID  []string
}

// NewTable returns an empty Mapper. Id 0 is reserved and never assigned.
func NewTable() *Table {
	return &Table{
		byURI: make(map[string]uint32),
		byID:  []string{""},
	}
}

// Map returns uri's id, minting a new one if uri has not been seen before.
func (t *Table) Map(uri string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byURI[uri]; ok {
		return id
	}
	id := uint32(len(t.byID))
	t.byID = append(t.byID, uri)
	t.byURI[uri] = id
	return id
}

// Unmap returns the URI that was interned as id, or "" if id is unknown.
func (t *Table) Unmap(id uint32) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == 0 || int(id) >= len(t.byID) {
		return ""
	}
	return t.byID[id]
}

// Len returns the number of URIs interned so far.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID) - 1
}
