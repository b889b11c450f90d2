// Package pluginmanager discovers, loads, and keeps alive synth
// definitions, addressable by URI, from shared library plugins (spec
// §4.4). It is the NRT-side analogue of the teacher's
// avaudio/pluginchain.ChainManager: a named registry with duplicate
// checks and sorted listing, generalized from "named plugin chain" to
// "URI-addressed synth definition".
package pluginmanager

import (
	"errors"
	"fmt"
	"path/filepath"
	"plugin"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaban/sonicore/abi"
	"github.com/shaban/sonicore/urid"
)

// ErrDuplicateSynthDef is returned when a library attempts to register a
// URI that is already taken (spec §7, kDuplicateSynthDef).
var ErrDuplicateSynthDef = errors.New("pluginmanager: duplicate synth definition URI")

// ErrUnknownPlugin is returned by Lookup for an unregistered URI (spec §7,
// kUnknownPlugin).
var ErrUnknownPlugin = errors.New("pluginmanager: unknown plugin URI")

// InitSymbol is the exported symbol name a plugin .so must provide; its
// type must be func(abi.Host) (*abi.Library, error), the Go analogue of
// methcla's Methcla_LibraryFunction library_init entry point.
const InitSymbol = "MethclaLibraryInit"

// Manager indexes synth definitions by URI. Libraries and their
// definitions outlive the Manager's caller for the process lifetime;
// unregistration is not supported while any synth of that definition is
// live (spec §4.4).
type Manager struct {
	mu        sync.RWMutex
	defs      map[string]*abi.SynthDef
	defsByURD map[uint32]*abi.SynthDef
	mapper    urid.Mapper
	libs      []*abi.Library
	hostFn    func(m *Manager) abi.Host
	openFunc  func(path string) (initFunc, error) // overridable for tests
}

type initFunc func(abi.Host) (*abi.Library, error)

// New creates an empty Manager. hostFactory builds the Host facet handed
// to each plugin's init function; it is a factory (not a fixed value) so
// the Host can close over the Manager itself for RegisterSynthDef. mapper
// interns every registered definition's URI into a uint32 (spec §6 "URIs
// are interned through a URID map shared with plugins"); it may be nil, in
// which case definitions are only addressable by their string URI.
func New(hostFactory func(m *Manager) abi.Host, mapper urid.Mapper) *Manager {
	m := &Manager{
		defs:      make(map[string]*abi.SynthDef),
		defsByURD: make(map[uint32]*abi.SynthDef),
		mapper:    mapper,
		hostFn:    hostFactory,
	}
	m.openFunc = m.defaultOpen
	return m
}

func (m *Manager) defaultOpen(path string) (initFunc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pluginmanager: open %s: %w", path, err)
	}
	sym, err := p.Lookup(InitSymbol)
	if err != nil {
		return nil, fmt.Errorf("pluginmanager: lookup %s in %s: %w", InitSymbol, path, err)
	}
	fn, ok := sym.(func(abi.Host) (*abi.Library, error))
	if !ok {
		return nil, fmt.Errorf("pluginmanager: %s in %s has the wrong signature", InitSymbol, path)
	}
	return fn, nil
}

// LoadDirectories scans each directory for *.so files and loads every one
// found, aggregating (not stopping at) individual load failures. Each
// directory is scanned and loaded on its own goroutine via an errgroup,
// since directory scans are independent disk I/O with nothing to
// serialize on beyond the Manager's own registration lock.
func (m *Manager) LoadDirectories(dirs []string) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, dir := range dirs {
		g.Go(func() error {
			matches, err := filepath.Glob(filepath.Join(dir, "*.so"))
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			for _, path := range matches {
				if err := m.Load(path); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Load opens a single plugin object and registers the synth definitions
// its init function provides via Host.RegisterSynthDef.
func (m *Manager) Load(path string) error {
	fn, err := m.openFunc(path)
	if err != nil {
		return err
	}
	lib, err := fn(m.hostFn(m))
	if err != nil {
		return fmt.Errorf("pluginmanager: init %s: %w", path, err)
	}
	m.mu.Lock()
	m.libs = append(m.libs, lib)
	m.mu.Unlock()
	return nil
}

// RegisterSynthDef adds def to the registry, keyed by def.URI. Called by
// a plugin's init function through the Host facet. If a mapper was
// supplied at construction, def.URI is also interned so LookupURID can
// resolve the same definition by its URID.
func (m *Manager) RegisterSynthDef(def *abi.SynthDef) error {
	if def == nil || def.URI == "" {
		return errors.New("pluginmanager: nil definition or empty URI")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[def.URI]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSynthDef, def.URI)
	}
	m.defs[def.URI] = def
	if m.mapper != nil {
		m.defsByURD[m.mapper.Map(def.URI)] = def
	}
	return nil
}

// Lookup resolves a URI to its synth definition.
func (m *Manager) Lookup(uri string) (*abi.SynthDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, uri)
	}
	return def, nil
}

// LookupURID resolves an interned URID to its synth definition. It only
// finds definitions registered while a non-nil mapper was configured.
func (m *Manager) LookupURID(id uint32) (*abi.SynthDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defsByURD[id]
	if !ok {
		return nil, fmt.Errorf("%w: urid %d", ErrUnknownPlugin, id)
	}
	return def, nil
}

// URIs returns a sorted list of every registered synth definition URI.
func (m *Manager) URIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uris := make([]string, 0, len(m.defs))
	for uri := range m.defs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Count returns the number of registered synth definitions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.defs)
}

// Close releases every loaded library. Not safe to call while any synth
// instance from those libraries is still alive.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lib := range m.libs {
		if lib != nil && lib.Destroy != nil {
			lib.Destroy()
		}
	}
	m.libs = nil
}
