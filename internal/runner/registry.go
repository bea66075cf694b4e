package runner

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type entry struct {
	desc Descriptor
	inst Runner
}

// Registry holds runners in registration order. Registration is explicit;
// there is no discovery.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry
	deps    Deps
	log     zerolog.Logger
}

// NewRegistry returns an empty registry whose factories receive deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{byName: map[string]*entry{}, deps: deps, log: deps.Log}
}

// Register builds the runner through factory and records it under d.Name.
// Duplicate names and instances that can neither Run nor RunStream are
// rejected.
func (r *Registry) Register(d Descriptor, factory Factory) error {
	_, err := r.register(d, factory, false)
	return err
}

// RegisterIfSupported is Register for optional backends: an instance that
// reports IsSupported false is discarded and (false, nil) returned.
func (r *Registry) RegisterIfSupported(d Descriptor, factory Factory) (bool, error) {
	return r.register(d, factory, true)
}

func (r *Registry) register(d Descriptor, factory Factory, onlySupported bool) (bool, error) {
	if err := d.validate(); err != nil {
		return false, err
	}
	if factory == nil {
		return false, fmt.Errorf("runner %s: nil factory", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[d.Name]; dup {
		return false, fmt.Errorf("runner %s: already registered", d.Name)
	}
	deps := r.deps
	deps.Log = r.log.With().Str("runner", d.Name).Logger()
	inst, err := factory(deps)
	if err != nil {
		return false, fmt.Errorf("runner %s: factory: %w", d.Name, err)
	}
	if inst == nil {
		return false, fmt.Errorf("runner %s: factory returned nil", d.Name)
	}
	_, blocking := inst.(Blocking)
	_, streaming := inst.(Streaming)
	if !blocking && !streaming {
		return false, fmt.Errorf("runner %s: implements neither Run nor RunStream", d.Name)
	}
	if onlySupported && !inst.IsSupported() {
		r.log.Info().Str("runner", d.Name).Msg("runner_unsupported")
		return false, nil
	}
	e := &entry{desc: d.clone(), inst: inst}
	r.entries = append(r.entries, e)
	r.byName[d.Name] = e
	r.log.Debug().Str("runner", d.Name).Interface("capabilities", d.Capabilities).Msg("runner_registered")
	return true, nil
}

// MustRegister panics on registration errors; for static wiring.
func (r *Registry) MustRegister(d Descriptor, factory Factory) {
	if err := r.Register(d, factory); err != nil {
		panic(err)
	}
}

// Descriptors returns copies of all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.desc.clone()
	}
	return out
}

// Descriptor returns a copy of the named descriptor.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc.clone(), true
}

// Instance returns the single instance registered under name.
func (r *Registry) Instance(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.inst, true
}

// Len returns the number of registered runners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
