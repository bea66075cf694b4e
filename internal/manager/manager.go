package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/rs/zerolog"

	"orchestd/internal/modelrepo"
	"orchestd/internal/resource"
	"orchestd/internal/runner"
)

// State is the lifecycle state of one runner instance.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateDraining State = "draining"
)

// Repository is the model repository collaborator.
type Repository interface {
	Describe(ctx context.Context, id string) (modelrepo.ModelDescriptor, error)
	IsAvailable(ctx context.Context, d modelrepo.ModelDescriptor) (bool, error)
	Acquire(ctx context.Context, d modelrepo.ModelDescriptor, progress func(modelrepo.Progress)) error
}

// Runners resolves registered runners by name.
type Runners interface {
	Instance(name string) (runner.Runner, bool)
	Descriptor(name string) (runner.Descriptor, bool)
}

// instance tracks one registered runner. mu serializes its lifecycle;
// the remaining fields are guarded by Manager.mu.
type instance struct {
	name string
	desc runner.Descriptor
	r    runner.Runner
	mu   sync.Mutex

	state    State
	modelID  string
	ramBytes uint64
	lastUsed time.Time
	leases   int
	inflight int
	genCh    chan struct{}
	lastErr  string
}

// Manager is the model lifecycle manager.
type Manager struct {
	runners   Runners
	repo      Repository
	mon       resource.Monitor
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher

	// life is cancelled by Close; detached loads observe it.
	life     context.Context
	stopLife context.CancelFunc

	// memMu serializes memory checks, eviction and Load across instances.
	memMu sync.Mutex

	mu        sync.Mutex
	instances map[string]*instance
	lru       *simplelru.LRU
	usedBytes uint64
	lastErr   string
	startTime time.Time

	evictions    atomic.Uint64
	loads        atomic.Uint64
	loadFailures atomic.Uint64
}

// lruCapacity is far above any realistic runner count; the manager removes
// entries itself and never relies on size-based eviction.
const lruCapacity = 1 << 16

// New constructs a Manager.
func New(runners Runners, repo Repository, mon resource.Monitor, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	lru, _ := simplelru.NewLRU(lruCapacity, nil)
	life, stop := context.WithCancel(context.Background())
	return &Manager{
		runners:   runners,
		repo:      repo,
		mon:       mon,
		cfg:       cfg,
		log:       cfg.Log,
		publisher: cfg.Publisher,
		life:      life,
		stopLife:  stop,
		instances: map[string]*instance{},
		lru:       lru,
		startTime: time.Now(),
	}
}

// instance returns the tracked instance for name, creating it from the
// registry on first use.
func (m *Manager) instance(name string) (*instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[name]; ok {
		return inst, nil
	}
	r, ok := m.runners.Instance(name)
	if !ok {
		return nil, errUnknownRunner(name)
	}
	desc, _ := m.runners.Descriptor(name)
	inst := &instance{
		name:  name,
		desc:  desc,
		r:     r,
		state: StateUnloaded,
		genCh: make(chan struct{}, 1),
	}
	m.instances[name] = inst
	return inst, nil
}

// LoadedModel returns the model resident in runner name, if any.
func (m *Manager) LoadedModel(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok || inst.state != StateLoaded {
		return "", false
	}
	return inst.modelID, true
}

// LRUOrder returns loaded runner names, least recently used first.
func (m *Manager) LRUOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.lru.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(string))
	}
	return out
}

// Ready reports whether at least one instance has a model loaded.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len() > 0
}

// touch marks inst most recently used. Caller holds m.mu.
func (m *Manager) touchLocked(inst *instance) {
	inst.lastUsed = time.Now()
	m.lru.Get(inst.name)
}
