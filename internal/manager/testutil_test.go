package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orchestd/internal/modelrepo"
	"orchestd/internal/resource"
	"orchestd/internal/runner"
	"orchestd/internal/runner/runnertest"
	"orchestd/pkg/types"
)

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu         sync.Mutex
	models     map[string]modelrepo.ModelDescriptor
	present    map[string]bool
	acquireErr error
	acquires   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{models: map[string]modelrepo.ModelDescriptor{}, present: map[string]bool{}}
}

// add registers a model needing mb megabytes; present controls whether its
// files are already on disk.
func (r *fakeRepo) add(id string, mb int, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[id] = modelrepo.ModelDescriptor{ID: id, RAMBytes: resource.MB(mb), Files: []modelrepo.File{{Path: id + ".gguf"}}}
	r.present[id] = present
}

func (r *fakeRepo) Describe(_ context.Context, id string) (modelrepo.ModelDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.models[id]
	if !ok {
		return d, modelrepo.ErrNotFound
	}
	return d, nil
}

func (r *fakeRepo) IsAvailable(_ context.Context, d modelrepo.ModelDescriptor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.present[d.ID], nil
}

func (r *fakeRepo) Acquire(_ context.Context, d modelrepo.ModelDescriptor, progress func(modelrepo.Progress)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquires++
	if r.acquireErr != nil {
		return r.acquireErr
	}
	if progress != nil {
		progress(modelrepo.Progress{ModelID: d.ID, Downloaded: 1, Total: 1})
	}
	r.present[d.ID] = true
	return nil
}

func (r *fakeRepo) acquireCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquires
}

type fixture struct {
	m    *Manager
	repo *fakeRepo
	mon  *resource.Static
	pub  *MemoryPublisher
	reg  *runner.Registry
	spy  map[string]*runnertest.Spy
}

// newFixture registers one blocking spy per name.
func newFixture(t *testing.T, cfg Config, availMB int, names ...string) *fixture {
	t.Helper()
	f := &fixture{
		repo: newFakeRepo(),
		mon:  resource.NewStatic(resource.MB(availMB), resource.DeviceInfo{}),
		pub:  NewMemoryPublisher(),
		reg:  runner.NewRegistry(runner.Deps{}),
		spy:  map[string]*runnertest.Spy{},
	}
	for _, n := range names {
		s := runnertest.NewSpy(types.CapabilityLLM)
		f.spy[n] = s
		f.reg.MustRegister(runner.Descriptor{Name: n, Capabilities: []types.Capability{types.CapabilityLLM}}, runnertest.Factory(s))
	}
	cfg.Publisher = f.pub
	f.m = New(f.reg, f.repo, f.mon, cfg)
	t.Cleanup(func() { f.m.stopLife() })
	return f
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func wantKind(t *testing.T, err error, kind types.ErrorKind) {
	t.Helper()
	if !types.IsKind(err, kind) {
		t.Fatalf("want %s, got %v", kind, err)
	}
}

var errBoom = errors.New("boom")
