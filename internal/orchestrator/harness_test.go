package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orchestd/internal/guardian"
	"orchestd/internal/manager"
	"orchestd/internal/modelrepo"
	"orchestd/internal/orchestrator"
	"orchestd/internal/resource"
	"orchestd/internal/runner"
	"orchestd/internal/runner/runnertest"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// harness wires a real registry, repository, manager and guardian pipeline
// around instrumented runners.
type harness struct {
	t     *testing.T
	dir   string
	reg   *runner.Registry
	repo  *modelrepo.Repo
	mon   *resource.Static
	mgr   *manager.Manager
	store *settings.Store
	orch  *orchestrator.Orchestrator
}

func newHarness(t *testing.T, availMB int) *harness {
	t.Helper()
	dir := t.TempDir()
	repo, err := modelrepo.New(modelrepo.Options{Dir: dir})
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	store, err := settings.NewStore(settings.Default())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	h := &harness{
		t:     t,
		dir:   dir,
		reg:   runner.NewRegistry(runner.Deps{Models: repo}),
		repo:  repo,
		mon:   resource.NewStatic(resource.MB(availMB), resource.DeviceInfo{}),
		store: store,
	}
	h.mgr = manager.New(h.reg, repo, h.mon, manager.Config{
		MaxWait:      time.Second,
		DrainTimeout: time.Second,
		Settings:     store.Snapshot,
	})
	t.Cleanup(func() { _ = h.mgr.Close(context.Background()) })
	sel := runner.NewSelector(h.reg, h.mon)
	pipe := guardian.New(sel, h.reg, h.mgr, zerolog.Nop())
	h.orch = orchestrator.New(sel, h.reg, h.mgr, pipe, store, orchestrator.Options{StreamBuffer: 2})
	return h
}

// model writes a small file for id and registers it needing mb megabytes.
func (h *harness) model(id string, mb int) {
	h.t.Helper()
	if err := os.WriteFile(filepath.Join(h.dir, id+".gguf"), []byte(id), 0o644); err != nil {
		h.t.Fatalf("write model: %v", err)
	}
	h.repo.Add(modelrepo.ModelDescriptor{ID: id, RAMBytes: resource.MB(mb), Files: []modelrepo.File{{Path: id + ".gguf"}}})
}

// register adds r under name with a default model of name+"-model" sized mb.
// Loads and unloads move the monitor's available memory.
func (h *harness) register(name string, p runner.Priority, mb int, r runner.Runner, caps ...types.Capability) {
	h.t.Helper()
	modelID := name + "-model"
	h.model(modelID, mb)
	if b := baseOf(r); b != nil {
		b.OnLoad = func(string) { h.mon.Add(-int64(resource.MB(mb))) }
		b.OnUnload = func(string) { h.mon.Add(int64(resource.MB(mb))) }
	}
	h.reg.MustRegister(runner.Descriptor{Name: name, Capabilities: caps, Priority: p, DefaultModel: modelID}, runnertest.Factory(r))
}

func baseOf(r runner.Runner) *runnertest.Base {
	switch v := r.(type) {
	case *runnertest.Spy:
		return &v.Base
	case *runnertest.StreamSpy:
		return &v.Base
	case *runnertest.Guard:
		return &v.Base
	}
	return nil
}

func (h *harness) settings(fn func(*settings.EngineSettings)) {
	h.t.Helper()
	if _, err := h.store.Update(fn); err != nil {
		h.t.Fatalf("update settings: %v", err)
	}
}

func (h *harness) leases(name string) int {
	for _, in := range h.mgr.Status(context.Background()).Instances {
		if in.Runner == name {
			return in.Leases
		}
	}
	return 0
}

func textReq(s string) types.InferenceRequest {
	return types.NewRequest("", map[string]types.Value{types.SlotText: types.Text{Text: s}}, nil)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
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

func collect(t *testing.T, ch <-chan types.InferenceResult) []types.InferenceResult {
	t.Helper()
	var out []types.InferenceResult
	timeout := time.After(3 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("stream did not finish; got %d chunks", len(out))
		}
	}
}
