package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orchestd/internal/runner"
	"orchestd/internal/runner/runnertest"
	"orchestd/pkg/types"
)

func TestAcquireQueueFull(t *testing.T) {
	f := newFixture(t, Config{MaxQueueDepth: 1, MaxWait: time.Second}, 8192, "a")
	f.repo.add("m1", 10, true)
	ctx := testCtx(t)
	release, err := f.m.Acquire(ctx, "a", "m1", nil)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	start := time.Now()
	_, err = f.m.Acquire(ctx, "a", "m1", nil)
	wantKind(t, err, types.KindBusy)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("queue overflow should fail fast")
	}
	release()
	release() // idempotent
	r2, err := f.m.Acquire(ctx, "a", "m1", nil)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	r2()
}

func TestAcquireWaitTimeout(t *testing.T) {
	f := newFixture(t, Config{MaxQueueDepth: 4, MaxWait: 30 * time.Millisecond}, 8192, "a")
	f.repo.add("m1", 10, true)
	ctx := testCtx(t)
	release, err := f.m.Acquire(ctx, "a", "m1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	_, err = f.m.Acquire(ctx, "a", "m1", nil)
	wantKind(t, err, types.KindBusy)
	st := f.m.Status(ctx)
	if st.Instances[0].Leases != 1 || st.Instances[0].Inflight != 1 {
		t.Fatalf("timed-out request leaked a lease: %+v", st.Instances[0])
	}
}

func TestAcquireSerializesExecution(t *testing.T) {
	f := newFixture(t, Config{MaxQueueDepth: 8, MaxWait: time.Second}, 8192, "a")
	f.repo.add("m1", 10, true)
	ctx := testCtx(t)
	var mu sync.Mutex
	running, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := f.m.Acquire(ctx, "a", "m1", nil)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("peak concurrency=%d want 1", peak)
	}
}

func TestConcurrentRunnerSkipsSlot(t *testing.T) {
	f := newFixture(t, Config{MaxQueueDepth: 4, MaxWait: 20 * time.Millisecond}, 8192)
	s := runnertest.NewSpy(types.CapabilityLLM)
	f.reg.MustRegister(runner.Descriptor{Name: "c", Capabilities: []types.Capability{types.CapabilityLLM}, Concurrent: true}, runnertest.Factory(s))
	f.repo.add("m1", 10, true)
	ctx := testCtx(t)
	r1, err := f.m.Acquire(ctx, "c", "m1", nil)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := f.m.Acquire(ctx, "c", "m1", nil)
	if err != nil {
		t.Fatalf("concurrent runner should admit overlapping work: %v", err)
	}
	if st := f.m.Status(ctx); st.Instances[0].Inflight != 2 {
		t.Fatalf("inflight=%d want 2", st.Instances[0].Inflight)
	}
	r1()
	r2()
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t, Config{MaxQueueDepth: 4, MaxWait: time.Second}, 8192, "a")
	f.repo.add("m1", 10, true)
	release, err := f.m.Acquire(testCtx(t), "a", "m1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.m.Acquire(ctx, "a", "m1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	waitFor(t, "lease release", func() bool { return f.m.Status(context.Background()).Instances[0].Leases == 1 })
}

func TestUnloadDrainsThenUnloads(t *testing.T) {
	f := newFixture(t, Config{DrainTimeout: time.Second}, 8192, "a")
	f.repo.add("m1", 10, true)
	ctx := testCtx(t)
	release, err := f.m.Acquire(ctx, "a", "m1", nil)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- f.m.Unload(ctx, "a") }()
	waitFor(t, "draining", func() bool { return f.m.Status(ctx).DrainingCount == 1 })

	_, err = f.m.Acquire(ctx, "a", "m1", nil)
	wantKind(t, err, types.KindBusy)
	if !f.spy["a"].IsLoaded() {
		t.Fatalf("unloaded before drain completed")
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("unload: %v", err)
	}
	if f.spy["a"].IsLoaded() {
		t.Fatalf("still loaded after unload")
	}
	names := f.pub.Names()
	if f.pub.Count("unload_start") != 1 || f.pub.Count("unload_done") != 1 {
		t.Fatalf("unload events: %v", names)
	}
}

func TestUnloadTimeoutCancelsRunner(t *testing.T) {
	f := newFixture(t, Config{DrainTimeout: 20 * time.Millisecond}, 8192, "a")
	f.repo.add("m1", 10, true)
	ctx := testCtx(t)
	release, err := f.m.Acquire(ctx, "a", "m1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if err := f.m.Unload(ctx, "a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if f.spy["a"].Cancels() != 1 {
		t.Fatalf("runner not cancelled on drain timeout")
	}
	if f.pub.Count("unload_timeout") != 1 {
		t.Fatalf("missing unload_timeout event")
	}
}

func TestCloseUnloadsEverything(t *testing.T) {
	f := newFixture(t, Config{}, 8192, "a", "b")
	f.repo.add("m1", 10, true)
	f.repo.add("m2", 10, true)
	ctx := testCtx(t)
	if err := f.m.EnsureLoaded(ctx, "a", "m1", nil); err != nil {
		t.Fatal(err)
	}
	if err := f.m.EnsureLoaded(ctx, "b", "m2", nil); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.spy["a"].IsLoaded() || f.spy["b"].IsLoaded() || f.m.Ready() {
		t.Fatalf("models still loaded after close")
	}
}

func TestUnloadWaitsForInFlightLoad(t *testing.T) {
	f := newFixture(t, Config{DrainTimeout: time.Second}, 8192, "a")
	f.repo.add("m1", 10, true)
	f.spy["a"].LoadDelay = 100 * time.Millisecond
	ctx := testCtx(t)

	loaded := make(chan error, 1)
	go func() { loaded <- f.m.EnsureLoaded(ctx, "a", "m1", nil) }()
	waitFor(t, "loading", func() bool { return f.m.Status(ctx).LoadingCount == 1 })

	if err := f.m.Unload(ctx, "a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := <-loaded; err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if f.spy["a"].IsLoaded() {
		t.Fatalf("model %q still resident after unload returned", f.spy["a"].LoadedModel())
	}
	if f.pub.Count("unload_done") != 1 {
		t.Fatalf("unload events: %v", f.pub.Names())
	}
}
