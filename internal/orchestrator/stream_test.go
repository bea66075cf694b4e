package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"orchestd/internal/guardian"
	"orchestd/internal/runner"
	"orchestd/internal/runner/runnertest"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

func enableOutputGuard(h *harness, strategy settings.FailureStrategy) *runnertest.Guard {
	guard := runnertest.NewGuard()
	h.register("guard", runner.PriorityNormal, 10, guard, types.CapabilityGuardian)
	h.settings(func(es *settings.EngineSettings) {
		es.Guardian.Enabled = true
		es.Guardian.Checkpoints = settings.CheckpointOutput
		es.Guardian.FailureStrategy = strategy
	})
	return guard
}

func texts(rs []types.InferenceResult) string {
	var parts []string
	for _, r := range rs {
		s, _ := r.Text(types.SlotText)
		parts = append(parts, s)
	}
	return strings.Join(parts, "|")
}

func TestStreamChecksEveryChunkInOrder(t *testing.T) {
	h := newHarness(t, 4096)
	chunks := []string{"one", "two", "three", "four"}
	h.register("llm", runner.PriorityNormal, 10, runnertest.NewStreamSpy(chunks, types.CapabilityLLM), types.CapabilityLLM)
	guard := enableOutputGuard(h, settings.StrategyBlock)

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("count"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, ch)
	if texts(got) != "one|two|three|four" {
		t.Fatalf("chunks=%s", texts(got))
	}
	for i, r := range got {
		if r.Err != nil {
			t.Fatalf("chunk %d error: %v", i, r.Err)
		}
		if want := i < len(got)-1; r.Partial != want {
			t.Fatalf("chunk %d partial=%v want %v", i, r.Partial, want)
		}
	}
	if a := strings.Join(guard.Analyzed(), "|"); a != "one|two|three|four" {
		t.Fatalf("analyzed=%s", a)
	}
	waitFor(t, "lease release", func() bool { return h.leases("llm") == 0 })
}

func TestStreamBlockingRunnerYieldsOneFinalChunk(t *testing.T) {
	h := newHarness(t, 4096)
	h.register("llm", runner.PriorityNormal, 10, runnertest.NewSpy(types.CapabilityLLM), types.CapabilityLLM)

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("hi"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 1 || got[0].Partial || texts(got) != "HI" {
		t.Fatalf("got %+v", got)
	}
}

func TestStreamWithoutChunksStillEnds(t *testing.T) {
	h := newHarness(t, 4096)
	h.register("llm", runner.PriorityNormal, 10, runnertest.NewStreamSpy(nil, types.CapabilityLLM), types.CapabilityLLM)

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("hi"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 1 || got[0].Partial || got[0].Err != nil {
		t.Fatalf("got %+v", got)
	}
	if _, ok := got[0].Text(types.SlotText); ok {
		t.Fatalf("final chunk carries text: %+v", got[0])
	}
}

func TestStreamBlockedChunkEndsStream(t *testing.T) {
	h := newHarness(t, 4096)
	spy := runnertest.NewStreamSpy([]string{"fine", "evil", "more", "rest"}, types.CapabilityLLM)
	h.register("llm", runner.PriorityNormal, 10, spy, types.CapabilityLLM)
	guard := enableOutputGuard(h, settings.StrategyBlock)
	guard.Verdicts["evil"] = runnertest.Block()

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("go"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 2 {
		t.Fatalf("want 2 results, got %d: %s", len(got), texts(got))
	}
	if s, _ := got[0].Text(types.SlotText); s != "fine" || !got[0].Partial {
		t.Fatalf("first chunk %+v", got[0])
	}
	if !types.IsGuardianBlocked(got[1].Err) {
		t.Fatalf("final result err=%v", got[1].Err)
	}
}

func TestStreamFilterAndWarn(t *testing.T) {
	h := newHarness(t, 4096)
	h.register("llm", runner.PriorityNormal, 10, runnertest.NewStreamSpy([]string{"a", "rude", "b"}, types.CapabilityLLM), types.CapabilityLLM)
	guard := enableOutputGuard(h, settings.StrategyFilter)
	guard.Verdicts["rude"] = runnertest.Warn("****")

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("go"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, ch)
	if texts(got) != "a|****|b" {
		t.Fatalf("chunks=%s", texts(got))
	}
	if got[1].Metadata[guardian.MetaFiltered] != "true" || got[0].Metadata[guardian.MetaFiltered] != "" {
		t.Fatalf("filter metadata: %v / %v", got[0].Metadata, got[1].Metadata)
	}
}

func TestStreamRunnerFailureAfterStart(t *testing.T) {
	h := newHarness(t, 4096)
	spy := runnertest.NewStreamSpy([]string{"a", "b", "c"}, types.CapabilityLLM)
	spy.FailAfter = 2
	spy.Err = errors.New("device lost")
	h.register("llm", runner.PriorityNormal, 10, spy, types.CapabilityLLM)

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("go"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 3 {
		t.Fatalf("want 2 chunks and an error, got %d", len(got))
	}
	if texts(got[:2]) != "a|b" || !got[0].Partial || !got[1].Partial {
		t.Fatalf("chunks before failure: %+v", got[:2])
	}
	if !types.IsKind(got[2].Err, types.KindRuntime) {
		t.Fatalf("final err=%v", got[2].Err)
	}
}

func TestStreamCancellationStopsProducer(t *testing.T) {
	h := newHarness(t, 4096)
	chunks := make([]string, 200)
	for i := range chunks {
		chunks[i] = "t"
	}
	spy := runnertest.NewStreamSpy(chunks, types.CapabilityLLM)
	spy.Delay = 10 * time.Millisecond
	h.register("llm", runner.PriorityNormal, 10, spy, types.CapabilityLLM)

	ctx, cancel := context.WithCancel(testCtx(t))
	ch, err := h.orch.Stream(ctx, types.CapabilityLLM, textReq("go"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	<-ch
	cancel()

	got := collect(t, ch)
	if len(got) > 3 {
		t.Fatalf("producer kept going after cancel: %d more chunks", len(got))
	}
	waitFor(t, "runner cancel", func() bool { return spy.Cancels() >= 1 })
	waitFor(t, "lease release", func() bool { return h.leases("llm") == 0 })
}

func TestStreamAdmissionErrorsReturnedDirectly(t *testing.T) {
	h := newHarness(t, 4096)
	llm := runnertest.NewStreamSpy([]string{"x"}, types.CapabilityLLM)
	llm.LoadErr = errors.New("bad weights")
	h.register("llm", runner.PriorityNormal, 10, llm, types.CapabilityLLM)

	ch, err := h.orch.Stream(testCtx(t), types.CapabilityLLM, textReq("go"))
	wantKind(t, err, types.KindLoad)
	if ch != nil {
		t.Fatalf("channel returned with error")
	}
}
