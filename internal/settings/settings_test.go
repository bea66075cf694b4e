package settings

import (
	"testing"

	"orchestd/pkg/types"
)

func TestGuardianCheckpoints(t *testing.T) {
	cases := []struct {
		cfg     GuardianPipelineConfig
		in, out bool
	}{
		{GuardianPipelineConfig{Enabled: false, Checkpoints: CheckpointBoth}, false, false},
		{GuardianPipelineConfig{Enabled: true, Checkpoints: CheckpointInput}, true, false},
		{GuardianPipelineConfig{Enabled: true, Checkpoints: CheckpointOutput}, false, true},
		{GuardianPipelineConfig{Enabled: true, Checkpoints: CheckpointBoth}, true, true},
	}
	for _, c := range cases {
		if got := c.cfg.ShouldCheckInput(); got != c.in {
			t.Fatalf("%+v: ShouldCheckInput=%v want %v", c.cfg, got, c.in)
		}
		if got := c.cfg.ShouldCheckOutput(); got != c.out {
			t.Fatalf("%+v: ShouldCheckOutput=%v want %v", c.cfg, got, c.out)
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s, err := NewStore(EngineSettings{
		SelectedRunners: map[types.Capability]string{types.CapabilityLLM: "a"},
		RunnerParams:    map[string]map[string]any{"a": {"temperature": 0.2}},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	snap := s.Snapshot()
	snap.SelectedRunners[types.CapabilityLLM] = "b"
	snap.RunnerParams["a"]["temperature"] = 0.9

	again := s.Snapshot()
	if again.SelectedRunner(types.CapabilityLLM) != "a" {
		t.Fatalf("selected runner mutated through snapshot")
	}
	if again.RunnerParams["a"]["temperature"] != 0.2 {
		t.Fatalf("runner params mutated through snapshot")
	}
}

func TestUpdateObservedByNextSnapshotOnly(t *testing.T) {
	s, err := NewStore(Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	inFlight := s.Snapshot()
	if _, err := s.Update(func(e *EngineSettings) { e.Guardian.Enabled = true }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if inFlight.Guardian.Enabled {
		t.Fatalf("in-flight snapshot changed")
	}
	if !s.Snapshot().Guardian.Enabled {
		t.Fatalf("next snapshot did not observe update")
	}
	if s.Version() != 2 {
		t.Fatalf("version=%d want 2", s.Version())
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	s, _ := NewStore(Default())
	_, err := s.Update(func(e *EngineSettings) { e.Guardian.FailureStrategy = "explode" })
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if s.Snapshot().Guardian.FailureStrategy != StrategyBlock {
		t.Fatalf("invalid update was committed")
	}
	if s.Version() != 1 {
		t.Fatalf("version bumped on failed update")
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var e EngineSettings
	e.Guardian.Strictness = "HIGH"
	e.Normalize()
	if e.Guardian.Strictness != StrictnessHigh || e.Guardian.Checkpoints != CheckpointBoth || e.Guardian.FailureStrategy != StrategyBlock {
		t.Fatalf("unexpected normalized settings: %+v", e.Guardian)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUnknownCapability(t *testing.T) {
	e := Default()
	e.SelectedRunners["telepathy"] = "x"
	if err := e.Validate(); err == nil {
		t.Fatalf("expected unknown capability error")
	}
}
