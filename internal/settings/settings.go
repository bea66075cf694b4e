// Package settings holds the process-wide engine configuration that
// administrators may change at runtime. Requests never read the live value:
// they take a Snapshot at dispatch time, so an Update is observed by the
// next request only.
package settings

import (
	"fmt"
	"strings"

	"orchestd/pkg/types"
)

// Checkpoint selects where the guardian pipeline runs.
type Checkpoint string

const (
	CheckpointInput  Checkpoint = "input"
	CheckpointOutput Checkpoint = "output"
	CheckpointBoth   Checkpoint = "both"
)

// Strictness is passed through to guardian runners.
type Strictness string

const (
	StrictnessLow    Strictness = "low"
	StrictnessMedium Strictness = "medium"
	StrictnessHigh   Strictness = "high"
)

// FailureStrategy decides what happens to a non-safe verdict.
type FailureStrategy string

const (
	StrategyBlock  FailureStrategy = "block"
	StrategyWarn   FailureStrategy = "warn"
	StrategyFilter FailureStrategy = "filter"
)

// GuardianPipelineConfig configures the guardian pass around a request.
type GuardianPipelineConfig struct {
	Enabled         bool            `json:"enabled" yaml:"enabled" toml:"enabled"`
	Checkpoints     Checkpoint      `json:"checkpoints" yaml:"checkpoints" toml:"checkpoints"`
	Strictness      Strictness      `json:"strictness" yaml:"strictness" toml:"strictness"`
	RunnerName      string          `json:"runner_name,omitempty" yaml:"runner_name" toml:"runner_name"`
	FailureStrategy FailureStrategy `json:"failure_strategy" yaml:"failure_strategy" toml:"failure_strategy"`
}

// ShouldCheckInput reports whether the input checkpoint is active.
func (c GuardianPipelineConfig) ShouldCheckInput() bool {
	return c.Enabled && (c.Checkpoints == CheckpointInput || c.Checkpoints == CheckpointBoth)
}

// ShouldCheckOutput reports whether the output checkpoint is active.
func (c GuardianPipelineConfig) ShouldCheckOutput() bool {
	return c.Enabled && (c.Checkpoints == CheckpointOutput || c.Checkpoints == CheckpointBoth)
}

// EngineSettings is the administrative configuration read on every request.
type EngineSettings struct {
	// SelectedRunners pins a runner name per capability.
	SelectedRunners map[types.Capability]string `json:"selected_runners,omitempty" yaml:"selected_runners" toml:"selected_runners"`
	// RunnerParams holds per-runner parameter overrides.
	RunnerParams map[string]map[string]any `json:"runner_params,omitempty" yaml:"runner_params" toml:"runner_params"`
	Guardian     GuardianPipelineConfig    `json:"guardian" yaml:"guardian" toml:"guardian"`
}

// Default returns settings with the guardian disabled and sane enum values.
func Default() EngineSettings {
	return EngineSettings{
		SelectedRunners: map[types.Capability]string{},
		RunnerParams:    map[string]map[string]any{},
		Guardian: GuardianPipelineConfig{
			Checkpoints:     CheckpointBoth,
			Strictness:      StrictnessMedium,
			FailureStrategy: StrategyBlock,
		},
	}
}

// Clone returns a deep copy.
func (s EngineSettings) Clone() EngineSettings {
	out := EngineSettings{
		SelectedRunners: make(map[types.Capability]string, len(s.SelectedRunners)),
		RunnerParams:    make(map[string]map[string]any, len(s.RunnerParams)),
		Guardian:        s.Guardian,
	}
	for k, v := range s.SelectedRunners {
		out.SelectedRunners[k] = v
	}
	for name, params := range s.RunnerParams {
		cp := make(map[string]any, len(params))
		for k, v := range params {
			cp[k] = v
		}
		out.RunnerParams[name] = cp
	}
	return out
}

// SelectedRunner returns the pinned runner for c, or "".
func (s EngineSettings) SelectedRunner(c types.Capability) string {
	return strings.TrimSpace(s.SelectedRunners[c])
}

// ParamsFor returns the parameter overrides for runner name (never nil).
func (s EngineSettings) ParamsFor(name string) map[string]any {
	out := map[string]any{}
	for k, v := range s.RunnerParams[name] {
		out[k] = v
	}
	return out
}

// Normalize fills empty enum fields with defaults.
func (s *EngineSettings) Normalize() {
	if s.SelectedRunners == nil {
		s.SelectedRunners = map[types.Capability]string{}
	}
	if s.RunnerParams == nil {
		s.RunnerParams = map[string]map[string]any{}
	}
	g := &s.Guardian
	g.Checkpoints = Checkpoint(strings.ToLower(string(g.Checkpoints)))
	g.Strictness = Strictness(strings.ToLower(string(g.Strictness)))
	g.FailureStrategy = FailureStrategy(strings.ToLower(string(g.FailureStrategy)))
	if g.Checkpoints == "" {
		g.Checkpoints = CheckpointBoth
	}
	if g.Strictness == "" {
		g.Strictness = StrictnessMedium
	}
	if g.FailureStrategy == "" {
		g.FailureStrategy = StrategyBlock
	}
}

// Validate checks enum values and capability keys.
func (s EngineSettings) Validate() error {
	for c := range s.SelectedRunners {
		if _, err := types.ParseCapability(string(c)); err != nil {
			return fmt.Errorf("selected_runners: %w", err)
		}
	}
	g := s.Guardian
	switch g.Checkpoints {
	case CheckpointInput, CheckpointOutput, CheckpointBoth:
	default:
		return fmt.Errorf("guardian.checkpoints: unsupported value %q", g.Checkpoints)
	}
	switch g.Strictness {
	case StrictnessLow, StrictnessMedium, StrictnessHigh:
	default:
		return fmt.Errorf("guardian.strictness: unsupported value %q", g.Strictness)
	}
	switch g.FailureStrategy {
	case StrategyBlock, StrategyWarn, StrategyFilter:
	default:
		return fmt.Errorf("guardian.failure_strategy: unsupported value %q", g.FailureStrategy)
	}
	return nil
}
