// Package runner defines the contract between the orchestrator and backend
// runners, the registry runners are explicitly registered into, and the
// selector that picks one runner per capability.
package runner

import (
	"context"

	"github.com/rs/zerolog"

	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Runner is implemented by every backend. Lifecycle calls (Load, Unload)
// are serialized by the manager; execution methods live on Blocking and
// Streaming, at least one of which must be implemented.
type Runner interface {
	// Load makes modelID resident. Loading over a different model is not
	// allowed: the manager unloads first.
	Load(ctx context.Context, modelID string, s settings.EngineSettings, overrides map[string]any) error
	Unload(ctx context.Context) error
	IsLoaded() bool
	// LoadedModel returns the resident model id, or "".
	LoadedModel() string
	Capabilities() []types.Capability
	// IsSupported reports whether the runner can execute on this device
	// (native library present, accelerator reachable, ...).
	IsSupported() bool
	ParameterSchema() []ParameterDescriptor
	ValidateParameters(params map[string]any) ValidationResult
}

// Blocking runners return one complete result.
type Blocking interface {
	Run(ctx context.Context, req types.InferenceRequest) (types.InferenceResult, error)
}

// Emit receives streamed chunks in order. A non-nil return asks the runner
// to stop producing and return that error.
type Emit func(types.InferenceResult) error

// Streaming runners produce a sequence of chunks through emit.
type Streaming interface {
	RunStream(ctx context.Context, req types.InferenceRequest, emit Emit) error
}

// Canceler is optionally implemented by runners that can abort in-flight
// work out of band, in addition to observing ctx.
type Canceler interface {
	Cancel()
}

// ModelLocator resolves a model id to its primary local file.
type ModelLocator interface {
	LocalPath(modelID string) (string, error)
}

// Deps is handed to every Factory.
type Deps struct {
	Models ModelLocator
	Log    zerolog.Logger
}

// Factory builds a runner instance. Construction must be cheap; heavy work
// belongs in Load.
type Factory func(Deps) (Runner, error)
