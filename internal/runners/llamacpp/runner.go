// Package llamacpp runs GGUF models in process through go-llama.cpp. The
// native backend is compiled only with the "llama" build tag; other builds
// register the runner but report it unsupported, so selection skips to a
// runner that can execute.
package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Name is the registered runner name.
const Name = "llama-cpp"

// ErrNotBuilt is returned by Load in builds without the llama tag.
var ErrNotBuilt = errors.New("llama.cpp support not built (missing 'llama' build tag)")

// Config configures the in-process backend.
type Config struct {
	CtxSize      int
	Threads      int
	DefaultModel string
}

// unset marks a sampling knob the caller did not set; the backend keeps its
// own default for it.
const unset = -1

// predictParams are the sampling knobs passed to the backend.
type predictParams struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	Seed          int
	RepeatPenalty float64
	Stop          []string
}

// model is a loaded backend model. predict is not safe for concurrent use.
type model interface {
	predict(ctx context.Context, prompt string, p predictParams, threads int, onToken func(string) error) error
	free()
}

// Descriptor returns the registration metadata for cfg.
func Descriptor(cfg Config) runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       "ggml",
		Capabilities: []types.Capability{types.CapabilityLLM},
		Priority:     runner.PriorityNormal,
		DefaultModel: cfg.DefaultModel,
	}
}

// Factory builds the runner for registration.
func Factory(cfg Config) runner.Factory {
	return func(deps runner.Deps) (runner.Runner, error) { return New(cfg, deps), nil }
}

// Runner implements runner.Runner and runner.Streaming.
type Runner struct {
	cfg  Config
	deps runner.Deps

	mu        sync.Mutex
	modelID   string
	m         model
	overrides map[string]any
}

// New returns an unloaded runner.
func New(cfg Config, deps runner.Deps) *Runner {
	if cfg.CtxSize <= 0 {
		cfg.CtxSize = 2048
	}
	return &Runner{cfg: cfg, deps: deps}
}

func (r *Runner) Load(ctx context.Context, modelID string, _ settings.EngineSettings, overrides map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m != nil {
		if r.modelID == modelID {
			r.overrides = overrides
			return nil
		}
		return fmt.Errorf("llama-cpp: %s already loaded", r.modelID)
	}
	if r.deps.Models == nil {
		return errors.New("llama-cpp: no model locator")
	}
	path, err := r.deps.Models.LocalPath(modelID)
	if err != nil {
		return err
	}
	m, err := openModel(path, r.cfg)
	if err != nil {
		return err
	}
	r.modelID, r.m, r.overrides = modelID, m, overrides
	r.deps.Log.Info().Str("model", modelID).Str("path", path).Int("ctx", r.cfg.CtxSize).Msg("model_loaded")
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m != nil {
		r.m.free()
	}
	r.modelID, r.m, r.overrides = "", nil, nil
	return nil
}

func (r *Runner) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m != nil
}

func (r *Runner) LoadedModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelID
}

func (r *Runner) Capabilities() []types.Capability { return []types.Capability{types.CapabilityLLM} }

// IsSupported reports whether the native backend was compiled in.
func (r *Runner) IsSupported() bool { return nativeBuilt }

var schema = []runner.ParameterDescriptor{
	{Name: "temperature", Type: runner.ParamNumber, Min: runner.Bound(0), Max: runner.Bound(2)},
	{Name: "top_p", Type: runner.ParamNumber, Min: runner.Bound(0), Max: runner.Bound(1)},
	{Name: "top_k", Type: runner.ParamInteger, Min: runner.Bound(0)},
	{Name: "max_tokens", Type: runner.ParamInteger, Min: runner.Bound(1), Default: 256},
	{Name: "seed", Type: runner.ParamInteger},
	{Name: "repeat_penalty", Type: runner.ParamNumber, Min: runner.Bound(0)},
	{Name: "stop", Type: runner.ParamString, Description: "comma-separated stop sequences"},
}

func (r *Runner) ParameterSchema() []runner.ParameterDescriptor { return schema }

func (r *Runner) ValidateParameters(p map[string]any) runner.ValidationResult {
	return runner.ValidateAgainst(schema, p)
}

// RunStream emits one chunk per generated token.
func (r *Runner) RunStream(ctx context.Context, req types.InferenceRequest, emit runner.Emit) error {
	prompt, ok := req.Text(types.SlotText)
	if !ok {
		return errors.New("llama-cpp: missing text input")
	}
	r.mu.Lock()
	m := r.m
	params := paramsFrom(runner.MergeParams(r.overrides, req.Params))
	r.mu.Unlock()
	if m == nil {
		return errors.New("llama-cpp: no model loaded")
	}
	return m.predict(ctx, prompt, params, r.cfg.Threads, func(tok string) error {
		return emit(types.TextResult(tok))
	})
}

func paramsFrom(p map[string]any) predictParams {
	out := predictParams{
		MaxTokens:     runner.IntParam(p, "max_tokens", 256),
		Temperature:   runner.FloatParam(p, "temperature", unset),
		TopP:          runner.FloatParam(p, "top_p", unset),
		TopK:          runner.IntParam(p, "top_k", unset),
		Seed:          runner.IntParam(p, "seed", unset),
		RepeatPenalty: runner.FloatParam(p, "repeat_penalty", unset),
	}
	if s, ok := p["stop"].(string); ok {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out.Stop = append(out.Stop, part)
			}
		}
	}
	return out
}
