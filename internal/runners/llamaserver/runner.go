package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"orchestd/internal/common/fsutil"
	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// MetaFinishReason is the metadata key of the trailing chunk.
const MetaFinishReason = "finish_reason"

// Descriptor returns the registration metadata for cfg.
func Descriptor(cfg Config) runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       "ggml",
		Capabilities: []types.Capability{types.CapabilityLLM},
		Priority:     runner.PriorityHigh,
		DefaultModel: cfg.DefaultModel,
	}
}

// Factory builds the runner for registration.
func Factory(cfg Config) runner.Factory {
	return func(deps runner.Deps) (runner.Runner, error) { return New(cfg, deps), nil }
}

// Runner implements runner.Runner, runner.Streaming and runner.Canceler.
type Runner struct {
	cfg    Config
	deps   runner.Deps
	client *client

	mu        sync.Mutex
	modelID   string
	baseURL   string
	proc      *process
	overrides map[string]any
	nextID    uint64
	inflight  map[uint64]context.CancelFunc
}

// New returns an unloaded runner.
func New(cfg Config, deps runner.Deps) *Runner {
	cfg = cfg.withDefaults()
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		client:   &client{http: &http.Client{Transport: tr}, apiKey: cfg.APIKey},
		inflight: map[uint64]context.CancelFunc{},
	}
}

func (r *Runner) Load(ctx context.Context, modelID string, _ settings.EngineSettings, overrides map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baseURL != "" {
		if r.modelID == modelID {
			r.overrides = overrides
			return nil
		}
		return fmt.Errorf("llama-server: %s already loaded", r.modelID)
	}
	log := r.deps.Log.With().Str("model", modelID).Logger()

	if r.cfg.attach() {
		hctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		ok := r.client.healthy(hctx, r.cfg.BaseURL)
		cancel()
		if !ok {
			return fmt.Errorf("llama-server at %s is not healthy", r.cfg.BaseURL)
		}
		r.modelID, r.baseURL, r.overrides = modelID, r.cfg.BaseURL, overrides
		log.Info().Str("url", r.baseURL).Msg("attached")
		return nil
	}

	bin := r.cfg.resolveBin()
	if bin == "" {
		return errors.New("llama-server binary not found: set llama.bin or install llama.cpp")
	}
	if r.deps.Models == nil {
		return errors.New("llama-server: no model locator")
	}
	path, err := r.deps.Models.LocalPath(modelID)
	if err != nil {
		return err
	}
	p, err := spawn(ctx, r.cfg, bin, path, r.client, log)
	if err != nil {
		return err
	}
	r.modelID, r.baseURL, r.proc, r.overrides = modelID, p.baseURL, p, overrides
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	p := r.proc
	model := r.modelID
	r.modelID, r.baseURL, r.proc, r.overrides = "", "", nil, nil
	r.mu.Unlock()
	if p != nil {
		p.stop(2 * time.Second)
		r.deps.Log.Info().Str("model", model).Int("pid", p.pid).Msg("spawn_stop")
	}
	return nil
}

func (r *Runner) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseURL != ""
}

func (r *Runner) LoadedModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelID
}

func (r *Runner) Capabilities() []types.Capability { return []types.Capability{types.CapabilityLLM} }

// IsSupported is true in attach mode or when the binary exists.
func (r *Runner) IsSupported() bool {
	if r.cfg.attach() {
		return true
	}
	bin := r.cfg.resolveBin()
	return bin != "" && fsutil.PathExists(bin)
}

const defaultTemperature = 0.8

var schema = []runner.ParameterDescriptor{
	{Name: "temperature", Type: runner.ParamNumber, Min: runner.Bound(0), Max: runner.Bound(2), Default: defaultTemperature},
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

// RunStream streams text fragments as chunks. When the server reports a
// finish reason, a last chunk without outputs carries it as metadata.
func (r *Runner) RunStream(ctx context.Context, req types.InferenceRequest, emit runner.Emit) error {
	prompt, ok := req.Text(types.SlotText)
	if !ok {
		return errors.New("llama-server: missing text input")
	}
	r.mu.Lock()
	baseURL, model, proc := r.baseURL, r.modelID, r.proc
	params := runner.MergeParams(r.overrides, req.Params)
	if baseURL == "" {
		r.mu.Unlock()
		return errors.New("llama-server: no model loaded")
	}
	if r.cfg.RequestTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	id := r.nextID
	r.nextID++
	r.inflight[id] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, id)
		r.mu.Unlock()
		cancel()
	}()

	if proc != nil && proc.exited() {
		return fmt.Errorf("llama-server for %s exited: %v", model, proc.exitErr())
	}
	payload := completionRequest{
		Prompt:        prompt,
		MaxTokens:     runner.IntParam(params, "max_tokens", 256),
		Temperature:   floatParam(params, "temperature", runner.Bound(defaultTemperature)),
		TopP:          floatParam(params, "top_p", nil),
		TopK:          intParam(params, "top_k"),
		Seed:          intParam(params, "seed"),
		RepeatPenalty: floatParam(params, "repeat_penalty", nil),
		Stop:          splitStop(params["stop"]),
	}
	if r.cfg.attach() {
		payload.Model = model
	}
	finish, err := r.client.complete(ctx, baseURL, payload, func(tok string) error {
		return emit(types.TextResult(tok))
	})
	if err != nil {
		return err
	}
	if finish != "" {
		return emit(types.InferenceResult{Metadata: map[string]string{MetaFinishReason: finish}})
	}
	return nil
}

// Cancel aborts every in-flight completion.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.inflight {
		cancel()
	}
}

// floatParam returns params[key] when set, else def.
func floatParam(params map[string]any, key string, def *float64) *float64 {
	if f, ok := runner.AsFloat(params[key]); ok {
		return &f
	}
	return def
}

func intParam(params map[string]any, key string) *int {
	if f, ok := runner.AsFloat(params[key]); ok {
		n := int(f)
		return &n
	}
	return nil
}

func splitStop(v any) []string {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
