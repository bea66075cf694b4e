package engine

import (
	"context"
	"fmt"

	"orchestd/internal/modelrepo"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Runners lists registered runners and the current selection.
func (e *Engine) Runners() types.RunnersResponse {
	device := e.Selector.Device()
	descs := e.Registry.Descriptors()
	resp := types.RunnersResponse{
		Runners:   make([]types.RunnerInfo, 0, len(descs)),
		Selection: map[string]string{},
	}
	for _, d := range descs {
		resp.Runners = append(resp.Runners, d.Info(device))
	}
	for c, name := range e.Selector.Selection(e.Settings.Snapshot()) {
		resp.Selection[string(c)] = name
	}
	return resp
}

// Models lists the repository with per-model availability.
func (e *Engine) Models(ctx context.Context) types.ModelsResponse {
	ds := e.Repo.List()
	resp := types.ModelsResponse{Models: make([]types.ModelInfo, 0, len(ds))}
	for _, d := range ds {
		ok, err := e.Repo.IsAvailable(ctx, d)
		if err != nil {
			e.Log.Warn().Err(err).Str("model", d.ID).Msg("availability_check_failed")
		}
		resp.Models = append(resp.Models, d.Info(ok))
	}
	return resp
}

// Status reports manager state.
func (e *Engine) Status(ctx context.Context) types.StatusResponse { return e.Manager.Status(ctx) }

// CurrentSettings returns a snapshot of the administrative settings.
func (e *Engine) CurrentSettings() settings.EngineSettings { return e.Settings.Snapshot() }

// UpdateSettings replaces the settings document. Runner names in
// selected_runners must be registered.
func (e *Engine) UpdateSettings(next settings.EngineSettings) (settings.EngineSettings, error) {
	for c, name := range next.SelectedRunners {
		if name == "" {
			continue
		}
		d, ok := e.Registry.Descriptor(name)
		if !ok {
			return e.Settings.Snapshot(), types.Errorf(types.KindInvalidInput, nil, "selected_runners.%s: unknown runner %q", c, name)
		}
		if !d.Supports(c) {
			return e.Settings.Snapshot(), types.Errorf(types.KindInvalidInput, nil, "selected_runners.%s: runner %q lacks capability", c, name)
		}
	}
	if g := next.Guardian.RunnerName; g != "" {
		if _, ok := e.Registry.Descriptor(g); !ok {
			return e.Settings.Snapshot(), types.Errorf(types.KindInvalidInput, nil, "guardian.runner_name: unknown runner %q", g)
		}
	}
	out, err := e.Settings.Replace(next)
	if err != nil {
		return out, types.Errorf(types.KindInvalidInput, err, "invalid settings")
	}
	e.Log.Info().Uint64("version", e.Settings.Version()).Msg("settings_updated")
	return out, nil
}

// Infer runs one blocking request for capability.
func (e *Engine) Infer(ctx context.Context, c types.Capability, req types.InferenceRequest) (types.InferenceResult, error) {
	return e.Orchestrator.Run(ctx, c, req)
}

// InferStream starts a streaming request for capability.
func (e *Engine) InferStream(ctx context.Context, c types.Capability, req types.InferenceRequest) (<-chan types.InferenceResult, error) {
	return e.Orchestrator.Stream(ctx, c, req)
}

// UnloadRunner drains and unloads the named runner.
func (e *Engine) UnloadRunner(ctx context.Context, name string) error {
	if _, ok := e.Registry.Descriptor(name); !ok {
		return types.Errorf(types.KindSelection, nil, "unknown runner %q", name)
	}
	return e.Manager.Unload(ctx, name)
}

// PullModel downloads and verifies the files of id.
func (e *Engine) PullModel(ctx context.Context, id string, progress func(modelrepo.Progress)) error {
	d, err := e.Repo.Describe(ctx, id)
	if err != nil {
		return types.Errorf(types.KindSelection, err, "unknown model %q", id)
	}
	if err := e.Repo.Acquire(ctx, d, progress); err != nil {
		return types.Errorf(types.KindModelAcquisition, err, "acquire %s", id)
	}
	return nil
}

// VerifyModel rehashes every file of id.
func (e *Engine) VerifyModel(ctx context.Context, id string) error {
	if err := e.Repo.Verify(ctx, id); err != nil {
		return fmt.Errorf("verify %s: %w", id, err)
	}
	return nil
}
