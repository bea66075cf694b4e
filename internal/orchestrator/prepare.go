package orchestrator

import (
	"context"
	"errors"

	"orchestd/internal/guardian"
	"orchestd/internal/runner"
	"orchestd/pkg/types"
)

// requiredSlot is the input slot each capability cannot run without.
var requiredSlot = map[types.Capability]string{
	types.CapabilityLLM:      types.SlotText,
	types.CapabilityTTS:      types.SlotText,
	types.CapabilityGuardian: types.SlotText,
	types.CapabilityASR:      types.SlotAudio,
	types.CapabilityVLM:      types.SlotImage,
}

// validateInputs checks that the capability's required slot is present
// with the matching variant and a non-empty payload.
func validateInputs(c types.Capability, req types.InferenceRequest) error {
	slot, ok := requiredSlot[c]
	if !ok {
		return types.Errorf(types.KindInvalidInput, nil, "unknown capability %q", c)
	}
	v, ok := req.Input(slot)
	if !ok || v == nil {
		return types.Errorf(types.KindInvalidInput, nil, "%s requires input slot %q", c, slot)
	}
	if v.Kind() != slot {
		return types.Errorf(types.KindInvalidInput, nil, "input slot %q holds %s, want %s", slot, v.Kind(), slot)
	}
	switch v := v.(type) {
	case types.Audio:
		if len(v.Data) == 0 {
			return types.Errorf(types.KindInvalidInput, nil, "empty audio input")
		}
	case types.Image:
		if len(v.Data) == 0 {
			return types.Errorf(types.KindInvalidInput, nil, "empty image input")
		}
	}
	return nil
}

// prepare walks steps received..model_ready. On success x holds the
// selected runner and a lease that the caller must release.
func (x *execution) prepare(ctx context.Context) error {
	o := x.o
	x.es = o.settings.Snapshot()

	if err := validateInputs(x.cap, x.req); err != nil {
		return err
	}

	if x.es.Guardian.ShouldCheckInput() {
		check := o.guard.CheckInput(ctx, x.req, x.es)
		req, err := check.ApplyToRequest(x.req)
		if err != nil {
			return err
		}
		if reason := check.FallbackReason(); reason != "" {
			x.inputFallback = reason
			x.span.AddEvent("guardian_fallback")
		}
		x.req = req
	}
	x.enter(StateInputChecked)

	desc, err := o.sel.Select(x.cap, x.es)
	if err != nil {
		return err
	}
	x.desc = desc
	x.log = x.log.With().Str("runner", desc.Name).Logger()
	inst, ok := o.instances.Instance(desc.Name)
	if !ok {
		return types.Errorf(types.KindSelection, nil, "runner %q is not registered", desc.Name)
	}
	x.inst = inst
	x.enter(StateRunnerSelected)

	if !inst.IsSupported() {
		return types.Errorf(types.KindHardware, nil, "runner %q is not supported on this device", desc.Name)
	}
	overrides := x.es.ParamsFor(desc.Name)
	params := runner.MergeParams(overrides, x.req.Params)
	if v := inst.ValidateParameters(params); !v.Valid {
		return types.Errorf(types.KindInvalidInput, v.Err(), "invalid parameters for %s", desc.Name)
	}
	x.req = types.NewRequest(x.req.SessionID, x.req.Inputs, params).WithStream(x.req.Stream)
	x.enter(StateHardwareValidated)

	modelID := x.req.StringParam("model")
	release, err := o.leaser.Acquire(ctx, desc.Name, modelID, overrides)
	if err != nil {
		return err
	}
	x.release = release
	x.enter(StateModelReady)
	return nil
}

// classify maps an execution failure onto a terminal error.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctxErr
	}
	if types.KindOf(err) != "" {
		return err
	}
	return types.Errorf(types.KindRuntime, err, "runner failed")
}

// watchCancel calls Cancel on runners that support it when ctx ends before
// stop is called.
func watchCancel(ctx context.Context, r runner.Runner) (stop func() bool) {
	c, ok := r.(runner.Canceler)
	if !ok {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, c.Cancel)
}

// annotate marks results of requests whose input check failed open.
func (x *execution) annotate(res types.InferenceResult) types.InferenceResult {
	if x.inputFallback == "" {
		return res
	}
	if _, ok := res.Metadata[guardian.MetaFallback]; ok {
		return res
	}
	return res.WithMetadata(guardian.MetaFallback, x.inputFallback)
}
