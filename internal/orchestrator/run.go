package orchestrator

import (
	"context"
	"strings"

	"orchestd/internal/runner"
	"orchestd/pkg/types"
)

// Run executes req to completion and returns the checked result.
func (o *Orchestrator) Run(ctx context.Context, c types.Capability, req types.InferenceRequest) (res types.InferenceResult, err error) {
	ctx, x := o.begin(ctx, c, req.WithStream(false), "run")
	defer func() { x.finish(err) }()

	if err := x.prepare(ctx); err != nil {
		return types.InferenceResult{}, err
	}
	x.enter(StateExecuting)
	stop := watchCancel(ctx, x.inst)
	res, err = execute(ctx, x.inst, x.req)
	stop()
	x.release()
	if err != nil {
		return types.InferenceResult{}, classify(ctx, err)
	}

	if x.es.Guardian.ShouldCheckOutput() {
		check := o.guard.CheckOutput(ctx, res, x.es)
		if res, err = check.ApplyToResult(res); err != nil {
			return types.InferenceResult{}, err
		}
	}
	x.enter(StateOutputChecked)
	return x.annotate(res).WithPartial(false), nil
}

// execute runs req on a blocking runner, or collects a stream into one
// result: text slots are concatenated in order, other slots keep the last
// value and metadata is merged.
func execute(ctx context.Context, r runner.Runner, req types.InferenceRequest) (types.InferenceResult, error) {
	if b, ok := r.(runner.Blocking); ok {
		res, err := b.Run(ctx, req)
		if err == nil && res.Err != nil {
			err = res.Err
		}
		return res, err
	}
	s, ok := r.(runner.Streaming)
	if !ok {
		return types.InferenceResult{}, types.Errorf(types.KindRuntime, nil, "runner cannot execute")
	}
	var (
		out   types.InferenceResult
		texts = map[string]*strings.Builder{}
	)
	err := s.RunStream(ctx, req, func(chunk types.InferenceResult) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk.Err != nil {
			return chunk.Err
		}
		for slot, v := range chunk.Outputs {
			if t, ok := v.(types.Text); ok {
				b := texts[slot]
				if b == nil {
					b = &strings.Builder{}
					texts[slot] = b
				}
				b.WriteString(t.Text)
				continue
			}
			out = out.WithOutput(slot, v)
		}
		for k, v := range chunk.Metadata {
			out = out.WithMetadata(k, v)
		}
		return nil
	})
	if err != nil {
		return types.InferenceResult{}, err
	}
	for slot, b := range texts {
		out = out.WithOutput(slot, types.Text{Text: b.String()})
	}
	return out, nil
}
