package orchestrator

import (
	"context"

	"orchestd/internal/runner"
	"orchestd/pkg/types"
)

// Stream validates and admits req synchronously, then executes it in the
// background. Chunks arrive in order on the returned channel, each checked
// by the output guardian when configured, with Partial set on every chunk
// but the last. A failure after the first chunk arrives as a final result
// with Err set. The channel is closed when the stream ends or ctx is done.
func (o *Orchestrator) Stream(ctx context.Context, c types.Capability, req types.InferenceRequest) (<-chan types.InferenceResult, error) {
	ctx, x := o.begin(ctx, c, req.WithStream(true), "stream")
	if err := x.prepare(ctx); err != nil {
		x.release()
		x.finish(err)
		return nil, err
	}
	out := make(chan types.InferenceResult, o.buf)
	go x.produce(ctx, out)
	return out, nil
}

func (x *execution) produce(ctx context.Context, out chan<- types.InferenceResult) {
	defer close(out)
	x.enter(StateExecuting)

	var (
		pending *types.InferenceResult
		sent    int
		fwdErr  error
	)
	send := func(r types.InferenceResult) error {
		select {
		case out <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	forward := func(chunk types.InferenceResult, last bool) error {
		chunk = chunk.WithPartial(!last)
		if x.es.Guardian.ShouldCheckOutput() {
			check := x.o.guard.CheckOutput(ctx, chunk, x.es)
			var err error
			if chunk, err = check.ApplyToResult(chunk); err != nil {
				fwdErr = err
				return err
			}
		}
		if err := send(x.annotate(chunk)); err != nil {
			fwdErr = err
			return err
		}
		sent++
		streamChunksTotal.WithLabelValues(string(x.cap)).Inc()
		return nil
	}
	emit := func(chunk types.InferenceResult) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk.Err != nil {
			return chunk.Err
		}
		if pending != nil {
			if err := forward(*pending, false); err != nil {
				return err
			}
		}
		pending = &chunk
		return nil
	}

	stop := watchCancel(ctx, x.inst)
	err := executeStream(ctx, x.inst, x.req, emit)
	stop()
	x.release()

	switch {
	case err == nil && pending != nil:
		err = forward(*pending, true)
	case err == nil:
		// Nothing was emitted; the stream still ends with a final chunk.
		err = forward(types.InferenceResult{}, true)
	case err != nil && fwdErr == nil && pending != nil && ctx.Err() == nil:
		// The runner failed: what it produced so far is still delivered.
		if ferr := forward(*pending, false); ferr != nil {
			err = ferr
		}
	}
	if err == nil {
		x.enter(StateOutputChecked)
		x.log.Debug().Int("chunks", sent).Msg("stream_done")
		x.finish(nil)
		return
	}
	err = classify(ctx, err)
	x.finish(err)
	if ctx.Err() != nil {
		return
	}
	select {
	case out <- types.ErrorResult(err):
	case <-ctx.Done():
	}
}

// executeStream runs a streaming runner, or a blocking one as a single
// chunk.
func executeStream(ctx context.Context, r runner.Runner, req types.InferenceRequest, emit runner.Emit) error {
	if s, ok := r.(runner.Streaming); ok {
		return s.RunStream(ctx, req, emit)
	}
	res, err := execute(ctx, r, req)
	if err != nil {
		return err
	}
	return emit(res)
}
