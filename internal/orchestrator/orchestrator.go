// Package orchestrator drives one inference request through validation,
// the guardian checkpoints, runner selection, model readiness and
// execution, in either blocking or streaming mode.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orchestd/internal/guardian"
	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived          State = "received"
	StateInputChecked      State = "input_checked"
	StateRunnerSelected    State = "runner_selected"
	StateHardwareValidated State = "hardware_validated"
	StateModelReady        State = "model_ready"
	StateExecuting         State = "executing"
	StateOutputChecked     State = "output_checked"
	StateDone              State = "done"
	StateError             State = "error"
)

// DefaultStreamBuffer is the chunk channel capacity when unset.
const DefaultStreamBuffer = 16

// Selector picks the runner for a capability.
type Selector interface {
	Select(c types.Capability, es settings.EngineSettings) (runner.Descriptor, error)
}

// Instances resolves runner instances by name.
type Instances interface {
	Instance(name string) (runner.Runner, bool)
}

// Leaser makes a runner's model ready and admits one execution.
type Leaser interface {
	Acquire(ctx context.Context, name, modelID string, overrides map[string]any) (func(), error)
}

// Guardian checks requests and results.
type Guardian interface {
	CheckInput(ctx context.Context, req types.InferenceRequest, es settings.EngineSettings) guardian.CheckResult
	CheckOutput(ctx context.Context, res types.InferenceResult, es settings.EngineSettings) guardian.CheckResult
}

// Settings hands out per-request snapshots.
type Settings interface {
	Snapshot() settings.EngineSettings
}

// Options tunes an Orchestrator.
type Options struct {
	StreamBuffer int
	Log          zerolog.Logger
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Orchestrator is the request orchestration engine.
type Orchestrator struct {
	sel       Selector
	instances Instances
	leaser    Leaser
	guard     Guardian
	settings  Settings
	buf       int
	log       zerolog.Logger
	tracer    trace.Tracer
}

// New returns an Orchestrator.
func New(sel Selector, instances Instances, leaser Leaser, guard Guardian, s Settings, opts Options) *Orchestrator {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("orchestd/orchestrator")
	}
	return &Orchestrator{
		sel:       sel,
		instances: instances,
		leaser:    leaser,
		guard:     guard,
		settings:  s,
		buf:       opts.StreamBuffer,
		log:       opts.Log,
		tracer:    opts.Tracer,
	}
}

// execution carries one request through its states.
type execution struct {
	o     *Orchestrator
	cap   types.Capability
	mode  string
	state State
	start time.Time
	span  trace.Span
	log   zerolog.Logger

	es      settings.EngineSettings
	req     types.InferenceRequest
	desc    runner.Descriptor
	inst    runner.Runner
	release func()
	// inputFallback is set when the input check passed by fail-open.
	inputFallback string
}

func (o *Orchestrator) begin(ctx context.Context, c types.Capability, req types.InferenceRequest, mode string) (context.Context, *execution) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator."+mode, trace.WithAttributes(
		attribute.String("orchestd.capability", string(c)),
		attribute.String("orchestd.session_id", req.SessionID),
	))
	x := &execution{
		o:       o,
		cap:     c,
		mode:    mode,
		start:   time.Now(),
		span:    span,
		log:     o.log.With().Str("request_id", req.SessionID).Str("capability", string(c)).Str("mode", mode).Logger(),
		req:     req,
		release: func() {},
	}
	x.enter(StateReceived)
	return ctx, x
}

func (x *execution) enter(s State) {
	x.state = s
	x.span.AddEvent(string(s))
	x.log.Debug().Str("state", string(s)).Msg("transition")
}

// finish records the terminal outcome and ends the span.
func (x *execution) finish(err error) {
	outcome := "ok"
	if err != nil {
		x.enter(StateError)
		outcome = outcomeOf(err)
		x.span.RecordError(err)
		x.span.SetStatus(codes.Error, err.Error())
		x.log.Info().Err(err).Str("outcome", outcome).Str("runner", x.desc.Name).Msg("request_failed")
	} else {
		x.enter(StateDone)
		x.span.SetStatus(codes.Ok, "")
	}
	requestsTotal.WithLabelValues(string(x.cap), x.mode, outcome).Inc()
	requestDuration.WithLabelValues(string(x.cap), x.mode).Observe(time.Since(x.start).Seconds())
	x.span.End()
}

func outcomeOf(err error) string {
	if k := types.KindOf(err); k != "" {
		return string(k)
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "cancelled"
	}
	return string(types.KindRuntime)
}
