// Package guardian runs content-safety analysis before and after
// inference.
//
// The pipeline fails open: when no guardian runner can be selected, its
// model cannot be made ready, it does not implement Analyzer, or analysis
// errors or panics, the check passes as safe. Every such pass carries
// Details["fallback_reason"], logs a warning and increments
// orchestd_guardian_fallbacks_total. Operators who need fail-closed
// behaviour must alert on that counter.
package guardian

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// DetailFallbackReason is the Details key set on fail-open results.
const DetailFallbackReason = "fallback_reason"

// Fallback reasons.
const (
	ReasonNoRunner    = "no_runner"
	ReasonLoadFailed  = "load_failed"
	ReasonNotAnalyzer = "not_analyzer"
	ReasonError       = "analyze_error"
	ReasonPanic       = "analyze_panic"
)

// Selector picks the guardian runner.
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

// Pipeline checks requests and results with the selected guardian runner.
type Pipeline struct {
	sel       Selector
	instances Instances
	leaser    Leaser
	log       zerolog.Logger
}

// New returns a Pipeline.
func New(sel Selector, instances Instances, leaser Leaser, log zerolog.Logger) *Pipeline {
	return &Pipeline{sel: sel, instances: instances, leaser: leaser, log: log}
}

// CheckInput analyzes every text input of req when the input checkpoint of
// es.Guardian is active.
func (p *Pipeline) CheckInput(ctx context.Context, req types.InferenceRequest, es settings.EngineSettings) CheckResult {
	if !es.Guardian.ShouldCheckInput() {
		return CheckResult{Checkpoint: CheckpointInput}
	}
	texts := map[string]string{}
	for _, slot := range req.TextSlots() {
		texts[slot], _ = req.Text(slot)
	}
	return p.check(ctx, CheckpointInput, req.TextSlots(), texts, es)
}

// CheckOutput analyzes every text output of res when the output checkpoint
// of es.Guardian is active.
func (p *Pipeline) CheckOutput(ctx context.Context, res types.InferenceResult, es settings.EngineSettings) CheckResult {
	if !es.Guardian.ShouldCheckOutput() {
		return CheckResult{Checkpoint: CheckpointOutput}
	}
	texts := map[string]string{}
	for _, slot := range res.TextSlots() {
		texts[slot], _ = res.Text(slot)
	}
	return p.check(ctx, CheckpointOutput, res.TextSlots(), texts, es)
}

func (p *Pipeline) check(ctx context.Context, checkpoint string, slots []string, texts map[string]string, es settings.EngineSettings) CheckResult {
	cfg := es.Guardian
	res := CheckResult{Checkpoint: checkpoint, Strategy: cfg.FailureStrategy}
	if len(slots) == 0 {
		return res
	}
	res.Checked = true

	sel := es.Clone()
	if cfg.RunnerName != "" {
		sel.SelectedRunners[types.CapabilityGuardian] = cfg.RunnerName
	}
	desc, err := p.sel.Select(types.CapabilityGuardian, sel)
	if err != nil {
		return p.fallback(res, ReasonNoRunner, err)
	}
	res.Runner = desc.Name
	inst, ok := p.instances.Instance(desc.Name)
	if !ok {
		return p.fallback(res, ReasonNoRunner, fmt.Errorf("runner %s vanished", desc.Name))
	}
	analyzer, ok := inst.(Analyzer)
	if !ok {
		return p.fallback(res, ReasonNotAnalyzer, fmt.Errorf("runner %s does not implement Analyze", desc.Name))
	}
	release, err := p.leaser.Acquire(ctx, desc.Name, "", es.ParamsFor(desc.Name))
	if err != nil {
		return p.fallback(res, ReasonLoadFailed, err)
	}
	defer release()

	merged := Safe()
	filtered := map[string]string{}
	for _, slot := range slots {
		a, err := analyze(ctx, analyzer, texts[slot], cfg)
		if err != nil {
			reason := ReasonError
			if _, ok := err.(panicError); ok {
				reason = ReasonPanic
			}
			return p.fallback(res, reason, err)
		}
		if a.HasFiltered {
			filtered[slot] = a.FilteredText
		}
		merged = merge(merged, a)
	}
	res.Analysis = merged
	if len(filtered) > 0 {
		res.filtered = filtered
	}
	checksTotal.WithLabelValues(checkpoint, string(merged.Status)).Inc()
	p.log.Debug().Str("checkpoint", checkpoint).Str("runner", desc.Name).Str("status", string(merged.Status)).
		Float64("risk", merged.RiskScore).Strs("categories", merged.Categories).Msg("guardian_check")
	return res
}

func (p *Pipeline) fallback(res CheckResult, reason string, err error) CheckResult {
	res.Analysis = Safe()
	res.Analysis.Details = map[string]string{DetailFallbackReason: reason}
	fallbacksTotal.WithLabelValues(reason).Inc()
	checksTotal.WithLabelValues(res.Checkpoint, "fallback").Inc()
	p.log.Warn().Err(err).Str("checkpoint", res.Checkpoint).Str("runner", res.Runner).
		Str("reason", reason).Msg("guardian_fallback")
	return res
}

type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("guardian panic: %v", e.v) }

func analyze(ctx context.Context, a Analyzer, text string, cfg settings.GuardianPipelineConfig) (res AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
		}
	}()
	return a.Analyze(ctx, text, cfg)
}
