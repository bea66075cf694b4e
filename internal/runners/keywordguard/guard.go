// Package keywordguard is the default guardian runner: it scores text
// against weighted keyword and regular-expression categories loaded from
// YAML.
package keywordguard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"orchestd/internal/guardian"
	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Name is the registered runner name.
const Name = "keyword-guard"

// Config configures the runner.
type Config struct {
	// RulesFile replaces the built-in rules when set. A non-empty model id
	// passed to Load takes precedence and is resolved through the model
	// repository.
	RulesFile string
}

// thresholds are the (block, warn) risk cut-offs per strictness.
var thresholds = map[settings.Strictness][2]float64{
	settings.StrictnessHigh:   {0.3, 0.1},
	settings.StrictnessMedium: {0.6, 0.3},
	settings.StrictnessLow:    {0.85, 0.5},
}

// Descriptor returns the registration metadata.
func Descriptor() runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       "orchestd",
		Capabilities: []types.Capability{types.CapabilityGuardian},
		Priority:     runner.PriorityNormal,
		Concurrent:   true,
	}
}

// Factory builds the runner for registration.
func Factory(cfg Config) runner.Factory {
	return func(deps runner.Deps) (runner.Runner, error) { return New(cfg, deps), nil }
}

// Runner implements runner.Runner, runner.Blocking and guardian.Analyzer.
type Runner struct {
	cfg  Config
	deps runner.Deps

	mu      sync.RWMutex
	rules   *Rules
	modelID string
}

// New returns an unloaded runner.
func New(cfg Config, deps runner.Deps) *Runner {
	return &Runner{cfg: cfg, deps: deps}
}

func (r *Runner) Load(ctx context.Context, modelID string, _ settings.EngineSettings, _ map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		rules *Rules
		err   error
		src   = "builtin"
	)
	switch {
	case modelID != "":
		if r.deps.Models == nil {
			return errors.New("keyword-guard: no model locator")
		}
		if src, err = r.deps.Models.LocalPath(modelID); err != nil {
			return err
		}
		rules, err = LoadRules(src)
	case r.cfg.RulesFile != "":
		src = r.cfg.RulesFile
		rules, err = LoadRules(src)
	default:
		rules = DefaultRules()
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules, r.modelID = rules, modelID
	r.mu.Unlock()
	r.deps.Log.Info().Str("rules", src).Strs("categories", rules.Categories()).Msg("rules_loaded")
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	r.rules, r.modelID = nil, ""
	r.mu.Unlock()
	return nil
}

func (r *Runner) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules != nil
}

func (r *Runner) LoadedModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modelID
}

func (r *Runner) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityGuardian}
}

func (r *Runner) IsSupported() bool { return true }

var schema = []runner.ParameterDescriptor{
	{Name: "strictness", Type: runner.ParamString, Enum: []string{"low", "medium", "high"}, Default: "medium"},
}

func (r *Runner) ParameterSchema() []runner.ParameterDescriptor { return schema }

func (r *Runner) ValidateParameters(p map[string]any) runner.ValidationResult {
	return runner.ValidateAgainst(schema, p)
}

// Analyze scores text under cfg.Strictness.
func (r *Runner) Analyze(ctx context.Context, text string, cfg settings.GuardianPipelineConfig) (guardian.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return guardian.AnalysisResult{}, err
	}
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()
	if rules == nil {
		return guardian.AnalysisResult{}, errors.New("keyword-guard: rules not loaded")
	}
	th, ok := thresholds[cfg.Strictness]
	if !ok {
		th = thresholds[settings.StrictnessMedium]
	}
	m := rules.scan(text)
	res := guardian.AnalysisResult{
		Status:     guardian.StatusSafe,
		RiskScore:  m.risk,
		Categories: m.categories,
		Action:     guardian.ActionNone,
	}
	switch {
	case m.risk >= th[0]:
		res.Status, res.Action = guardian.StatusBlocked, guardian.ActionBlock
	case m.risk >= th[1]:
		res.Status, res.Action = guardian.StatusWarning, guardian.ActionReview
	}
	if len(m.categories) > 0 {
		res.FilteredText, res.HasFiltered = m.redacted, true
	}
	return res, nil
}

// Run serves direct guardian requests: the text output is the verdict and
// the metadata carries the score breakdown.
func (r *Runner) Run(ctx context.Context, req types.InferenceRequest) (types.InferenceResult, error) {
	text, ok := req.Text(types.SlotText)
	if !ok {
		return types.InferenceResult{}, errors.New("keyword-guard: missing text input")
	}
	strictness := settings.Strictness(strings.ToLower(req.StringParam("strictness")))
	if strictness == "" {
		strictness = settings.StrictnessMedium
	}
	a, err := r.Analyze(ctx, text, settings.GuardianPipelineConfig{Strictness: strictness})
	if err != nil {
		return types.InferenceResult{}, err
	}
	out := types.TextResult(string(a.Status)).
		WithMetadata("status", string(a.Status)).
		WithMetadata("risk_score", strconv.FormatFloat(a.RiskScore, 'f', 2, 64)).
		WithMetadata("action", string(a.Action)).
		WithMetadata("categories", strings.Join(a.Categories, ","))
	if a.HasFiltered {
		out = out.WithOutput("filtered", types.Text{Text: a.FilteredText})
	}
	return out, nil
}
