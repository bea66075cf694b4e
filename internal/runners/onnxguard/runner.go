// Package onnxguard is a guardian runner backed by a multi-label ONNX text
// classifier. A model bundle is a directory holding model.onnx,
// label_map.json, thresholds.yaml and a WordPiece vocab.txt. The inference
// session needs onnxruntime and is only compiled with -tags onnx; the
// bundle parsing and verdict mapping are always available.
package onnxguard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"orchestd/internal/guardian"
	"orchestd/internal/resource"
	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Name is the registered runner name.
const Name = "onnx-guard"

// ErrNotBuilt is returned by Load when the binary was built without onnx.
var ErrNotBuilt = errors.New("onnx-guard: built without onnxruntime support (rebuild with -tags onnx)")

// Defaults for labels without configured thresholds.
const (
	defaultWarn  = 0.5
	defaultBlock = 0.8
	defaultSeq   = 256
)

// Config configures the runner.
type Config struct {
	// BundleDir is used when Load gets no model id.
	BundleDir string
	// SharedLibrary overrides onnxruntime discovery.
	SharedLibrary string
	SeqLen        int
	DefaultModel  string
}

// strictnessScale multiplies label thresholds.
var strictnessScale = map[settings.Strictness]float64{
	settings.StrictnessHigh:   0.75,
	settings.StrictnessMedium: 1,
	settings.StrictnessLow:    1.25,
}

// classifier returns one logit per label.
type classifier interface {
	logits(ids, mask []int64) ([]float32, error)
	close() error
}

// Descriptor returns the registration metadata.
func Descriptor(cfg Config) runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       "onnxruntime",
		Capabilities: []types.Capability{types.CapabilityGuardian},
		Priority:     runner.PriorityHigh,
		Hardware:     runner.Hardware{MinRAMBytes: resource.MB(512)},
		DefaultModel: cfg.DefaultModel,
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

	mu      sync.Mutex
	bundle  *bundle
	session classifier
	modelID string
}

// New returns an unloaded runner.
func New(cfg Config, deps runner.Deps) *Runner {
	if cfg.SeqLen <= 0 {
		cfg.SeqLen = defaultSeq
	}
	return &Runner{cfg: cfg, deps: deps}
}

func (r *Runner) Load(ctx context.Context, modelID string, _ settings.EngineSettings, _ map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := r.cfg.BundleDir
	if modelID != "" {
		if r.deps.Models == nil {
			return errors.New("onnx-guard: no model locator")
		}
		p, err := r.deps.Models.LocalPath(modelID)
		if err != nil {
			return err
		}
		// The catalog points at model.onnx; the bundle is its directory.
		dir = p
		if strings.EqualFold(filepath.Ext(p), ".onnx") {
			dir = filepath.Dir(p)
		}
	}
	if dir == "" {
		return errors.New("onnx-guard: no model bundle configured")
	}
	b, err := loadBundle(dir)
	if err != nil {
		return err
	}
	lib := resolveSharedLibrary(r.cfg.SharedLibrary, dir)
	sess, err := openSession(filepath.Join(dir, ModelFile), lib, r.cfg.SeqLen, len(b.labels))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		_ = r.session.close()
	}
	r.bundle, r.session, r.modelID = b, sess, modelID
	r.deps.Log.Info().Str("bundle", dir).Strs("labels", b.labels).Msg("classifier_loaded")
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.session != nil {
		err = r.session.close()
	}
	r.bundle, r.session, r.modelID = nil, nil, ""
	return err
}

func (r *Runner) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

func (r *Runner) LoadedModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelID
}

func (r *Runner) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityGuardian}
}

func (r *Runner) IsSupported() bool { return nativeBuilt }

var schema = []runner.ParameterDescriptor{
	{Name: "strictness", Type: runner.ParamString, Enum: []string{"low", "medium", "high"}, Default: "medium"},
}

func (r *Runner) ParameterSchema() []runner.ParameterDescriptor { return schema }

func (r *Runner) ValidateParameters(p map[string]any) runner.ValidationResult {
	return runner.ValidateAgainst(schema, p)
}

// Analyze classifies text and maps the label scores to a verdict.
func (r *Runner) Analyze(ctx context.Context, text string, cfg settings.GuardianPipelineConfig) (guardian.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return guardian.AnalysisResult{}, err
	}
	// The session reuses its input tensors, so runs are serialized.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return guardian.AnalysisResult{}, errors.New("onnx-guard: model not loaded")
	}
	ids, mask := r.bundle.tokenizer.encode(text, r.cfg.SeqLen)
	raw, err := r.session.logits(ids, mask)
	if err != nil {
		return guardian.AnalysisResult{}, fmt.Errorf("onnx run: %w", err)
	}
	return verdict(r.bundle.labels, r.bundle.thresholds, raw, cfg.Strictness), nil
}

// verdict turns raw logits into an AnalysisResult.
func verdict(labels []string, th map[string]LabelThresholds, raw []float32, s settings.Strictness) guardian.AnalysisResult {
	scale, ok := strictnessScale[s]
	if !ok {
		scale = 1
	}
	res := guardian.AnalysisResult{Status: guardian.StatusSafe, Action: guardian.ActionNone}
	for i, logit := range raw {
		if i >= len(labels) || benign(labels[i]) {
			continue
		}
		label := labels[i]
		score := sigmoid(logit)
		warn, block := defaultWarn, defaultBlock
		if t, ok := th[label]; ok {
			if t.Warn != nil {
				warn = *t.Warn
			}
			if t.Block != nil {
				block = *t.Block
			}
		}
		warn, block = scaled(warn, scale), scaled(block, scale)
		switch {
		case score >= block:
			res.Status, res.Action = guardian.StatusBlocked, guardian.ActionBlock
			res.Categories = append(res.Categories, label)
		case score >= warn:
			if res.Status == guardian.StatusSafe {
				res.Status, res.Action = guardian.StatusWarning, guardian.ActionReview
			}
			res.Categories = append(res.Categories, label)
		}
		if score > res.RiskScore {
			res.RiskScore = score
		}
	}
	sort.Strings(res.Categories)
	return res
}

func scaled(th, scale float64) float64 {
	v := th * scale
	if v > 0.99 {
		return 0.99
	}
	return v
}

// Run serves direct guardian requests.
func (r *Runner) Run(ctx context.Context, req types.InferenceRequest) (types.InferenceResult, error) {
	text, ok := req.Text(types.SlotText)
	if !ok {
		return types.InferenceResult{}, errors.New("onnx-guard: missing text input")
	}
	strictness := settings.Strictness(strings.ToLower(req.StringParam("strictness")))
	if strictness == "" {
		strictness = settings.StrictnessMedium
	}
	a, err := r.Analyze(ctx, text, settings.GuardianPipelineConfig{Strictness: strictness})
	if err != nil {
		return types.InferenceResult{}, err
	}
	return types.TextResult(string(a.Status)).
		WithMetadata("status", string(a.Status)).
		WithMetadata("risk_score", strconv.FormatFloat(a.RiskScore, 'f', 2, 64)).
		WithMetadata("action", string(a.Action)).
		WithMetadata("categories", strings.Join(a.Categories, ",")), nil
}
