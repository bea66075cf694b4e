package guardian

import (
	"fmt"
	"strings"

	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Checkpoint names where a check ran.
const (
	CheckpointInput  = "input"
	CheckpointOutput = "output"
)

// Result metadata keys set on checked outputs.
const (
	MetaStatus   = "guardian_status"
	MetaFiltered = "guardian_filtered"
	MetaFallback = DetailFallbackReason
)

// CheckResult is the merged verdict for every text slot of one request or
// result, together with the strategy that decides how it is applied.
type CheckResult struct {
	// Checked is false when the checkpoint is disabled or there was no text.
	Checked    bool
	Checkpoint string
	Runner     string
	Strategy   settings.FailureStrategy
	Analysis   AnalysisResult
	// filtered holds per-slot rewrites for the filter strategy.
	filtered map[string]string
}

// Blocked reports whether applying the result rejects the content.
func (c CheckResult) Blocked() bool {
	if !c.Checked {
		return false
	}
	switch c.Analysis.Status {
	case StatusBlocked:
		return true
	case StatusWarning:
		return c.Strategy == settings.StrategyBlock
	}
	return false
}

// FallbackReason is set when the guardian could not run and the check
// passed by default.
func (c CheckResult) FallbackReason() string {
	return c.Analysis.Details[DetailFallbackReason]
}

func (c CheckResult) blockedError() error {
	cats := "none"
	if len(c.Analysis.Categories) > 0 {
		cats = strings.Join(c.Analysis.Categories, ",")
	}
	return types.Errorf(types.KindGuardianBlocked, nil, "%s rejected by guardian %s (status %s, risk %.2f, categories %s)",
		c.Checkpoint, c.Runner, c.Analysis.Status, c.Analysis.RiskScore, cats)
}

// ApplyToRequest returns req unchanged, a filtered copy, or a
// guardian_blocked error.
func (c CheckResult) ApplyToRequest(req types.InferenceRequest) (types.InferenceRequest, error) {
	if !c.Checked || c.Analysis.Status == StatusSafe {
		return req, nil
	}
	if c.Blocked() {
		return req, c.blockedError()
	}
	if c.Strategy == settings.StrategyFilter {
		for slot, text := range c.filtered {
			req = req.WithInput(slot, types.Text{Text: text})
		}
	}
	return req, nil
}

// ApplyToResult is ApplyToRequest for outputs. Passed warnings are marked
// in the result metadata.
func (c CheckResult) ApplyToResult(res types.InferenceResult) (types.InferenceResult, error) {
	if !c.Checked {
		return res, nil
	}
	if reason := c.FallbackReason(); reason != "" {
		res = res.WithMetadata(MetaFallback, reason)
	}
	if c.Analysis.Status == StatusSafe {
		return res, nil
	}
	if c.Blocked() {
		return res, c.blockedError()
	}
	res = res.WithMetadata(MetaStatus, string(StatusWarning))
	if c.Strategy == settings.StrategyFilter && len(c.filtered) > 0 {
		for slot, text := range c.filtered {
			res = res.WithOutput(slot, types.Text{Text: text})
		}
		res = res.WithMetadata(MetaFiltered, "true")
	}
	return res, nil
}

func (c CheckResult) String() string {
	if !c.Checked {
		return c.Checkpoint + ": unchecked"
	}
	return fmt.Sprintf("%s: %s risk=%.2f action=%s", c.Checkpoint, c.Analysis.Status, c.Analysis.RiskScore, c.Analysis.Action)
}
