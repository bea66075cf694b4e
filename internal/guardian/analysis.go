package guardian

import (
	"context"
	"slices"

	"orchestd/internal/settings"
)

// Status is the verdict of one analysis.
type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
	StatusBlocked Status = "blocked"
)

func (s Status) rank() int {
	switch s {
	case StatusBlocked:
		return 2
	case StatusWarning:
		return 1
	}
	return 0
}

// Action is the guardian's recommendation.
type Action string

const (
	ActionNone   Action = "none"
	ActionReview Action = "review"
	ActionBlock  Action = "block"
)

func (a Action) rank() int {
	switch a {
	case ActionBlock:
		return 2
	case ActionReview:
		return 1
	}
	return 0
}

// AnalysisResult is what a guardian runner reports for one text.
type AnalysisResult struct {
	Status     Status
	RiskScore  float64
	Categories []string
	Action     Action
	// FilteredText is a sanitized rewrite, valid when HasFiltered is set.
	FilteredText string
	HasFiltered  bool
	Details      map[string]string
}

// Safe returns a clean verdict.
func Safe() AnalysisResult {
	return AnalysisResult{Status: StatusSafe, Action: ActionNone}
}

// Analyzer is implemented by guardian runners on top of runner.Runner.
type Analyzer interface {
	Analyze(ctx context.Context, text string, cfg settings.GuardianPipelineConfig) (AnalysisResult, error)
}

// merge folds b into a: worst status and action, highest score, union of
// categories and details.
func merge(a, b AnalysisResult) AnalysisResult {
	out := a
	if b.Status.rank() > out.Status.rank() {
		out.Status = b.Status
	}
	if b.Action.rank() > out.Action.rank() {
		out.Action = b.Action
	}
	out.RiskScore = max(out.RiskScore, b.RiskScore)
	for _, c := range b.Categories {
		if !slices.Contains(out.Categories, c) {
			out.Categories = append(out.Categories, c)
		}
	}
	slices.Sort(out.Categories)
	if len(b.Details) > 0 {
		d := make(map[string]string, len(out.Details)+len(b.Details))
		for k, v := range out.Details {
			d[k] = v
		}
		for k, v := range b.Details {
			d[k] = v
		}
		out.Details = d
	}
	return out
}
