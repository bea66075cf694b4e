package runnertest

import (
	"context"
	"strings"
	"sync"

	"orchestd/internal/guardian"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Guard is a guardian runner whose verdict is looked up by substring.
type Guard struct {
	Spy
	// Verdicts maps a trigger substring to the result returned for texts
	// containing it. Texts matching nothing are safe.
	Verdicts map[string]guardian.AnalysisResult
	Err      error
	Panic    bool

	gmu   sync.Mutex
	texts []string
}

// NewGuard returns a guardian spy.
func NewGuard() *Guard {
	return &Guard{Spy: Spy{Base: Base{Caps: []types.Capability{types.CapabilityGuardian}}}, Verdicts: map[string]guardian.AnalysisResult{}}
}

func (g *Guard) Analyze(_ context.Context, text string, _ settings.GuardianPipelineConfig) (guardian.AnalysisResult, error) {
	g.gmu.Lock()
	g.texts = append(g.texts, text)
	g.gmu.Unlock()
	if g.Panic {
		panic("guard exploded")
	}
	if g.Err != nil {
		return guardian.AnalysisResult{}, g.Err
	}
	for trigger, v := range g.Verdicts {
		if strings.Contains(text, trigger) {
			return v, nil
		}
	}
	return guardian.Safe(), nil
}

// Analyzed returns every text passed to Analyze.
func (g *Guard) Analyzed() []string {
	g.gmu.Lock()
	defer g.gmu.Unlock()
	return append([]string(nil), g.texts...)
}

// Warn is a warning verdict with an optional filtered rewrite.
func Warn(filtered string) guardian.AnalysisResult {
	return guardian.AnalysisResult{
		Status: guardian.StatusWarning, RiskScore: 0.5, Action: guardian.ActionReview,
		Categories: []string{"toxicity"}, FilteredText: filtered, HasFiltered: filtered != "",
	}
}

// Block is a blocked verdict.
func Block() guardian.AnalysisResult {
	return guardian.AnalysisResult{
		Status: guardian.StatusBlocked, RiskScore: 0.95, Action: guardian.ActionBlock,
		Categories: []string{"violence"},
	}
}
