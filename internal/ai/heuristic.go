package ai

import (
	"context"
	"fmt"
	"strings"

	"brand-diagnosis/internal/scoring"
)

// HeuristicNarrator builds a narrative from the computed metrics without any
// outbound calls. Its output is deterministic for a given input.
type HeuristicNarrator struct{}

func (HeuristicNarrator) Enabled() bool { return true }

func (HeuristicNarrator) Narrate(_ context.Context, input NarrativeInput) (Narrative, error) {
	brand := strings.TrimSpace(input.BrandName)
	if brand == "" {
		brand = "The brand"
	}
	summary := fmt.Sprintf("%s holds a %s health score of %.0f with grade %s.",
		brand, input.Health.Label, input.Health.HealthScore, input.Card.Grade)
	if !input.SOV.NoData {
		summary += fmt.Sprintf(" Share of voice is %.0f%% (%s).", input.SOV.ShareOfVoicePercent, input.SOV.Label)
	}

	actions := make([]string, 0, 3)
	if input.Risk.Level == scoring.RiskHigh {
		actions = append(actions, fmt.Sprintf("address negative mentions driving %.0f%% risk", input.Risk.RiskScorePercent))
	}
	if input.Insight.Risk != scoring.FallbackRisk && input.Insight.Risk != "" {
		actions = append(actions, input.Insight.Risk)
	}
	if input.Insight.Opportunity != "" {
		actions = append(actions, input.Insight.Opportunity)
	}
	return Narrative{Summary: summary, Actions: actions, Source: "heuristic"}, nil
}
