package ai

import "brand-diagnosis/internal/scoring"

// NarrativeInput carries the computed metrics for the target brand.
type NarrativeInput struct {
	BrandName   string
	Competitors []string
	Card        scoring.BrandScoreCard
	Health      scoring.HealthResult
	Risk        scoring.RiskResult
	SOV         scoring.SOVResult
	Insight     scoring.Insight
}

// Narrative is the structured summary attached to the insights stage.
type Narrative struct {
	Summary    string   `json:"summary"`
	Actions    []string `json:"actions"`
	Confidence *float64 `json:"confidence,omitempty"`
	Source     string   `json:"source"`
}
