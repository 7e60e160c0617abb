package scoring

import (
	"fmt"
	"strings"
)

// ComputeHealth averages the four score-card dimensions.
func ComputeHealth(card BrandScoreCard) HealthResult {
	score := round1((card.Authority + card.Visibility + card.Purity + card.Consistency) / 4)
	label := HealthPoor
	switch {
	case score >= 90:
		label = HealthExcellent
	case score >= 80:
		label = HealthGood
	case score >= 70:
		label = HealthFair
	}
	return HealthResult{HealthScore: score, Label: label}
}

// Fallback insight texts used when no dimension qualifies for a bucket.
const (
	FallbackAdvantage   = "balanced performance"
	FallbackRisk        = "no major exposure"
	FallbackOpportunity = "maintain current advantage"
)

type namedDimension struct {
	name  string
	value float64
}

func dimensionsOf(card BrandScoreCard) []namedDimension {
	return []namedDimension{
		{"authority", card.Authority},
		{"visibility", card.Visibility},
		{"purity", card.Purity},
		{"consistency", card.Consistency},
	}
}

// GenerateInsightText buckets the card's dimensions into advantage (>=80),
// risk (<60) and, for consistency only, opportunity (60-80).
func GenerateInsightText(card BrandScoreCard, brandName string) Insight {
	var strong, weak []string
	for _, d := range dimensionsOf(card) {
		switch {
		case d.value >= 80:
			strong = append(strong, d.name)
		case d.value < 60:
			weak = append(weak, d.name)
		}
	}

	insight := Insight{
		Advantage:   FallbackAdvantage,
		Risk:        FallbackRisk,
		Opportunity: FallbackOpportunity,
	}
	if len(strong) > 0 {
		insight.Advantage = fmt.Sprintf("%s leads on %s", brandName, strings.Join(strong, ", "))
	}
	if len(weak) > 0 {
		insight.Risk = fmt.Sprintf("%s is exposed on %s", brandName, strings.Join(weak, ", "))
	}
	if card.Consistency >= 60 && card.Consistency < 80 {
		insight.Opportunity = fmt.Sprintf("raise consistency for %s from %.0f toward 80", brandName, card.Consistency)
	}
	return insight
}
