package scoring

import (
	"brand-diagnosis/internal/match"
	"brand-diagnosis/internal/sanitize"
)

// Thresholds are negative-rate cut-offs for the risk levels.
type Thresholds struct {
	High float64 `yaml:"high" json:"high"`
	Mid  float64 `yaml:"mid" json:"mid"`
}

// DefaultThresholds are the stock risk thresholds. High is checked before
// Mid, so with these values the mid level is never assigned.
var DefaultThresholds = Thresholds{High: 0.3, Mid: 0.6}

// ThresholdSet resolves thresholds per brand with a fallback.
type ThresholdSet struct {
	Default  Thresholds
	PerBrand map[string]Thresholds
}

// For returns the thresholds configured for a brand.
func (s ThresholdSet) For(brand string) Thresholds {
	key := match.BrandKey(brand)
	for name, t := range s.PerBrand {
		if match.BrandKey(name) == key {
			return t
		}
	}
	if s.Default == (Thresholds{}) {
		return DefaultThresholds
	}
	return s.Default
}

// ComputeRisk derives the target brand's risk from its negative-mention rate.
func ComputeRisk(records []sanitize.CanonicalRecord, targetBrand string, thresholds ThresholdSet) RiskResult {
	targetKey := match.BrandKey(targetBrand)
	var total, negative int
	for _, rec := range records {
		if rec.Failed() || !rec.GeoData.BrandMentioned {
			continue
		}
		key := match.BrandKey(rec.Brand)
		if key != "" && key != targetKey {
			continue
		}
		total++
		if rec.GeoData.Sentiment < 0 {
			negative++
		}
	}
	return RiskFromCounts(negative, total, thresholds.For(targetBrand))
}

// RiskFromCounts classifies a negative rate. The high threshold is evaluated
// first; this ordering is intentional and must not be reversed.
func RiskFromCounts(negativeMentions, totalMentions int, t Thresholds) RiskResult {
	if totalMentions <= 0 {
		return RiskResult{Level: RiskSafe, NoData: true}
	}
	rate := float64(negativeMentions) / float64(totalMentions)
	level := RiskSafe
	if rate >= t.High {
		level = RiskHigh
	} else if rate >= t.Mid {
		level = RiskMid
	}
	return RiskResult{
		RiskScorePercent: round1(rate * 100),
		Level:            level,
		NegativeMentions: negativeMentions,
		TotalMentions:    totalMentions,
	}
}
