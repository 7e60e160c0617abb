package scoring

import (
	"brand-diagnosis/internal/match"
	"brand-diagnosis/internal/sanitize"
)

var sovColors = map[SOVLabel]string{
	SOVLeading: "#16a34a",
	SOVNeutral: "#f59e0b",
	SOVLagging: "#dc2626",
}

const noDataColor = "#9ca3af"

// ComputeSOV counts brand mentions for the target and the named competitors
// and returns the target's share of voice.
func ComputeSOV(records []sanitize.CanonicalRecord, targetBrand string, competitors []string) SOVResult {
	targetKey := match.BrandKey(targetBrand)
	competitorKeys := make(map[string]struct{}, len(competitors))
	for _, name := range competitors {
		if key := match.BrandKey(name); key != "" && key != targetKey {
			competitorKeys[key] = struct{}{}
		}
	}

	var brandMentions, competitorMentions int
	for _, rec := range records {
		if rec.Failed() || !rec.GeoData.BrandMentioned {
			continue
		}
		key := match.BrandKey(rec.Brand)
		if key == "" {
			key = targetKey
		}
		if key == targetKey {
			brandMentions++
			continue
		}
		if _, ok := competitorKeys[key]; ok {
			competitorMentions++
		}
	}
	return ShareOfVoice(brandMentions, competitorMentions)
}

// ShareOfVoice is the ratio of brand mentions to all tracked mentions.
// Zero total mentions yields a NoData result instead of dividing by zero.
func ShareOfVoice(brandMentions, competitorMentions int) SOVResult {
	total := brandMentions + competitorMentions
	if total <= 0 {
		return SOVResult{Label: SOVNeutral, Color: noDataColor, NoData: true}
	}
	percent := round1(float64(brandMentions) / float64(total) * 100)
	label := SOVLagging
	switch {
	case percent >= 60:
		label = SOVLeading
	case percent >= 40:
		label = SOVNeutral
	}
	return SOVResult{
		ShareOfVoicePercent: percent,
		Label:               label,
		Color:               sovColors[label],
		BrandMentions:       brandMentions,
		CompetitorMentions:  competitorMentions,
	}
}
