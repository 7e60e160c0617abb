package scoring

import (
	"fmt"
	"math"
	"strings"

	"brand-diagnosis/internal/match"
	"brand-diagnosis/internal/sanitize"
)

const neutralScore = 50

// GradeFromScore maps an overall score onto the letter grade step function.
func GradeFromScore(score float64) Grade {
	switch {
	case score >= 90:
		return GradeAPlus
	case score >= 80:
		return GradeA
	case score >= 70:
		return GradeB
	case score >= 60:
		return GradeC
	default:
		return GradeD
	}
}

// RecordScore returns the composite score of one record: the explicit score
// when present, otherwise the rank/sentiment piecewise formula.
func RecordScore(rec sanitize.CanonicalRecord) float64 {
	if rec.Score != nil {
		return clamp(*rec.Score, 0, 100)
	}
	return DeriveScore(rec.GeoData.Rank, rec.GeoData.Sentiment)
}

// DeriveScore applies the piecewise rank formula, clamped to [0,100].
func DeriveScore(rank int, sentiment float64) float64 {
	var score float64
	switch {
	case rank >= 1 && rank <= 3:
		score = 90 + float64(3-rank)*3 + sentiment*10
	case rank >= 4 && rank <= 6:
		score = 70 + float64(6-rank)*3 + sentiment*10
	case rank >= 7 && rank <= 10:
		score = 50 + float64(10-rank)*2 + sentiment*10
	default:
		score = 30 + sentiment*10
	}
	return clamp(score, 0, 100)
}

type dimensionScores struct {
	authority   float64
	visibility  float64
	purity      float64
	consistency float64
}

func recordDimensions(rec sanitize.CanonicalRecord) dimensionScores {
	s := rec.GeoData.Sentiment
	return dimensionScores{
		authority:   explicitOr(rec.Dimensions.Authority, 50+s*25),
		visibility:  explicitOr(rec.Dimensions.Visibility, sanitize.RankToVisibility(rec.GeoData.Rank)+s*10),
		purity:      explicitOr(rec.Dimensions.Purity, 70+s*15),
		consistency: explicitOr(rec.Dimensions.Consistency, 75+s*10),
	}
}

func explicitOr(value *float64, derived float64) float64 {
	if value != nil {
		return clamp(*value, 0, 100)
	}
	return clamp(derived, 0, 100)
}

type brandGroup struct {
	display string
	records []sanitize.CanonicalRecord
}

// groupByBrand buckets records by folded brand key, falling back to the target
// brand for records that carry none. Group order follows first appearance.
func groupByBrand(records []sanitize.CanonicalRecord, targetBrand string) (map[string]*brandGroup, []string) {
	groups := make(map[string]*brandGroup)
	var order []string
	for _, rec := range records {
		name := rec.Brand
		if strings.TrimSpace(name) == "" {
			name = targetBrand
		}
		key := match.BrandKey(name)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &brandGroup{display: strings.TrimSpace(name)}
			groups[key] = g
			order = append(order, key)
		}
		g.records = append(g.records, rec)
	}
	return groups, order
}

// ComputeBrandScores builds one score card per brand. Every requested brand
// gets a card; brands without usable records receive the neutral default.
func ComputeBrandScores(records []sanitize.CanonicalRecord, targetBrand string, competitors []string) map[string]BrandScoreCard {
	groups, order := groupByBrand(records, targetBrand)
	cards := make(map[string]BrandScoreCard)
	seen := make(map[string]struct{})

	for _, name := range requestedBrands(targetBrand, competitors) {
		key := match.BrandKey(name)
		seen[key] = struct{}{}
		var recs []sanitize.CanonicalRecord
		if g, ok := groups[key]; ok {
			recs = g.records
		}
		cards[name] = BuildScoreCard(name, recs)
	}
	for _, key := range order {
		if _, ok := seen[key]; ok {
			continue
		}
		g := groups[key]
		cards[g.display] = BuildScoreCard(g.display, g.records)
	}
	return cards
}

// BrandOrder lists the brands a run reports on: requested brands first, then
// brands discovered in the records in order of first appearance.
func BrandOrder(records []sanitize.CanonicalRecord, targetBrand string, competitors []string) []string {
	groups, order := groupByBrand(records, targetBrand)
	names := requestedBrands(targetBrand, competitors)
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		seen[match.BrandKey(name)] = struct{}{}
	}
	for _, key := range order {
		if _, ok := seen[key]; !ok {
			names = append(names, groups[key].display)
		}
	}
	return names
}

// BuildScoreCard aggregates the records of a single brand. Failed AI calls are
// skipped; an empty group yields DefaultScoreCard.
func BuildScoreCard(brand string, records []sanitize.CanonicalRecord) BrandScoreCard {
	var (
		total float64
		dims  dimensionScores
		n     int
	)
	for _, rec := range records {
		if rec.Failed() {
			continue
		}
		total += RecordScore(rec)
		d := recordDimensions(rec)
		dims.authority += d.authority
		dims.visibility += d.visibility
		dims.purity += d.purity
		dims.consistency += d.consistency
		n++
	}
	if n == 0 {
		return DefaultScoreCard(brand)
	}

	count := float64(n)
	overall := round1(total / count)
	card := BrandScoreCard{
		Brand:        brand,
		OverallScore: overall,
		Grade:        GradeFromScore(overall),
		Authority:    round1(dims.authority / count),
		Visibility:   round1(dims.visibility / count),
		Purity:       round1(dims.purity / count),
		Consistency:  round1(dims.consistency / count),
		SampleSize:   n,
	}
	card.Summary = fmt.Sprintf("%s scores %.0f (%s) across %d AI %s", brand, overall, card.Grade, n, plural(n, "response", "responses"))
	return card
}

// DefaultScoreCard is the neutral card for a brand with no usable records.
// Its grade is fixed at C rather than derived from the step function.
func DefaultScoreCard(brand string) BrandScoreCard {
	return BrandScoreCard{
		Brand:        brand,
		OverallScore: neutralScore,
		Grade:        GradeC,
		Authority:    neutralScore,
		Visibility:   neutralScore,
		Purity:       neutralScore,
		Consistency:  neutralScore,
		Summary:      fmt.Sprintf("No AI responses available for %s", brand),
		Default:      true,
	}
}

func requestedBrands(targetBrand string, competitors []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, name := range append([]string{targetBrand}, competitors...) {
		name = strings.TrimSpace(name)
		key := match.BrandKey(name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
