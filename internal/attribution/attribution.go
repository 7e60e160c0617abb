package attribution

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"brand-diagnosis/internal/match"
	"brand-diagnosis/internal/sanitize"
)

const (
	threatRankCutoff         = 5
	patternRateThreshold     = 0.3
	maxReportThreats         = 10
	maxThreatRecommendations = 3
	maxRecommendations       = 5
	unknownPlatform          = "unknown"
)

var platformAdvice = map[string]string{
	"chatgpt":    "publish structured comparison content that %s models can cite directly",
	"openai":     "publish structured comparison content that %s models can cite directly",
	"perplexity": "earn citations on the news and review sites %s retrieves from",
	"gemini":     "strengthen entity data and reviews that %s draws on",
	"claude":     "publish authoritative long-form documentation that %s can reference",
	"deepseek":   "expand localized content so %s surfaces the brand ahead of rivals",
	"doubao":     "expand localized content so %s surfaces the brand ahead of rivals",
}

// AttributeThreats flags sources that hurt the target brand: negative
// sentiment, competitor interception, or a rank below the cutoff.
func AttributeThreats(sources []Source, targetBrand string) ThreatResult {
	threats := make([]Threat, 0)
	for _, src := range sources {
		var reasons []string
		negative := strings.EqualFold(strings.TrimSpace(src.Sentiment), "negative")
		if negative {
			reasons = append(reasons, "negative sentiment")
		}
		if src.Interception {
			reasons = append(reasons, "competitor interception")
		}
		if src.Rank > threatRankCutoff {
			reasons = append(reasons, fmt.Sprintf("ranked %d", src.Rank))
		}
		if len(reasons) == 0 {
			continue
		}
		severity := SeverityMedium
		if negative {
			severity = SeverityHigh
		}
		threats = append(threats, Threat{
			Source:         src,
			Severity:       severity,
			Reasons:        reasons,
			Recommendation: threatRecommendation(src, severity, targetBrand),
		})
	}
	return ThreatResult{
		Threats:     threats,
		ThreatCount: len(threats),
		ThreatLevel: levelForCount(len(threats)),
	}
}

func levelForCount(count int) Level {
	switch {
	case count >= 5:
		return LevelHigh
	case count >= 3:
		return LevelMedium
	default:
		return LevelLow
	}
}

func threatRecommendation(src Source, severity Severity, brand string) string {
	label := src.Label()
	switch {
	case severity == SeverityHigh:
		return fmt.Sprintf("respond to negative coverage of %s on %s", brand, label)
	case src.Interception:
		return fmt.Sprintf("reclaim %s from competitor interception", label)
	default:
		return fmt.Sprintf("improve %s placement on %s", brand, label)
	}
}

// AnalyzePatterns reports platforms whose interception rate exceeds the
// pattern threshold. Platforms are visited in sorted order.
func AnalyzePatterns(stats map[string]InterceptionStats) PatternResult {
	platforms := make([]string, 0, len(stats))
	for name := range stats {
		platforms = append(platforms, name)
	}
	sort.Strings(platforms)

	result := PatternResult{Patterns: make([]Pattern, 0)}
	var negative, total int
	for _, name := range platforms {
		s := stats[name]
		negative += s.NegativeInterceptions
		total += s.TotalMentions
		if s.TotalMentions <= 0 {
			continue
		}
		rate := float64(s.Interceptions) / float64(s.TotalMentions)
		if rate <= patternRateThreshold {
			continue
		}
		result.Patterns = append(result.Patterns, Pattern{
			Platform:         name,
			InterceptionRate: round1(rate * 100),
			Interceptions:    s.Interceptions,
			TotalMentions:    s.TotalMentions,
			Recommendation:   platformRecommendation(name),
		})
	}
	if total > 0 {
		result.OverallInterceptionRatePercent = round1(float64(negative) / float64(total) * 100)
	}

	if len(result.Patterns) == 0 {
		result.Recommendation = "no platform shows a sustained interception pattern"
	} else {
		names := make([]string, 0, len(result.Patterns))
		for _, p := range result.Patterns {
			names = append(names, p.Platform)
		}
		result.Recommendation = "prioritize content work on " + strings.Join(names, ", ")
	}
	return result
}

func platformRecommendation(platform string) string {
	if advice, ok := platformAdvice[strings.ToLower(platform)]; ok {
		return fmt.Sprintf(advice, platform)
	}
	return fmt.Sprintf("audit which competitors %s recommends and close the content gap", platform)
}

// BuildAttributionReport merges threat and pattern results. Threats keep
// their input order and are truncated; recommendations are capped.
func BuildAttributionReport(threats ThreatResult, patterns PatternResult) Report {
	kept := threats.Threats
	if len(kept) > maxReportThreats {
		kept = kept[:maxReportThreats]
	}
	kept = append(make([]Threat, 0, len(kept)), kept...)

	recs := make([]string, 0, maxRecommendations)
	for _, t := range threats.Threats {
		if len(recs) == maxThreatRecommendations {
			break
		}
		recs = append(recs, t.Recommendation)
	}
	for _, p := range patterns.Patterns {
		if len(recs) == maxRecommendations {
			break
		}
		recs = append(recs, p.Recommendation)
	}

	return Report{
		Threats:                        kept,
		ThreatCount:                    threats.ThreatCount,
		ThreatLevel:                    threats.ThreatLevel,
		InterceptionPatterns:           append(make([]Pattern, 0, len(patterns.Patterns)), patterns.Patterns...),
		OverallInterceptionRatePercent: patterns.OverallInterceptionRatePercent,
		Recommendations:                recs,
	}
}

// SourcesFromRecords collects cited sources from usable records, tagging each
// with the answering platform when the source does not name one.
func SourcesFromRecords(records []sanitize.CanonicalRecord) []Source {
	out := make([]Source, 0)
	for _, rec := range records {
		if rec.Failed() {
			continue
		}
		for _, src := range rec.GeoData.CitedSources {
			if src.Platform == "" {
				src.Platform = rec.Model
			}
			out = append(out, src)
		}
	}
	return out
}

// InterceptionsFromRecords counts, per platform, the target brand's answers
// and how many of them were intercepted by a competitor.
func InterceptionsFromRecords(records []sanitize.CanonicalRecord, targetBrand string) map[string]InterceptionStats {
	target := match.BrandKey(targetBrand)
	out := make(map[string]InterceptionStats)
	for _, rec := range records {
		if rec.Failed() {
			continue
		}
		if key := match.BrandKey(rec.Brand); key != "" && key != target {
			continue
		}
		platform := strings.ToLower(strings.TrimSpace(rec.Model))
		if platform == "" {
			platform = unknownPlatform
		}
		s := out[platform]
		s.TotalMentions++
		if rec.GeoData.Interception != "" {
			s.Interceptions++
			if rec.GeoData.Sentiment < 0 {
				s.NegativeInterceptions++
			}
		}
		out[platform] = s
	}
	return out
}

// SanitizeInterceptions reads caller-supplied per-platform interception
// counts. Platform keys are lowercased and merged; unreadable entries are
// skipped.
func SanitizeInterceptions(value any) map[string]InterceptionStats {
	out := make(map[string]InterceptionStats)
	add := func(platform string, s InterceptionStats) {
		key := strings.ToLower(strings.TrimSpace(platform))
		if key == "" {
			key = unknownPlatform
		}
		cur := out[key]
		cur.Interceptions += s.Interceptions
		cur.NegativeInterceptions += s.NegativeInterceptions
		cur.TotalMentions += s.TotalMentions
		out[key] = cur
	}
	switch v := value.(type) {
	case map[string]InterceptionStats:
		for platform, s := range v {
			add(platform, s)
		}
	case map[string]any:
		for platform, raw := range v {
			fields, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			add(platform, InterceptionStats{
				Interceptions:         sanitize.Count(fields["interceptions"]),
				NegativeInterceptions: sanitize.Count(fields["negativeInterceptions"]),
				TotalMentions:         sanitize.Count(fields["totalMentions"]),
			})
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
