package sanitize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"brand-diagnosis/internal/match"
)

// Sanitize normalizes one raw result into a CanonicalRecord. It never fails:
// every malformed field is replaced by its default and named in Flags.
func Sanitize(raw RawResult) CanonicalRecord {
	rec := CanonicalRecord{
		Brand:    strings.TrimSpace(stringValue(raw["brand"])),
		Question: strings.TrimSpace(stringValue(raw["question"])),
		Model:    strings.TrimSpace(firstString(raw["model"], raw["platform"])),
		Error:    errorValue(raw["error"]),
	}
	flags := carriedFlags(raw["sanitizationFlags"])

	if response, ok := raw["response"].(string); ok {
		rec.Response = response
	} else {
		flags = appendFlag(flags, FlagResponse)
	}

	geo, geoFlags := sanitizeGeo(raw["geoData"])
	rec.GeoData = geo
	for _, flag := range geoFlags {
		flags = appendFlag(flags, flag)
	}

	if score, ok := floatValue(raw["score"]); ok {
		v := clampFloat(score, 0, 100)
		rec.Score = &v
	}
	rec.Dimensions = sanitizeDimensions(raw)
	if flags == nil {
		flags = []string{}
	}
	rec.Flags = flags
	return rec
}

// SanitizeAll sanitizes a batch, preserving input order.
func SanitizeAll(raws []RawResult) []CanonicalRecord {
	out := make([]CanonicalRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Sanitize(raw))
	}
	return out
}

// Summarize counts sanitization outcomes across records.
func Summarize(records []CanonicalRecord) Summary {
	summary := Summary{Total: len(records), FlagCounts: make(map[string]int)}
	for _, rec := range records {
		if rec.Defaulted() {
			summary.Defaulted++
		}
		if rec.GeoData.Reason == ReasonMissingOrInvalid {
			summary.InvalidGeo++
		}
		if rec.Error != "" {
			summary.Errored++
		}
		for _, flag := range rec.Flags {
			summary.FlagCounts[flag]++
		}
	}
	return summary
}

// RankToVisibility buckets a rank into a visibility sub-score.
func RankToVisibility(rank int) float64 {
	switch {
	case rank >= 1 && rank <= 3:
		return 100
	case rank >= 4 && rank <= 6:
		return 60
	case rank >= 7 && rank <= 10:
		return 30
	default:
		return 0
	}
}

// DefaultGeoData returns the full default geo block.
func DefaultGeoData() GeoData {
	return GeoData{
		BrandMentioned: false,
		Rank:           -1,
		Sentiment:      0,
		CitedSources:   []Source{},
		Interception:   "",
	}
}

func sanitizeGeo(value any) (GeoData, []string) {
	obj, ok := value.(map[string]any)
	if !ok {
		geo := DefaultGeoData()
		geo.Reason = ReasonMissingOrInvalid
		return geo, []string{FlagGeoData}
	}

	geo := DefaultGeoData()
	var flags []string

	if reason, ok := obj["reason"].(string); ok {
		geo.Reason = reason
	}
	if mentioned, ok := boolValue(obj["brandMentioned"]); ok {
		geo.BrandMentioned = mentioned
	} else {
		flags = append(flags, FlagBrandMentioned)
	}
	if rank, ok := intValue(obj["rank"]); ok {
		geo.Rank = rank
	} else {
		flags = append(flags, FlagRank)
	}
	if sentiment, ok := floatValue(obj["sentiment"]); ok {
		geo.Sentiment = clampFloat(sentiment, -1, 1)
	} else {
		flags = append(flags, FlagSentiment)
	}
	if sources, ok := sourcesValue(obj["citedSources"]); ok {
		geo.CitedSources = sources
	} else {
		flags = append(flags, FlagCitedSources)
	}
	if interception, ok := obj["interception"].(string); ok {
		geo.Interception = strings.TrimSpace(interception)
	} else {
		flags = append(flags, FlagInterception)
	}
	return geo, flags
}

func sanitizeDimensions(raw RawResult) Dimensions {
	var dims Dimensions
	source := raw
	if nested, ok := raw["dimensions"].(map[string]any); ok {
		source = nested
	}
	dims.Authority = optionalScore(source["authority"])
	dims.Visibility = optionalScore(source["visibility"])
	dims.Purity = optionalScore(source["purity"])
	dims.Consistency = optionalScore(source["consistency"])
	return dims
}

func optionalScore(value any) *float64 {
	v, ok := floatValue(value)
	if !ok {
		return nil
	}
	v = clampFloat(v, 0, 100)
	return &v
}

// SanitizeSources repairs an untrusted list of cited sources. Entries that
// cannot be read are dropped; anything that is not a list yields nil.
func SanitizeSources(value any) []Source {
	sources, _ := sourcesValue(value)
	return sources
}

// Count reads a non-negative whole count from an untrusted value.
func Count(value any) int {
	n, ok := intValue(value)
	if !ok || n < 0 {
		return 0
	}
	return n
}

func sourcesValue(value any) ([]Source, bool) {
	switch items := value.(type) {
	case []Source:
		out := make([]Source, 0, len(items))
		for _, item := range items {
			out = append(out, normalizeSource(item))
		}
		return out, true
	case []any:
		out := make([]Source, 0, len(items))
		for _, item := range items {
			if src, ok := sourceValue(item); ok {
				out = append(out, src)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func sourceValue(value any) (Source, bool) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return Source{}, false
		}
		if match.NormalizeSource(trimmed).Host != "" {
			return normalizeSource(Source{URL: trimmed}), true
		}
		return normalizeSource(Source{Title: trimmed}), true
	case map[string]any:
		src := Source{
			URL:      strings.TrimSpace(firstString(v["url"], v["link"], v["href"])),
			Title:    strings.TrimSpace(firstString(v["title"], v["name"])),
			Site:     strings.TrimSpace(firstString(v["site"], v["domain"])),
			Platform: strings.TrimSpace(firstString(v["platform"], v["model"])),
		}
		src.Sentiment = sentimentLabel(v["sentiment"])
		if rank, ok := intValue(v["rank"]); ok {
			src.Rank = rank
		}
		switch flag := v["interception"].(type) {
		case bool:
			src.Interception = flag
		case string:
			src.Interception = strings.TrimSpace(flag) != "" && !strings.EqualFold(strings.TrimSpace(flag), "false")
		}
		if src.URL == "" && src.Title == "" && src.Site == "" {
			return Source{}, false
		}
		return normalizeSource(src), true
	default:
		return Source{}, false
	}
}

func normalizeSource(src Source) Source {
	if src.Site == "" && src.URL != "" {
		src.Site = match.NormalizeSource(src.URL).Site
	}
	src.Site = strings.ToLower(src.Site)
	src.Sentiment = strings.ToLower(strings.TrimSpace(src.Sentiment))
	return src
}

func sentimentLabel(value any) string {
	if s, ok := value.(string); ok {
		label := strings.ToLower(strings.TrimSpace(s))
		if f, err := strconv.ParseFloat(label, 64); err == nil {
			return labelForScore(f)
		}
		return label
	}
	if f, ok := floatValue(value); ok {
		return labelForScore(f)
	}
	return ""
}

func labelForScore(f float64) string {
	switch {
	case f < 0:
		return "negative"
	case f > 0:
		return "positive"
	default:
		return "neutral"
	}
}

func carriedFlags(value any) []string {
	var out []string
	switch items := value.(type) {
	case []string:
		for _, item := range items {
			out = appendFlag(out, item)
		}
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = appendFlag(out, s)
			}
		}
	}
	return out
}

func appendFlag(flags []string, flag string) []string {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return flags
	}
	for _, existing := range flags {
		if existing == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func stringValue(value any) string {
	s, _ := value.(string)
	return s
}

func firstString(values ...any) string {
	for _, value := range values {
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func errorValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return strings.TrimSpace(firstString(v["message"], v["error"], v["code"]))
	case bool:
		if v {
			return "error"
		}
	}
	return ""
}

func boolValue(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func intValue(value any) (int, bool) {
	f, ok := floatValue(value)
	if !ok {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func floatValue(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
