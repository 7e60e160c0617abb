package sanitize

// Raw converts a canonical record back into the untrusted wire shape, keeping
// the sanitization flags and geo reason so that Sanitize(rec.Raw()) == rec.
func (r CanonicalRecord) Raw() RawResult {
	sources := make([]any, 0, len(r.GeoData.CitedSources))
	for _, src := range r.GeoData.CitedSources {
		sources = append(sources, map[string]any{
			"url":          src.URL,
			"title":        src.Title,
			"site":         src.Site,
			"platform":     src.Platform,
			"sentiment":    src.Sentiment,
			"rank":         float64(src.Rank),
			"interception": src.Interception,
		})
	}
	geo := map[string]any{
		"brandMentioned": r.GeoData.BrandMentioned,
		"rank":           float64(r.GeoData.Rank),
		"sentiment":      r.GeoData.Sentiment,
		"citedSources":   sources,
		"interception":   r.GeoData.Interception,
	}
	if r.GeoData.Reason != "" {
		geo["reason"] = r.GeoData.Reason
	}

	flags := make([]any, 0, len(r.Flags))
	for _, flag := range r.Flags {
		flags = append(flags, flag)
	}

	raw := RawResult{
		"brand":             r.Brand,
		"question":          r.Question,
		"model":             r.Model,
		"response":          r.Response,
		"geoData":           geo,
		"sanitizationFlags": flags,
	}
	if r.Error != "" {
		raw["error"] = r.Error
	}
	if r.Score != nil {
		raw["score"] = *r.Score
	}
	dims := map[string]any{}
	putDimension(dims, "authority", r.Dimensions.Authority)
	putDimension(dims, "visibility", r.Dimensions.Visibility)
	putDimension(dims, "purity", r.Dimensions.Purity)
	putDimension(dims, "consistency", r.Dimensions.Consistency)
	raw["dimensions"] = dims
	return raw
}

func putDimension(dst map[string]any, key string, value *float64) {
	if value != nil {
		dst[key] = *value
	}
}
