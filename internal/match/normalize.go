package match

import (
	"regexp"
	"strings"
)

var (
	protocolStripper = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
	spaceCollapser   = regexp.MustCompile(`\s+`)
)

// SourceProfile captures the normalization output for a cited source reference.
type SourceProfile struct {
	Original string
	Host     string
	Site     string
	Path     string
}

// NormalizeSource extracts the host and registrable site from a cited source URL.
// Bare titles without a host yield an empty Host.
func NormalizeSource(input string) SourceProfile {
	profile := SourceProfile{Original: input}
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return profile
	}
	lower = protocolStripper.ReplaceAllString(lower, "")

	path := ""
	for _, sep := range []string{"/", "?", "#"} {
		if idx := strings.Index(lower, sep); idx >= 0 {
			if sep == "/" {
				path = lower[idx:]
			}
			lower = lower[:idx]
		}
	}

	// Drop credentials if present (user:pass@)
	if idx := strings.LastIndex(lower, "@"); idx >= 0 {
		lower = lower[idx+1:]
	}

	lower = strings.Trim(lower, ".")
	lower = strings.TrimPrefix(lower, "www.")
	if idx := strings.IndexRune(lower, ':'); idx >= 0 {
		lower = lower[:idx]
	}
	if !strings.Contains(lower, ".") || strings.ContainsAny(lower, " \t") {
		return profile
	}

	segments := compactSegments(strings.Split(lower, "."))
	profile.Host = strings.Join(segments, ".")
	profile.Path = path
	profile.Site = registrableSite(segments)
	return profile
}

// registrableSite approximates eTLD+1, treating two-letter country TLDs with a
// short second level (co.uk, com.cn) as a public suffix.
func registrableSite(segments []string) string {
	n := len(segments)
	if n <= 2 {
		return strings.Join(segments, ".")
	}
	tld := segments[n-1]
	second := segments[n-2]
	if len(tld) == 2 && len(second) <= 3 {
		return strings.Join(segments[n-3:], ".")
	}
	return strings.Join(segments[n-2:], ".")
}

// BrandKey folds a brand name into a grouping key: case-insensitive, trimmed,
// inner whitespace collapsed.
func BrandKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return spaceCollapser.ReplaceAllString(key, " ")
}

// SameBrand reports whether two brand names fold to the same key.
func SameBrand(a, b string) bool {
	ka := BrandKey(a)
	return ka != "" && ka == BrandKey(b)
}

func compactSegments(in []string) []string {
	var out []string
	for _, seg := range in {
		if trimmed := strings.TrimSpace(seg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
