package sanitize

// RawResult is one AI-platform response to one question as received from the
// execution engine. Values are untrusted: any key may be missing or carry the
// wrong type.
type RawResult map[string]any

// ReasonMissingOrInvalid tags a geo block that was replaced wholesale.
const ReasonMissingOrInvalid = "missing_or_invalid"

// Flags naming which fields were defaulted.
const (
	FlagResponse       = "response"
	FlagGeoData        = "geoData"
	FlagBrandMentioned = "geoData.brandMentioned"
	FlagRank           = "geoData.rank"
	FlagSentiment      = "geoData.sentiment"
	FlagCitedSources   = "geoData.citedSources"
	FlagInterception   = "geoData.interception"
)

// Source is a cited source attached to an AI answer.
type Source struct {
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	Site         string `json:"site,omitempty"`
	Platform     string `json:"platform,omitempty"`
	Sentiment    string `json:"sentiment,omitempty"`
	Rank         int    `json:"rank,omitempty"`
	Interception bool   `json:"interception,omitempty"`
}

// Label returns the most readable identifier for the source.
func (s Source) Label() string {
	switch {
	case s.Title != "":
		return s.Title
	case s.Site != "":
		return s.Site
	default:
		return s.URL
	}
}

// GeoData is the fully-populated generative-engine visibility block.
type GeoData struct {
	BrandMentioned bool     `json:"brandMentioned"`
	Rank           int      `json:"rank"`
	Sentiment      float64  `json:"sentiment"`
	CitedSources   []Source `json:"citedSources"`
	Interception   string   `json:"interception"`
	Reason         string   `json:"reason,omitempty"`
}

// Ranked reports whether the brand received a positive rank.
func (g GeoData) Ranked() bool {
	return g.Rank > 0
}

// Dimensions holds optional explicit per-dimension scores.
type Dimensions struct {
	Authority   *float64 `json:"authority,omitempty"`
	Visibility  *float64 `json:"visibility,omitempty"`
	Purity      *float64 `json:"purity,omitempty"`
	Consistency *float64 `json:"consistency,omitempty"`
}

// CanonicalRecord is a RawResult after defaulting and normalization. Records are
// built once by Sanitize and never mutated afterwards.
type CanonicalRecord struct {
	Brand      string     `json:"brand"`
	Question   string     `json:"question"`
	Model      string     `json:"model"`
	Response   string     `json:"response"`
	GeoData    GeoData    `json:"geoData"`
	Score      *float64   `json:"score,omitempty"`
	Dimensions Dimensions `json:"dimensions"`
	Error      string     `json:"error,omitempty"`
	Flags      []string   `json:"sanitizationFlags"`
}

// Failed reports whether the record represents a failed AI call with no usable answer.
func (r CanonicalRecord) Failed() bool {
	return r.Error != "" && r.Response == ""
}

// Defaulted reports whether any field of the record was repaired.
func (r CanonicalRecord) Defaulted() bool {
	return len(r.Flags) > 0
}

// Summary aggregates sanitization outcomes for a batch of records.
type Summary struct {
	Total      int            `json:"total"`
	Defaulted  int            `json:"defaulted"`
	InvalidGeo int            `json:"invalidGeo"`
	Errored    int            `json:"errored"`
	FlagCounts map[string]int `json:"flagCounts"`
}
