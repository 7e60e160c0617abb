package attribution

import "brand-diagnosis/internal/sanitize"

// Source is a cited source considered for threat attribution.
type Source = sanitize.Source

// Severity of a single threat.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Level buckets the number of threats found for a brand.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Threat is a source that works against the target brand.
type Threat struct {
	Source         Source   `json:"source"`
	Severity       Severity `json:"severity"`
	Reasons        []string `json:"reasons"`
	Recommendation string   `json:"recommendation"`
}

// ThreatResult is the outcome of AttributeThreats.
type ThreatResult struct {
	Threats     []Threat `json:"threats"`
	ThreatCount int      `json:"threatCount"`
	ThreatLevel Level    `json:"threatLevel"`
}

// InterceptionStats counts how often a platform answered with a competitor
// in place of the target brand.
type InterceptionStats struct {
	Interceptions         int `json:"interceptions"`
	NegativeInterceptions int `json:"negativeInterceptions"`
	TotalMentions         int `json:"totalMentions"`
}

// Pattern is a platform whose interception rate crossed the pattern threshold.
type Pattern struct {
	Platform         string  `json:"platform"`
	InterceptionRate float64 `json:"interceptionRatePercent"`
	Interceptions    int     `json:"interceptions"`
	TotalMentions    int     `json:"totalMentions"`
	Recommendation   string  `json:"recommendation"`
}

// PatternResult is the outcome of AnalyzePatterns.
type PatternResult struct {
	Patterns                       []Pattern `json:"patterns"`
	OverallInterceptionRatePercent float64   `json:"overallInterceptionRatePercent"`
	Recommendation                 string    `json:"recommendation"`
}

// Report combines threats and interception patterns for one run.
type Report struct {
	Threats                        []Threat  `json:"threats"`
	ThreatCount                    int       `json:"threatCount"`
	ThreatLevel                    Level     `json:"threatLevel"`
	InterceptionPatterns           []Pattern `json:"interceptionPatterns"`
	OverallInterceptionRatePercent float64   `json:"overallInterceptionRatePercent"`
	Recommendations                []string  `json:"recommendations"`
}
