package pipeline

import (
	"time"

	"brand-diagnosis/internal/ai"
	"brand-diagnosis/internal/attribution"
	"brand-diagnosis/internal/sanitize"
	"brand-diagnosis/internal/scoring"
)

// StageName identifies one step of a diagnosis run.
type StageName string

const (
	StageCleaned  StageName = "cleaned"
	StageFilled   StageName = "filled"
	StageScores   StageName = "scores"
	StageSOV      StageName = "sov"
	StageRisk     StageName = "risk"
	StageHealth   StageName = "health"
	StageInsights StageName = "insights"
	StageComplete StageName = "complete"
)

type checkpoint struct {
	name     StageName
	progress int
}

// Cheap early stages carry large jumps; complete alone spans 87 to 100.
var sequence = []checkpoint{
	{StageCleaned, 12},
	{StageFilled, 25},
	{StageScores, 37},
	{StageSOV, 50},
	{StageRisk, 62},
	{StageHealth, 75},
	{StageInsights, 87},
	{StageComplete, 100},
}

// Sequence returns the stage names in run order.
func Sequence() []StageName {
	out := make([]StageName, len(sequence))
	for i, cp := range sequence {
		out[i] = cp.name
	}
	return out
}

// Checkpoint returns the progress percent reached when the named stage is produced.
func Checkpoint(name string) (int, bool) {
	for _, cp := range sequence {
		if string(cp.name) == name {
			return cp.progress, true
		}
	}
	return 0, false
}

// Stage is one ordered snapshot emitted by a run.
type Stage struct {
	Name            StageName `json:"name"`
	ProgressPercent int       `json:"progressPercent"`
	Payload         any       `json:"payload"`
	Timestamp       time.Time `json:"timestamp"`
	Degraded        bool      `json:"degraded,omitempty"`
	Warning         string    `json:"warning,omitempty"`
}

// Extra carries optional attribution inputs supplied alongside the raw results.
// Both fields are untrusted and are repaired when the run attributes threats.
type Extra struct {
	NegativeSources any `json:"negativeSources,omitempty"`
	Interceptions   any `json:"interceptions,omitempty"`
}

// Input is everything one run needs.
type Input struct {
	Results     []sanitize.RawResult `json:"results"`
	BrandName   string               `json:"brandName"`
	Competitors []string             `json:"competitors"`
	Extra       Extra                `json:"extra"`
}

// CleanedPayload is produced by the cleaned stage.
type CleanedPayload struct {
	Records []sanitize.CanonicalRecord `json:"records"`
	Summary sanitize.Summary           `json:"summary"`
}

// FilledPayload is produced by the filled stage.
type FilledPayload struct {
	Brands      []string       `json:"brands"`
	SampleSizes map[string]int `json:"sampleSizes"`
	Usable      int            `json:"usable"`
	Failed      int            `json:"failed"`
}

// HealthPayload is produced by the health stage.
type HealthPayload struct {
	Target scoring.HealthResult            `json:"target"`
	Brands map[string]scoring.HealthResult `json:"brands"`
}

// InsightsPayload is produced by the insights stage.
type InsightsPayload struct {
	Brands    map[string]scoring.Insight `json:"brands"`
	Narrative *ai.Narrative              `json:"narrative,omitempty"`
}

// FinalReport is the union of every derived result, assembled at complete.
type FinalReport struct {
	BrandName   string                            `json:"brandName"`
	Competitors []string                          `json:"competitors"`
	Timestamp   time.Time                         `json:"timestamp"`
	Sanitation  sanitize.Summary                  `json:"sanitation"`
	ScoreCards  map[string]scoring.BrandScoreCard `json:"scoreCards"`
	SOV         scoring.SOVResult                 `json:"sov"`
	Risk        scoring.RiskResult                `json:"risk"`
	Health      scoring.HealthResult              `json:"health"`
	BrandHealth map[string]scoring.HealthResult   `json:"brandHealth"`
	Insights    map[string]scoring.Insight        `json:"insights"`
	Narrative   *ai.Narrative                     `json:"narrative,omitempty"`
	Attribution attribution.Report                `json:"attribution"`
	Warnings    []string                          `json:"warnings"`
}

// Partial reports whether any stage had to fall back to a neutral default.
func (r *FinalReport) Partial() bool {
	return r != nil && len(r.Warnings) > 0
}
