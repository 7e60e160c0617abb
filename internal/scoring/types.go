package scoring

// Grade is the letter grade assigned to an overall score.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
)

// BrandScoreCard is the per-brand aggregate recomputed wholesale each run.
type BrandScoreCard struct {
	Brand        string  `json:"brand"`
	OverallScore float64 `json:"overallScore"`
	Grade        Grade   `json:"grade"`
	Authority    float64 `json:"authority"`
	Visibility   float64 `json:"visibility"`
	Purity       float64 `json:"purity"`
	Consistency  float64 `json:"consistency"`
	Summary      string  `json:"summary"`
	SampleSize   int     `json:"sampleSize"`
	Default      bool    `json:"isDefault,omitempty"`
}

// SOVLabel classifies a share-of-voice percentage.
type SOVLabel string

const (
	SOVLeading SOVLabel = "leading"
	SOVNeutral SOVLabel = "neutral"
	SOVLagging SOVLabel = "lagging"
)

// SOVResult is the target brand's share of voice against named competitors.
type SOVResult struct {
	ShareOfVoicePercent float64  `json:"shareOfVoicePercent"`
	Label               SOVLabel `json:"label"`
	Color               string   `json:"color"`
	BrandMentions       int      `json:"brandMentions"`
	CompetitorMentions  int      `json:"competitorMentions"`
	NoData              bool     `json:"noData,omitempty"`
}

// RiskLevel classifies the negative-mention rate.
type RiskLevel string

const (
	RiskHigh RiskLevel = "high"
	RiskMid  RiskLevel = "mid"
	RiskSafe RiskLevel = "safe"
)

// RiskResult is derived from the target brand's negative-mention rate.
type RiskResult struct {
	RiskScorePercent float64   `json:"riskScorePercent"`
	Level            RiskLevel `json:"level"`
	NegativeMentions int       `json:"negativeMentions"`
	TotalMentions    int       `json:"totalMentions"`
	NoData           bool      `json:"noData,omitempty"`
}

// HealthLabel classifies a health score.
type HealthLabel string

const (
	HealthExcellent HealthLabel = "excellent"
	HealthGood      HealthLabel = "good"
	HealthFair      HealthLabel = "fair"
	HealthPoor      HealthLabel = "poor"
)

// HealthResult is the unweighted mean of the four score-card dimensions.
type HealthResult struct {
	HealthScore float64     `json:"healthScore"`
	Label       HealthLabel `json:"label"`
}

// Insight holds the threshold-driven narrative buckets for one brand.
type Insight struct {
	Advantage   string `json:"advantage"`
	Risk        string `json:"risk"`
	Opportunity string `json:"opportunity"`
}
