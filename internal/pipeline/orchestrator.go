package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"brand-diagnosis/internal/ai"
	"brand-diagnosis/internal/attribution"
	"brand-diagnosis/internal/match"
	"brand-diagnosis/internal/sanitize"
	"brand-diagnosis/internal/scoring"
	"brand-diagnosis/internal/util"
)

// ErrCancelled is returned by RunToCompletion when the run stops before complete.
var ErrCancelled = errors.New("diagnosis run cancelled")

// Options configure an Orchestrator. Every field is optional.
type Options struct {
	// OnStage and OnProgress fire synchronously before a stage is returned
	// to the consumer.
	OnStage        func(Stage)
	OnProgress     func(percent int, stage StageName)
	Clock          util.Clock
	Narrator       ai.Narrator
	RiskThresholds scoring.ThresholdSet
	Logger         *logrus.Entry
}

// Orchestrator sequences sanitization, scoring and attribution into the fixed
// stage order.
type Orchestrator struct {
	opts Options
}

// New returns an Orchestrator with defaults applied.
func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = util.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "pipeline")
	}
	return &Orchestrator{opts: opts}
}

// Start prepares a run. No work happens until the first stage is pulled.
func (o *Orchestrator) Start(input Input) *Run {
	input = normalizeInput(input)
	return &Run{
		o:     o,
		input: input,
		log:   o.opts.Logger.WithField("brand", input.BrandName),
		state: runState{warnings: []string{}},
	}
}

// RunToCompletion drives a run to its final report without surfacing stages.
func (o *Orchestrator) RunToCompletion(ctx context.Context, input Input) (*FinalReport, error) {
	run := o.Start(input)
	run.quiet = true
	for {
		if _, ok := run.Next(ctx); !ok {
			break
		}
	}
	if report, ok := run.Report(); ok {
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil, ErrCancelled
}

type runState struct {
	records     []sanitize.CanonicalRecord
	summary     sanitize.Summary
	brands      []string
	cards       map[string]scoring.BrandScoreCard
	sov         scoring.SOVResult
	risk        scoring.RiskResult
	brandHealth map[string]scoring.HealthResult
	insights    map[string]scoring.Insight
	narrative   *ai.Narrative
	warnings    []string
}

// Run is a single pass over the stage sequence. It is not restartable and
// must be consumed from one goroutine; Cancel may be called from any.
type Run struct {
	o         *Orchestrator
	input     Input
	log       *logrus.Entry
	next      int
	finished  bool
	quiet     bool
	cancelled atomic.Bool
	now       time.Time
	state     runState
	report    *FinalReport
}

// Cancel stops the run before its next stage. Stages already produced stand.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
}

// Report returns the final report once the complete stage has been produced.
func (r *Run) Report() (*FinalReport, bool) {
	return r.report, r.report != nil
}

// Stages exposes the run as a range-over-func sequence.
func (r *Run) Stages(ctx context.Context) iter.Seq[Stage] {
	return func(yield func(Stage) bool) {
		for {
			stage, ok := r.Next(ctx)
			if !ok || !yield(stage) {
				return
			}
		}
	}
}

// Next produces the next stage. It returns false once the run is complete or
// has been cancelled through Cancel or ctx; cancellation is not an error.
func (r *Run) Next(ctx context.Context) (Stage, bool) {
	if r.finished || r.next >= len(sequence) {
		r.finished = true
		return Stage{}, false
	}
	cp := sequence[r.next]
	if r.cancelled.Load() || ctx.Err() != nil {
		r.finished = true
		r.log.WithField("stage", cp.name).Info("diagnosis run cancelled")
		return Stage{}, false
	}
	r.next++

	timer := util.StartTimer()
	r.now = r.o.opts.Clock()
	payload, warning := r.execute(ctx, cp.name)
	stage := Stage{
		Name:            cp.name,
		ProgressPercent: cp.progress,
		Payload:         payload,
		Timestamp:       r.now,
		Degraded:        warning != "",
		Warning:         warning,
	}
	r.log.WithFields(logrus.Fields{
		"stage":    cp.name,
		"progress": cp.progress,
		"duration": timer.Elapsed(),
	}).Debug("stage produced")

	if cp.name == StageComplete {
		r.finished = true
	}
	if !r.quiet {
		if r.o.opts.OnStage != nil {
			r.o.opts.OnStage(stage)
		}
		if r.o.opts.OnProgress != nil {
			r.o.opts.OnProgress(cp.progress, cp.name)
		}
	}
	return stage, true
}

// execute runs one step, replacing a panicking step with its neutral default.
func (r *Run) execute(ctx context.Context, name StageName) (payload any, warning string) {
	defer func() {
		if rec := recover(); rec != nil {
			warning = fmt.Sprintf("%s stage degraded: %v", name, rec)
			r.log.WithFields(logrus.Fields{"stage": name, "panic": rec}).Warn("recovered stage defect")
			r.state.warnings = append(r.state.warnings, warning)
			payload = r.fallback(name)
		}
	}()
	return r.step(ctx, name), ""
}

func (r *Run) step(ctx context.Context, name StageName) any {
	in := r.input
	s := &r.state
	switch name {
	case StageCleaned:
		s.records = sanitize.SanitizeAll(in.Results)
		s.summary = sanitize.Summarize(s.records)
		return CleanedPayload{Records: s.records, Summary: s.summary}
	case StageFilled:
		s.brands = scoring.BrandOrder(s.records, in.BrandName, in.Competitors)
		return r.filledPayload()
	case StageScores:
		s.cards = scoring.ComputeBrandScores(s.records, in.BrandName, in.Competitors)
		return s.cards
	case StageSOV:
		s.sov = scoring.ComputeSOV(s.records, in.BrandName, in.Competitors)
		return s.sov
	case StageRisk:
		s.risk = scoring.ComputeRisk(s.records, in.BrandName, r.o.opts.RiskThresholds)
		return s.risk
	case StageHealth:
		s.brandHealth = make(map[string]scoring.HealthResult, len(s.cards))
		for brand, card := range s.cards {
			s.brandHealth[brand] = scoring.ComputeHealth(card)
		}
		return HealthPayload{Target: scoring.ComputeHealth(r.targetCard()), Brands: s.brandHealth}
	case StageInsights:
		s.insights = make(map[string]scoring.Insight, len(s.cards))
		for brand, card := range s.cards {
			s.insights[brand] = scoring.GenerateInsightText(card, brand)
		}
		s.narrative = r.narrate(ctx)
		return InsightsPayload{Brands: s.insights, Narrative: s.narrative}
	case StageComplete:
		r.report = r.assemble(r.attribute())
		return r.report
	}
	panic(fmt.Sprintf("unknown stage %q", name))
}

func (r *Run) fallback(name StageName) any {
	in := r.input
	s := &r.state
	switch name {
	case StageCleaned:
		s.records = []sanitize.CanonicalRecord{}
		s.summary = sanitize.Summarize(s.records)
		return CleanedPayload{Records: s.records, Summary: s.summary}
	case StageFilled:
		s.brands = scoring.BrandOrder(nil, in.BrandName, in.Competitors)
		return FilledPayload{Brands: s.brands, SampleSizes: map[string]int{}}
	case StageScores:
		s.cards = make(map[string]scoring.BrandScoreCard)
		for _, brand := range scoring.BrandOrder(nil, in.BrandName, in.Competitors) {
			s.cards[brand] = scoring.DefaultScoreCard(brand)
		}
		return s.cards
	case StageSOV:
		s.sov = scoring.ShareOfVoice(0, 0)
		return s.sov
	case StageRisk:
		s.risk = scoring.RiskFromCounts(0, 0, scoring.DefaultThresholds)
		return s.risk
	case StageHealth:
		s.brandHealth = make(map[string]scoring.HealthResult, len(s.cards))
		for brand := range s.cards {
			s.brandHealth[brand] = scoring.ComputeHealth(scoring.DefaultScoreCard(brand))
		}
		return HealthPayload{Target: scoring.ComputeHealth(scoring.DefaultScoreCard(in.BrandName)), Brands: s.brandHealth}
	case StageInsights:
		s.insights = make(map[string]scoring.Insight, len(s.cards))
		for brand := range s.cards {
			s.insights[brand] = scoring.Insight{
				Advantage:   scoring.FallbackAdvantage,
				Risk:        scoring.FallbackRisk,
				Opportunity: scoring.FallbackOpportunity,
			}
		}
		s.narrative = nil
		return InsightsPayload{Brands: s.insights}
	default:
		r.report = r.assemble(attribution.BuildAttributionReport(
			attribution.AttributeThreats(nil, in.BrandName),
			attribution.AnalyzePatterns(nil),
		))
		return r.report
	}
}

func (r *Run) filledPayload() FilledPayload {
	target := r.input.BrandName
	display := make(map[string]string, len(r.state.brands))
	sizes := make(map[string]int, len(r.state.brands))
	for _, brand := range r.state.brands {
		display[match.BrandKey(brand)] = brand
		sizes[brand] = 0
	}
	payload := FilledPayload{Brands: r.state.brands, SampleSizes: sizes}
	for _, rec := range r.state.records {
		if rec.Failed() {
			payload.Failed++
			continue
		}
		payload.Usable++
		name := rec.Brand
		if strings.TrimSpace(name) == "" {
			name = target
		}
		if brand, ok := display[match.BrandKey(name)]; ok {
			sizes[brand]++
		}
	}
	return payload
}

func (r *Run) targetCard() scoring.BrandScoreCard {
	if card, ok := r.state.cards[r.input.BrandName]; ok {
		return card
	}
	return scoring.DefaultScoreCard(r.input.BrandName)
}

func (r *Run) narrate(ctx context.Context) *ai.Narrative {
	if r.o.opts.Narrator == nil {
		return nil
	}
	card := r.targetCard()
	input := ai.NarrativeInput{
		BrandName:   r.input.BrandName,
		Competitors: r.input.Competitors,
		Card:        card,
		Health:      scoring.ComputeHealth(card),
		Risk:        r.state.risk,
		SOV:         r.state.sov,
		Insight:     r.state.insights[r.input.BrandName],
	}
	narrator := ai.WithFallback(r.o.opts.Narrator, ai.HeuristicNarrator{})
	narrative, err := narrator.Narrate(ctx, input)
	if err != nil {
		r.log.WithError(err).Warn("narrative unavailable")
		return nil
	}
	return &narrative
}

func (r *Run) attribute() attribution.Report {
	in := r.input
	sources := sanitize.SanitizeSources(in.Extra.NegativeSources)
	if len(sources) == 0 {
		sources = attribution.SourcesFromRecords(r.state.records)
	}
	interceptions := attribution.SanitizeInterceptions(in.Extra.Interceptions)
	if len(interceptions) == 0 {
		interceptions = attribution.InterceptionsFromRecords(r.state.records, in.BrandName)
	}
	return attribution.BuildAttributionReport(
		attribution.AttributeThreats(sources, in.BrandName),
		attribution.AnalyzePatterns(interceptions),
	)
}

func (r *Run) assemble(attr attribution.Report) *FinalReport {
	s := r.state
	target := r.targetCard()
	return &FinalReport{
		BrandName:   r.input.BrandName,
		Competitors: r.input.Competitors,
		Timestamp:   r.now,
		Sanitation:  s.summary,
		ScoreCards:  s.cards,
		SOV:         s.sov,
		Risk:        s.risk,
		Health:      scoring.ComputeHealth(target),
		BrandHealth: s.brandHealth,
		Insights:    s.insights,
		Narrative:   s.narrative,
		Attribution: attr,
		Warnings:    append([]string{}, s.warnings...),
	}
}

func normalizeInput(in Input) Input {
	in.BrandName = strings.TrimSpace(in.BrandName)
	competitors := make([]string, 0, len(in.Competitors))
	for _, name := range in.Competitors {
		if name = strings.TrimSpace(name); name != "" {
			competitors = append(competitors, name)
		}
	}
	in.Competitors = competitors
	return in
}
