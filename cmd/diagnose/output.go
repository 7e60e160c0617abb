package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"brand-diagnosis/internal/pipeline"
	"brand-diagnosis/internal/sanitize"
)

func checkOutputFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text or json)", format)
}

// loadInput reads raw results from either a bare JSON array or an object with
// a results field.
func loadInput(inputPath, extraPath, brand string, competitors []string) (pipeline.Input, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return pipeline.Input{}, errors.New("--brand is required")
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("reading input: %w", err)
	}

	var results []sanitize.RawResult
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &results); err != nil {
			return pipeline.Input{}, fmt.Errorf("parsing input: %w", err)
		}
	} else {
		var wrapped struct {
			Results []sanitize.RawResult `json:"results"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return pipeline.Input{}, fmt.Errorf("parsing input: %w", err)
		}
		results = wrapped.Results
	}

	input := pipeline.Input{Results: results, BrandName: brand, Competitors: competitors}
	if extraPath != "" {
		raw, err := os.ReadFile(extraPath)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("reading extra: %w", err)
		}
		if err := json.Unmarshal(raw, &input.Extra); err != nil {
			return pipeline.Input{}, fmt.Errorf("parsing extra: %w", err)
		}
	}
	return input, nil
}

func printStage(w io.Writer, percent int, stage, warning string) {
	line := fmt.Sprintf("[%3d%%] %s", percent, stage)
	if warning != "" {
		line += " (degraded: " + warning + ")"
	}
	fmt.Fprintln(w, line)
}

func printReport(w io.Writer, report *pipeline.FinalReport) {
	fmt.Fprintf(w, "Brand diagnosis: %s\n", report.BrandName)
	if len(report.Competitors) > 0 {
		fmt.Fprintf(w, "Competitors: %s\n", strings.Join(report.Competitors, ", "))
	}
	s := report.Sanitation
	fmt.Fprintf(w, "Results: %d total, %d errored\n\n", s.Total, s.Errored)

	fmt.Fprintln(w, "Score cards:")
	brands := make([]string, 0, len(report.ScoreCards))
	for brand := range report.ScoreCards {
		brands = append(brands, brand)
	}
	sort.Strings(brands)
	for _, brand := range brands {
		card := report.ScoreCards[brand]
		suffix := ""
		if card.Default {
			suffix = " (no data)"
		}
		fmt.Fprintf(w, "  %-20s %5.1f  %-2s  n=%d%s\n", brand, card.OverallScore, card.Grade, card.SampleSize, suffix)
	}

	fmt.Fprintln(w)
	if report.SOV.NoData {
		fmt.Fprintln(w, "Share of voice: no data")
	} else {
		fmt.Fprintf(w, "Share of voice: %.1f%% (%s)\n", report.SOV.ShareOfVoicePercent, report.SOV.Label)
	}
	if report.Risk.NoData {
		fmt.Fprintln(w, "Risk: no data")
	} else {
		fmt.Fprintf(w, "Risk: %.1f%% (%s)\n", report.Risk.RiskScorePercent, report.Risk.Level)
	}
	fmt.Fprintf(w, "Health: %.1f (%s)\n", report.Health.HealthScore, report.Health.Label)

	if insight, ok := report.Insights[report.BrandName]; ok {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Advantage:   %s\n", insight.Advantage)
		fmt.Fprintf(w, "Risk:        %s\n", insight.Risk)
		fmt.Fprintf(w, "Opportunity: %s\n", insight.Opportunity)
	}
	if n := report.Narrative; n != nil && n.Summary != "" {
		fmt.Fprintf(w, "\nSummary (%s): %s\n", n.Source, n.Summary)
		for _, action := range n.Actions {
			fmt.Fprintf(w, "  - %s\n", action)
		}
	}

	a := report.Attribution
	fmt.Fprintf(w, "\nThreats: %d (%s)\n", a.ThreatCount, a.ThreatLevel)
	for _, rec := range a.Recommendations {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
