package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"brand-diagnosis/internal/ai"
	"brand-diagnosis/internal/config"
	"brand-diagnosis/internal/pipeline"
)

type configLoader func() (*config.Config, error)

func newRunCmd(loadCfg configLoader) *cobra.Command {
	var (
		inputPath   string
		extraPath   string
		brand       string
		competitors []string
		outputFmt   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a diagnosis locally and print each stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			input, err := loadInput(inputPath, extraPath, brand, competitors)
			if err != nil {
				return err
			}
			return runLocal(cmd.Context(), cfg, input, outputFmt, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Path to JSON file of raw model results (required)")
	cmd.Flags().StringVar(&extraPath, "extra", "", "Path to JSON file of attribution extras")
	cmd.Flags().StringVar(&brand, "brand", "", "Target brand name (required)")
	cmd.Flags().StringSliceVar(&competitors, "competitor", nil, "Competitor brand (repeatable)")
	cmd.Flags().StringVar(&outputFmt, "output", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("brand")

	return cmd
}

func runLocal(ctx context.Context, cfg *config.Config, input pipeline.Input, outputFmt string, stdout, stderr io.Writer) error {
	if err := checkOutputFormat(outputFmt); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	orch := pipeline.New(pipeline.Options{
		Narrator:       localNarrator(cfg),
		RiskThresholds: cfg.Scoring.Thresholds(),
		OnStage: func(stage pipeline.Stage) {
			printStage(stderr, stage.ProgressPercent, string(stage.Name), stage.Warning)
		},
	})
	run := orch.Start(input)
	for range run.Stages(ctx) {
	}

	report, ok := run.Report()
	if !ok {
		if cause := context.Cause(ctx); cause != nil {
			return fmt.Errorf("diagnosis cancelled: %w", cause)
		}
		return errors.New("diagnosis cancelled")
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(stdout, report)
	return nil
}

func localNarrator(cfg *config.Config) ai.Narrator {
	if cfg.AI.Disable {
		return ai.HeuristicNarrator{}
	}
	client, err := ai.NewClient(cfg.AI.Config)
	if err != nil {
		logrus.WithError(err).Debug("using heuristic narrator")
		return ai.HeuristicNarrator{}
	}
	return ai.WithRetry(client, ai.RetryPolicy{MaxAttempts: cfg.AI.MaxRetries})
}
