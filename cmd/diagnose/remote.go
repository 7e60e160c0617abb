package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brand-diagnosis/internal/delivery"
	"brand-diagnosis/internal/pipeline"
)

type watchOpts struct {
	server    string
	runID     string
	sessionID string
	apiKey    string
	noPush    bool
	outputFmt string
}

func newSubmitCmd(loadCfg configLoader) *cobra.Command {
	var (
		opts        watchOpts
		inputPath   string
		extraPath   string
		brand       string
		competitors []string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a diagnosis to a server and watch it finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			if err := checkOutputFormat(opts.outputFmt); err != nil {
				return err
			}
			input, err := loadInput(inputPath, extraPath, brand, competitors)
			if err != nil {
				return err
			}
			opts.apiKey = firstNonEmpty(opts.apiKey, cfg.Server.APIKey)
			created, err := submitDiagnosis(cmd.Context(), opts.server, opts.apiKey, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Submitted run %s (session %s)\n", created.RunID, created.SessionID)
			opts.runID, opts.sessionID = created.RunID, created.SessionID
			return watchRun(cmd.Context(), cfg.Delivery, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:2000", "Diagnosis server base URL")
	cmd.Flags().StringVar(&inputPath, "input", "", "Path to JSON file of raw model results (required)")
	cmd.Flags().StringVar(&extraPath, "extra", "", "Path to JSON file of attribution extras")
	cmd.Flags().StringVar(&brand, "brand", "", "Target brand name (required)")
	cmd.Flags().StringSliceVar(&competitors, "competitor", nil, "Competitor brand (repeatable)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key for the diagnosis server")
	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "Poll for status instead of streaming")
	cmd.Flags().StringVar(&opts.outputFmt, "output", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("brand")

	return cmd
}

func newWatchCmd(loadCfg configLoader) *cobra.Command {
	var opts watchOpts

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a remote diagnosis run until it completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			if err := checkOutputFormat(opts.outputFmt); err != nil {
				return err
			}
			opts.apiKey = firstNonEmpty(opts.apiKey, cfg.Server.APIKey)
			return watchRun(cmd.Context(), cfg.Delivery, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:2000", "Diagnosis server base URL")
	cmd.Flags().StringVar(&opts.runID, "run", "", "Run id (required)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Session id of the run")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key for the diagnosis server")
	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "Poll for status instead of streaming")
	cmd.Flags().StringVar(&opts.outputFmt, "output", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

type createdRun struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
}

func submitDiagnosis(ctx context.Context, server, apiKey string, input pipeline.Input) (createdRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(map[string]any{
		"brand_name":  input.BrandName,
		"competitors": input.Competitors,
		"results":     input.Results,
		"extra":       input.Extra,
	})
	if err != nil {
		return createdRun{}, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(server, "/") + "/api/diagnoses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return createdRun{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return createdRun{}, fmt.Errorf("submit diagnosis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		return createdRun{}, fmt.Errorf("submit diagnosis: status %d: %s", resp.StatusCode, apiErr.Error)
	}

	var created createdRun
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return createdRun{}, fmt.Errorf("decode response: %w", err)
	}
	return created, nil
}

func watchRun(ctx context.Context, cfg delivery.Config, opts watchOpts, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.RunID = opts.runID
	cfg.SessionID = opts.sessionID

	var push delivery.PushTransport
	if !opts.noPush {
		ws, err := delivery.NewWebSocketTransport(opts.server, opts.apiKey)
		if err != nil {
			return err
		}
		push = ws
	}
	poll := delivery.NewHTTPPollTransport(opts.server, opts.apiKey, 30*time.Second)

	ctrl := delivery.New(cfg, push, poll)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	for ev := range ctrl.Events() {
		switch ev.Type {
		case delivery.EventConnected:
			fmt.Fprintln(stderr, "Connected to stage stream")
		case delivery.EventProgress:
			printStage(stderr, ev.Percent, ev.Stage, "")
		case delivery.EventComplete:
			return printRemoteReport(stdout, ev, opts.outputFmt)
		case delivery.EventError:
			msg := fmt.Sprintf("diagnosis failed (%s): %s", ev.Kind, ev.Message)
			if ev.FallbackHint != "" {
				msg += "; " + ev.FallbackHint
			}
			return errors.New(msg)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("delivery stopped without a result")
}

func printRemoteReport(w io.Writer, ev delivery.Event, outputFmt string) error {
	if len(ev.Report) == 0 {
		fmt.Fprintln(w, "Run finished without a report (partial results only)")
		return nil
	}
	if outputFmt == "json" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, ev.Report, "", "  "); err != nil {
			return fmt.Errorf("format report: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	}
	var report pipeline.FinalReport
	if err := json.Unmarshal(ev.Report, &report); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if ev.Partial && len(report.Warnings) == 0 {
		report.Warnings = []string{"server reported partial results"}
	}
	printReport(w, &report)
	return nil
}
