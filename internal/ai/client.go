package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

// Narrator produces a short narrative for a finished diagnosis.
type Narrator interface {
	Enabled() bool
	Narrate(ctx context.Context, input NarrativeInput) (Narrative, error)
}

// Config holds OpenAI configuration parameters.
type Config struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client implements Narrator against the OpenAI chat completions API.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

var ErrDisabled = errors.New("ai narrator disabled")

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Narrate requests an AI-written summary of the brand's metrics.
func (c *Client) Narrate(ctx context.Context, input NarrativeInput) (Narrative, error) {
	if c == nil || !c.Enabled() {
		return Narrative{}, ErrDisabled
	}

	body, err := json.Marshal(c.buildPayload(input))
	if err != nil {
		return Narrative{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Narrative{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Narrative{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return Narrative{}, fmt.Errorf("openai status %d: %v", resp.StatusCode, apiErr)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Narrative{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Narrative{}, errors.New("openai empty response")
	}

	content := normalizeJSONBlock(decoded.Choices[0].Message.Content)
	if content == "" {
		return Narrative{}, errors.New("openai empty narrative")
	}

	var narrative Narrative
	if err := json.Unmarshal([]byte(content), &narrative); err != nil {
		return Narrative{}, fmt.Errorf("parse ai response: %w", err)
	}
	sanitizeNarrative(&narrative)
	if narrative.Summary == "" {
		return Narrative{}, errors.New("ai summary missing")
	}
	narrative.Source = "openai:" + c.model
	return narrative, nil
}

func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		trimmed = strings.TrimSuffix(trimmed, "```")
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return trimmed
}

func (c *Client) buildPayload(input NarrativeInput) map[string]any {
	messages := []map[string]string{
		{
			"role":    "system",
			"content": "You are a brand visibility analyst reviewing how AI assistants talk about a brand. Reply with a strict JSON object containing keys summary, actions, and confidence. summary is at most three sentences. actions is a list of at most three short imperative recommendations. confidence is a decimal between 0 and 1. Emit nothing outside the JSON object.",
		},
		{
			"role":    "user",
			"content": buildUserPrompt(input),
		},
	}
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

func buildUserPrompt(input NarrativeInput) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Brand: %s\n", input.BrandName)
	if len(input.Competitors) > 0 {
		fmt.Fprintf(builder, "Competitors: %s\n", strings.Join(input.Competitors, ", "))
	}
	fmt.Fprintf(builder, "Overall score: %.1f (grade %s) over %d answers\n", input.Card.OverallScore, input.Card.Grade, input.Card.SampleSize)
	fmt.Fprintf(builder, "Authority %.1f, visibility %.1f, purity %.1f, consistency %.1f\n",
		input.Card.Authority, input.Card.Visibility, input.Card.Purity, input.Card.Consistency)
	fmt.Fprintf(builder, "Health: %.1f (%s)\n", input.Health.HealthScore, input.Health.Label)
	if input.SOV.NoData {
		builder.WriteString("Share of voice: no mentions recorded\n")
	} else {
		fmt.Fprintf(builder, "Share of voice: %.1f%% (%s)\n", input.SOV.ShareOfVoicePercent, input.SOV.Label)
	}
	if input.Risk.NoData {
		builder.WriteString("Risk: no mentions recorded\n")
	} else {
		fmt.Fprintf(builder, "Risk: %.1f%% negative (%s)\n", input.Risk.RiskScorePercent, input.Risk.Level)
	}
	fmt.Fprintf(builder, "Advantage: %s\nExposure: %s\nOpportunity: %s\n", input.Insight.Advantage, input.Insight.Risk, input.Insight.Opportunity)
	return builder.String()
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func sanitizeNarrative(n *Narrative) {
	if n == nil {
		return
	}
	n.Summary = strings.TrimSpace(n.Summary)
	actions := make([]string, 0, len(n.Actions))
	for _, action := range n.Actions {
		if action = strings.TrimSpace(action); action != "" && len(actions) < 3 {
			actions = append(actions, action)
		}
	}
	n.Actions = actions
	if n.Confidence != nil {
		val := clampFloat(*n.Confidence, 0, 1)
		n.Confidence = &val
	}
}

func clampFloat(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
