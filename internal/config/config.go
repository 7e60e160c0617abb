// Package config loads service configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"brand-diagnosis/internal/ai"
	"brand-diagnosis/internal/delivery"
	"brand-diagnosis/internal/scoring"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Delivery delivery.Config `yaml:"delivery"`
	Scoring  ScoringConfig   `yaml:"scoring"`
	AI       AIConfig        `yaml:"ai"`
}

// ServerConfig controls the HTTP service.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	DBPath         string   `yaml:"db_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	APIKey         string   `yaml:"api_key"`
	SilentDB       bool     `yaml:"silent_db"`
}

// ScoringConfig holds risk thresholds.
type ScoringConfig struct {
	Risk     scoring.Thresholds            `yaml:"risk"`
	PerBrand map[string]scoring.Thresholds `yaml:"per_brand"`
}

// Thresholds converts the scoring section to a lookup set.
func (s ScoringConfig) Thresholds() scoring.ThresholdSet {
	return scoring.ThresholdSet{Default: s.Risk, PerBrand: s.PerBrand}
}

// AIConfig wraps the narrator client settings.
type AIConfig struct {
	ai.Config  `yaml:",inline"`
	Disable    bool `yaml:"disable"`
	MaxRetries int  `yaml:"max_retries"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   "2000",
			DBPath: "data/brand-diagnosis.db",
			AllowedOrigins: []string{
				"http://localhost:1000",
				"http://127.0.0.1:1000",
			},
		},
		Delivery: delivery.DefaultConfig(),
		Scoring: ScoringConfig{
			Risk: scoring.DefaultThresholds,
		},
		AI: AIConfig{MaxRetries: 3},
	}
}

// Load reads a config file from the given path and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	applyEnv(cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Server.Port)
	str("BRAND_DIAGNOSIS_DB_PATH", &cfg.Server.DBPath)
	str("BRAND_DIAGNOSIS_API_KEY", &cfg.Server.APIKey)
	str("OPENAI_API_KEY", &cfg.AI.APIKey)
	str("OPENAI_MODEL", &cfg.AI.Model)
	str("OPENAI_BASE_URL", &cfg.AI.BaseURL)

	if origins := strings.TrimSpace(getenv("ALLOWED_ORIGINS")); origins != "" {
		var out []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
		cfg.Server.AllowedOrigins = out
	}
	if temp := getenv("OPENAI_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			cfg.AI.Temperature = v
		}
	}
	if maxTokens := getenv("OPENAI_MAX_TOKENS"); maxTokens != "" {
		if v, err := strconv.Atoi(maxTokens); err == nil {
			cfg.AI.MaxTokens = v
		}
	}
	if timeout := getenv("DELIVERY_HARD_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.Delivery.HardTimeout = d
		}
	}
	if stall := getenv("DELIVERY_STALL_TIMEOUT"); stall != "" {
		if d, err := time.ParseDuration(stall); err == nil && d > 0 {
			cfg.Delivery.StallTimeout = d
		}
	}
	if strings.EqualFold(strings.TrimSpace(getenv("DISABLE_AI")), "true") {
		cfg.AI.Disable = true
	}
}
