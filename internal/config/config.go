// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration for the demo service.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// StateTable is the DynamoDB table holding the session, dedup marks and
	// the webhook log.
	StateTable string `env:"STATE_TABLE"`

	// ParamPrefix is the SSM prefix under which personas, criteria and API
	// keys live.
	ParamPrefix string `env:"PARAM_PREFIX"`

	// PublicBaseURL is this deployment's externally reachable base URL,
	// registered as the webhook target for both inboxes.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	MailslurpBaseURL string `env:"MAILSLURP_BASE_URL" envDefault:"https://api.mailslurp.com"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"    envDefault:"https://api.openai.com/v1"`

	// MaxExchanges bounds the conversation length to prevent unbounded
	// agent-to-agent looping.
	MaxExchanges int `env:"MAX_EXCHANGES" envDefault:"6"`

	// ProcessTimeoutSeconds bounds a single webhook-triggered processing run,
	// content generation included.
	ProcessTimeoutSeconds int `env:"PROCESS_TIMEOUT_SECONDS" envDefault:"60"`

	// Scoring thresholds; the weight table itself keeps its defaults.
	ProposeThreshold int `env:"SCORE_PROPOSE_THRESHOLD" envDefault:"75"`
	ClarifyThreshold int `env:"SCORE_CLARIFY_THRESHOLD" envDefault:"50"`
}

// Load parses configuration from the environment and validates required
// fields.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.StateTable) == "" {
		return nil, errors.New("config: STATE_TABLE is required")
	}
	if strings.TrimSpace(cfg.ParamPrefix) == "" {
		return nil, errors.New("config: PARAM_PREFIX is required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, errors.New("config: PUBLIC_BASE_URL is required")
	}
	if cfg.MaxExchanges <= 0 {
		return nil, errors.New("config: MAX_EXCHANGES must be positive")
	}
	if cfg.ClarifyThreshold > cfg.ProposeThreshold {
		return nil, errors.New("config: SCORE_CLARIFY_THRESHOLD must not exceed SCORE_PROPOSE_THRESHOLD")
	}
	return cfg, nil
}
