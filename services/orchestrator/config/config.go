// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads orchestrator configuration from the environment
// and the persona definition from a YAML file with hot reload.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the orchestrator reads at startup.
//
// Values come from MINDWELL_* environment variables via envconfig.
// Defaults are chosen so a local single-node deployment works with
// nothing set except the LLM credentials.
type Config struct {
	// HTTPPort is the listen port for the orchestrator API.
	HTTPPort int `envconfig:"HTTP_PORT" default:"12310"`

	// WeaviateURL points at the vector store used by the long-term
	// memory index and the document knowledge index. When empty the
	// service starts in lightweight mode with both indexes disabled.
	WeaviateURL string `envconfig:"WEAVIATE_URL"`

	// EmbeddingServiceURL points at the embedding sidecar.
	EmbeddingServiceURL string `envconfig:"EMBEDDING_SERVICE_URL" default:"http://localhost:12311"`

	// SQLitePath is the conversation store database file.
	SQLitePath string `envconfig:"SQLITE_PATH" default:"mindwell.db"`

	// BadgerPath is the short-term context store directory.
	BadgerPath string `envconfig:"BADGER_PATH" default:"mindwell-stm"`

	// STMTTL bounds how long a short-term entry survives.
	STMTTL time.Duration `envconfig:"STM_TTL" default:"30m"`

	// STMMaxEntries caps how many recent entries a single retrieval
	// returns for one user.
	STMMaxEntries int `envconfig:"STM_MAX_ENTRIES" default:"50"`

	// DecayLambda is the recency decay rate applied to short-term
	// entries: weight = exp(-lambda * age_seconds).
	DecayLambda float64 `envconfig:"DECAY_LAMBDA" default:"0.0005"`

	// ContextBudget is the maximum total characters of retrieved
	// context handed to the response generator.
	ContextBudget int `envconfig:"CONTEXT_BUDGET" default:"6000"`

	// RetrievalTimeout bounds each individual memory source lookup.
	RetrievalTimeout time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"800ms"`

	// GenerationTimeout bounds the whole upstream LLM call.
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"120s"`

	// TitleMaxRunes caps the auto-derived conversation title length.
	TitleMaxRunes int `envconfig:"TITLE_MAX_RUNES" default:"50"`

	// LLMBackend selects the generation client: "openai" (any
	// OpenAI-compatible API) or "ollama".
	LLMBackend string `envconfig:"LLM_BACKEND" default:"openai"`

	// LLMBaseURL is the upstream chat completion endpoint base.
	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:"https://api.perplexity.ai"`

	// LLMAPIKey authenticates against the upstream LLM.
	LLMAPIKey string `envconfig:"LLM_API_KEY"`

	// LLMModel is the model identifier sent upstream.
	LLMModel string `envconfig:"LLM_MODEL" default:"sonar-pro"`

	// VoiceSTTURL and VoiceTTSURL are the external speech services
	// used by the voice websocket. Empty disables voice.
	VoiceSTTURL string `envconfig:"VOICE_STT_URL"`
	VoiceTTSURL string `envconfig:"VOICE_TTS_URL"`

	// PersonaPath is the YAML persona file watched for changes.
	PersonaPath string `envconfig:"PERSONA_PATH"`

	// AuthSecret is the HMAC key for bearer token validation. Empty
	// selects the no-op provider (single local user).
	AuthSecret string `envconfig:"AUTH_SECRET"`

	// RateLimitRPS and RateLimitBurst bound per-user request rates.
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// OTLPEndpoint enables trace export when set (host:port).
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogDir enables file logging when set.
	LogDir string `envconfig:"LOG_DIR"`
}

// Load reads configuration from MINDWELL_* environment variables and
// validates the parts that would otherwise fail deep inside a request.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("mindwell", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.WeaviateURL != "" {
		if _, err := url.Parse(c.WeaviateURL); err != nil {
			return fmt.Errorf("invalid WEAVIATE_URL: %w", err)
		}
	}
	if c.DecayLambda < 0 {
		return fmt.Errorf("DECAY_LAMBDA must be non-negative, got %f", c.DecayLambda)
	}
	if c.ContextBudget <= 0 {
		return fmt.Errorf("CONTEXT_BUDGET must be positive, got %d", c.ContextBudget)
	}
	if c.TitleMaxRunes < 4 {
		return fmt.Errorf("TITLE_MAX_RUNES too small: %d", c.TitleMaxRunes)
	}
	switch c.LLMBackend {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown LLM_BACKEND %q", c.LLMBackend)
	}
	return nil
}
