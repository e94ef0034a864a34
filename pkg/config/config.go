// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the YAML configuration schema and its loader.
//
// Every section follows the same pattern: yaml-tagged struct,
// SetDefaults filling zero values, Validate rejecting inconsistent
// combinations. The loader pipeline is read -> parse -> expand env
// vars -> decode -> defaults -> validate.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Model         ModelConfig         `yaml:"model" json:"model"`
	Logger        LoggerConfig        `yaml:"logger" json:"logger"`
	Session       SessionConfig       `yaml:"session" json:"session"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the local dev server.
type ServerConfig struct {
	// Host to bind, defaults to localhost.
	Host string `yaml:"host" json:"host"`

	// Port to listen on, defaults to 8090.
	Port int `yaml:"port" json:"port"`

	// AllowedOrigins for CORS. Empty allows any origin, which is the
	// sensible default for a local dev server.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins,omitempty"`

	// ShutdownTimeout bounds graceful shutdown, defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
}

// ModelConfig configures the shared LLM client.
type ModelConfig struct {
	// Provider is one of openai, anthropic, gemini, ollama.
	Provider string `yaml:"provider" json:"provider"`

	// Name is the model name; each provider has its own default.
	Name string `yaml:"name" json:"name,omitempty"`

	// APIKey authenticates against the provider. Usually set via
	// ${OPENAI_API_KEY} style expansion.
	APIKey string `yaml:"api_key" json:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible
	// servers, Ollama address).
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// MaxTokens caps response length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens,omitempty"`

	// Temperature, when set, overrides the provider default.
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`

	// Timeout bounds a single model request.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// MaxRetries caps retries on 429/5xx responses.
	MaxRetries int `yaml:"max_retries" json:"max_retries,omitempty"`
}

// LoggerConfig configures process logging.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is one of simple, verbose, json.
	Format string `yaml:"format" json:"format"`

	// File, when set, appends logs to the given path instead of
	// stderr.
	File string `yaml:"file" json:"file,omitempty"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	// Backend is memory (default) or sql.
	Backend string `yaml:"backend" json:"backend"`

	// Driver is the database/sql driver for the sql backend:
	// sqlite3, postgres or mysql.
	Driver string `yaml:"driver" json:"driver,omitempty"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn,omitempty"`
}

// AuthConfig configures JWT validation on the server.
type AuthConfig struct {
	// Enabled turns authentication on. Off by default: the dev
	// server is meant for local use.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// JWKSURL is where signing keys are fetched from.
	JWKSURL string `yaml:"jwks_url" json:"jwks_url,omitempty"`

	// Issuer, when set, must match the token iss claim.
	Issuer string `yaml:"issuer" json:"issuer,omitempty"`

	// Audience, when set, must be present in the token aud claim.
	Audience string `yaml:"audience" json:"audience,omitempty"`
}

// RateLimitConfig configures server-side request throttling.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RPS is the sustained requests-per-second budget per client.
	RPS float64 `yaml:"rps" json:"rps,omitempty"`

	// Burst is the short-term burst allowance.
	Burst int `yaml:"burst" json:"burst,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	// Enabled turns the observability stack on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ServiceName reported on traces and metrics.
	ServiceName string `yaml:"service_name" json:"service_name,omitempty"`

	// MetricsEnabled exposes /metrics in prometheus format.
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`

	// TracingEnabled emits OTLP traces.
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled"`

	// OTLPEndpoint is the trace collector address. Empty with
	// tracing enabled falls back to a stdout exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint,omitempty"`
}

// Model providers accepted by ModelConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Session backends accepted by SessionConfig.Backend.
const (
	SessionBackendMemory = "memory"
	SessionBackendSQL    = "sql"
)

// SetDefaults fills zero values on every section.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Model.Provider == "" {
		c.Model.Provider = ProviderOpenAI
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}

	if c.Session.Backend == "" {
		c.Session.Backend = SessionBackendMemory
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS == 0 {
			c.RateLimit.RPS = 10
		}
		if c.RateLimit.Burst == 0 {
			c.RateLimit.Burst = 20
		}
	}

	if c.Observability.Enabled && c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "maestro"
	}
}

// Validate rejects inconsistent configuration. Call after SetDefaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("model: unknown provider %q", c.Model.Provider)
	}

	switch c.Logger.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logger: unknown level %q", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("logger: unknown format %q", c.Logger.Format)
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendSQL:
		switch c.Session.Driver {
		case "sqlite3", "postgres", "mysql":
		default:
			return fmt.Errorf("session: unknown sql driver %q", c.Session.Driver)
		}
		if c.Session.DSN == "" {
			return fmt.Errorf("session: dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("session: unknown backend %q", c.Session.Backend)
	}

	if c.Auth.Enabled && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth: jwks_url is required when auth is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate_limit: rps must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit: burst must be positive")
		}
	}

	return nil
}
