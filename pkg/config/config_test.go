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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "simple", cfg.Logger.Format)
	assert.Equal(t, SessionBackendMemory, cfg.Session.Backend)
}

func TestRateLimitDefaultsOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	assert.Zero(t, cfg.RateLimit.RPS)

	cfg = &Config{RateLimit: RateLimitConfig{Enabled: true}}
	cfg.SetDefaults()
	assert.Equal(t, float64(10), cfg.RateLimit.RPS)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port 70000 out of range",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Model.Provider = "bard" },
			wantErr: `unknown provider "bard"`,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logger.Level = "loud" },
			wantErr: `unknown level "loud"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logger.Format = "xml" },
			wantErr: `unknown format "xml"`,
		},
		{
			name: "sql backend needs driver",
			mutate: func(c *Config) {
				c.Session.Backend = SessionBackendSQL
				c.Session.Driver = "oracle"
			},
			wantErr: `unknown sql driver "oracle"`,
		},
		{
			name: "sql backend needs dsn",
			mutate: func(c *Config) {
				c.Session.Backend = SessionBackendSQL
				c.Session.Driver = "sqlite3"
			},
			wantErr: "dsn is required",
		},
		{
			name:    "auth needs jwks url",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "jwks_url is required",
		},
		{
			name: "rate limit needs positive rps",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.RPS = -1
				c.RateLimit.Burst = 5
			},
			wantErr: "rps must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.SetDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("MAESTRO_TEST_KEY", "sk-123")
	t.Setenv("MAESTRO_TEST_HOST", "example.com")
	os.Unsetenv("MAESTRO_TEST_MISSING")

	in := map[string]any{
		"api_key": "${MAESTRO_TEST_KEY}",
		"host":    "$MAESTRO_TEST_HOST",
		"port":    "${MAESTRO_TEST_MISSING:-8090}",
		"list":    []any{"${MAESTRO_TEST_KEY}", "plain"},
		"nested":  map[string]any{"key": "${MAESTRO_TEST_KEY}"},
		"number":  42,
	}

	out, ok := ExpandEnv(in).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sk-123", out["api_key"])
	assert.Equal(t, "example.com", out["host"])
	assert.Equal(t, "8090", out["port"])
	assert.Equal(t, []any{"sk-123", "plain"}, out["list"])
	assert.Equal(t, map[string]any{"key": "sk-123"}, out["nested"])
	assert.Equal(t, 42, out["number"])
}

func TestLoadFile(t *testing.T) {
	t.Setenv("MAESTRO_TEST_API_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "maestro.yaml")
	data := `
server:
  port: 9000
  shutdown_timeout: 30s
model:
  provider: anthropic
  api_key: ${MAESTRO_TEST_API_KEY}
  timeout: 2m
logger:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, loader, err := LoadFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Model.Timeout)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// Untouched sections still get defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, SessionBackendMemory, cfg.Session.Backend)
}

func TestLoadFileRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  provider: nope\n"), 0644))

	_, _, err := LoadFile(context.Background(), path)
	require.ErrorContains(t, err, `unknown provider "nope"`)
}

func TestLoadFileMissing(t *testing.T) {
	_, _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config file")
}

func TestProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	assert.Equal(t, "sk-openai", ProviderAPIKey(ProviderOpenAI))
	assert.Empty(t, ProviderAPIKey(ProviderOllama))
}
