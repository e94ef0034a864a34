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

// Package factory builds model clients from configuration. It lives
// apart from pkg/model so the provider packages can keep importing
// pkg/model without a cycle.
package factory

import (
	"fmt"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/model/anthropic"
	"github.com/kadirpekel/maestro/pkg/model/gemini"
	"github.com/kadirpekel/maestro/pkg/model/ollama"
	"github.com/kadirpekel/maestro/pkg/model/openai"
)

// New builds the model client a config section describes. Empty API
// keys fall back to the provider's environment variable.
func New(cfg config.ModelConfig) (model.LLM, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = config.ProviderAPIKey(cfg.Provider)
	}

	switch cfg.Provider {
	case "", config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:      apiKey,
			Model:       cfg.Name,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
		})
	case config.ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:      apiKey,
			Model:       cfg.Name,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
		})
	case config.ProviderGemini:
		gcfg := gemini.Config{
			APIKey:    apiKey,
			Model:     cfg.Name,
			MaxTokens: cfg.MaxTokens,
		}
		if cfg.Temperature != nil {
			gcfg.Temperature = *cfg.Temperature
		}
		return gemini.New(gcfg)
	case config.ProviderOllama:
		return ollama.New(ollama.Config{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// FromEnv builds a model client from MODEL_PROVIDER and MODEL_NAME
// plus the provider's API key variable, for the runnable examples.
func FromEnv() (model.LLM, error) {
	cfg := config.ModelConfig{
		Provider: config.Getenv("MODEL_PROVIDER", config.ProviderOpenAI),
		Name:     config.Getenv("MODEL_NAME", ""),
	}
	return New(cfg)
}
