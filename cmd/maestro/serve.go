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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/maestro/pkg/auth"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/model/factory"
	"github.com/kadirpekel/maestro/pkg/observability"
	"github.com/kadirpekel/maestro/pkg/ratelimit"
	"github.com/kadirpekel/maestro/pkg/samples"
	"github.com/kadirpekel/maestro/pkg/server"
)

// ServeCmd starts the dev server with the bundled sample entities.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	cleanup, err := initLogging(cli, &cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config watch error", "error", err)
			}
		}()
	}

	llm, err := factory.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	defer llm.Close()

	entities, err := samples.Entities(llm)
	if err != nil {
		return fmt.Errorf("failed to build sample entities: %w", err)
	}

	var opts []server.Option

	if cfg.Auth.Enabled {
		validator, err := auth.NewValidator(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return fmt.Errorf("failed to set up auth: %w", err)
		}
		opts = append(opts, server.WithAuthValidator(validator))
		slog.Info("authentication enabled", "jwks_url", cfg.Auth.JWKSURL)
	}

	if cfg.RateLimit.Enabled {
		opts = append(opts, server.WithRateLimiter(
			ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)))
		slog.Info("rate limiting enabled", "rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)
	}

	var obs *observability.Manager
	if cfg.Observability.Enabled {
		obs, err = observability.New(ctx, observability.Config{
			Enabled:        true,
			ServiceName:    cfg.Observability.ServiceName,
			MetricsEnabled: cfg.Observability.MetricsEnabled,
			TracingEnabled: cfg.Observability.TracingEnabled,
			OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to set up observability: %w", err)
		}
		defer func() {
			if err := obs.Shutdown(context.Background()); err != nil {
				slog.Warn("observability shutdown", "error", err)
			}
		}()
		opts = append(opts, server.WithObservability(obs))
	}

	srv, err := server.New(cfg, entities, opts...)
	if err != nil {
		return err
	}

	fmt.Printf("\nMaestro dev server ready\n")
	fmt.Printf("  Web UI:     http://%s\n", srv.Address())
	fmt.Printf("  Discovery:  http://%s/v1/entities\n", srv.Address())
	fmt.Printf("  Health:     http://%s/health\n", srv.Address())
	if obs != nil && cfg.Observability.MetricsEnabled {
		fmt.Printf("  Metrics:    http://%s/metrics\n", srv.Address())
	}
	fmt.Printf("\n  Entities:\n")
	for _, e := range entities {
		fmt.Printf("    - %-18s (%s)  http://%s/agents/%s\n", e.ID, e.Kind, srv.Address(), e.ID)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// loadConfig loads the file when given, defaults otherwise.
func loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadFile(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("loaded configuration", "path", path)
	return cfg, loader, nil
}
