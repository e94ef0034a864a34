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

// Package server exposes agents and workflows on a local development
// server speaking the A2A protocol, with a browser UI, discovery
// endpoints, and a streaming run endpoint for the edit-run loop.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/maestro"
	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/auth"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/observability"
	"github.com/kadirpekel/maestro/pkg/ratelimit"
	"github.com/kadirpekel/maestro/pkg/registry"
	"github.com/kadirpekel/maestro/pkg/runner"
	"github.com/kadirpekel/maestro/pkg/session"
)

// Server serves a set of entities over HTTP. Each entity gets its own
// runner, A2A executor, and agent card.
type Server struct {
	cfg      *config.Config
	entities []*Entity
	byID     *registry.Registry[*Entity]

	sessions     session.Service
	ownsSessions bool

	taskStore a2asrv.TaskStore
	validator *auth.Validator
	obs       *observability.Manager
	limiter   *ratelimit.Limiter

	runners         *registry.Registry[*runner.Runner]
	jsonrpcHandlers map[string]http.Handler
	cardHandlers    map[string]http.Handler
	cards           map[string]*a2a.AgentCard

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithTaskStore sets a persistent task store. Without it a2a-go keeps
// tasks in memory.
func WithTaskStore(store a2asrv.TaskStore) Option {
	return func(s *Server) { s.taskStore = store }
}

// WithAuthValidator enables JWT auth on the invocation endpoints.
func WithAuthValidator(v *auth.Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithObservability sets the tracing and metrics manager.
func WithObservability(m *observability.Manager) Option {
	return func(s *Server) { s.obs = m }
}

// WithRateLimiter enables per-client rate limiting.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithSessionService overrides the session store built from config.
func WithSessionService(svc session.Service) Option {
	return func(s *Server) { s.sessions = svc }
}

// New builds a server for the given entities.
func New(cfg *config.Config, entities []*Entity, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()

	if len(entities) == 0 {
		return nil, fmt.Errorf("at least one entity is required")
	}

	s := &Server{
		cfg:             cfg,
		entities:        entities,
		byID:            registry.New[*Entity](),
		runners:         registry.New[*runner.Runner](),
		jsonrpcHandlers: make(map[string]http.Handler),
		cardHandlers:    make(map[string]http.Handler),
		cards:           make(map[string]*a2a.AgentCard),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sessions == nil {
		svc, owns, err := buildSessionService(cfg.Session)
		if err != nil {
			return nil, err
		}
		s.sessions = svc
		s.ownsSessions = owns
	}

	if err := s.buildEntityHandlers(); err != nil {
		return nil, err
	}

	return s, nil
}

func buildSessionService(cfg config.SessionConfig) (session.Service, bool, error) {
	switch cfg.Backend {
	case "", config.SessionBackendMemory:
		return session.InMemory(), false, nil
	case config.SessionBackendSQL:
		dialect := cfg.Driver
		if dialect == "sqlite3" {
			dialect = session.DialectSQLite
		}
		svc, err := session.OpenSQL(dialect, cfg.DSN)
		if err != nil {
			return nil, false, fmt.Errorf("open session store: %w", err)
		}
		return svc, true, nil
	default:
		return nil, false, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func (s *Server) buildEntityHandlers() error {
	baseURL := "http://" + s.Address()

	for _, entity := range s.entities {
		if err := entity.validate(); err != nil {
			return err
		}
		if err := s.byID.Register(entity.ID, entity); err != nil {
			return fmt.Errorf("duplicate entity id %q", entity.ID)
		}

		r, err := runner.New(runner.Config{
			AppName:        entity.ID,
			Agent:          entity.Agent,
			SessionService: s.sessions,
		})
		if err != nil {
			return fmt.Errorf("entity %q: %w", entity.ID, err)
		}
		if err := s.runners.Register(entity.ID, r); err != nil {
			return fmt.Errorf("entity %q: %w", entity.ID, err)
		}

		card := s.buildAgentCard(entity, baseURL+"/agents/"+entity.ID)
		s.cards[entity.ID] = card

		executor := NewExecutor(r, s.sessions, agent.RunConfig{StreamingMode: agent.StreamingModeSSE})

		var handlerOpts []a2asrv.RequestHandlerOption
		if s.taskStore != nil {
			handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(s.taskStore))
		}
		requestHandler := a2asrv.NewHandler(executor, handlerOpts...)

		s.jsonrpcHandlers[entity.ID] = a2asrv.NewJSONRPCHandler(requestHandler)
		s.cardHandlers[entity.ID] = a2asrv.NewStaticAgentCardHandler(card)
	}

	return nil
}

// buildAgentCard creates an A2A-compliant card for one entity.
func (s *Server) buildAgentCard(entity *Entity, url string) *a2a.AgentCard {
	card := &a2a.AgentCard{
		Name:               entity.Agent.Name(),
		Description:        entity.Agent.Description(),
		URL:                url,
		Version:            maestro.Version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          entity.ID,
			Name:        entity.Agent.Name(),
			Description: entity.Agent.Description(),
			Tags:        []string{string(entity.Kind)},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "Maestro",
			URL: "https://github.com/kadirpekel/maestro",
		},
	}

	if s.validator != nil {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}

	return card
}

// Address returns the host:port the server binds to.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Handler assembles the route tree and middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Outermost first: observability wraps everything so every request
	// is traced and measured.
	if s.obs != nil {
		r.Use(s.obs.Middleware)
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/", s.handleWebUI)
	r.Get("/health", s.handleHealth)

	if s.obs != nil {
		if metrics := s.obs.MetricsHandler(); metrics != nil {
			r.Handle("/metrics", metrics)
		}
	}

	r.Get("/api/schema", s.handleSchema)

	// Discovery stays public: cards advertise how to authenticate.
	r.Get(a2asrv.WellKnownAgentCardPath, s.handleDefaultCard)
	r.Get("/v1/entities", s.handleListEntities)

	r.Route("/agents/{name}", func(r chi.Router) {
		r.Get("/", s.handleAgentCard)
		r.Get("/.well-known/agent-card.json", s.handleAgentCard)
		r.Group(func(r chi.Router) {
			if s.validator != nil {
				r.Use(s.validator.Middleware)
			}
			r.Post("/", s.handleJSONRPC)
		})
	})

	r.Group(func(r chi.Router) {
		if s.validator != nil {
			r.Use(s.validator.Middleware)
		}
		r.Post("/v1/entities/{id}/run", s.handleRun)
	})

	return r
}

// Start runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("server starting", "address", s.Address(), "entities", len(s.entities))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		slog.Info("server shutting down")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	if s.ownsSessions {
		if closer, ok := s.sessions.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close session store: %w", err)
			}
		}
	}

	return firstErr
}

// Serve is the one-call boot used by the sample mains: build a server
// for the entities and run it until ctx is canceled.
func Serve(ctx context.Context, cfg *config.Config, entities ...*Entity) error {
	s, err := New(cfg, entities)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}
