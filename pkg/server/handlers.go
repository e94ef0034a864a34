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

package server

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/maestro/pkg/config"
)

// webUIHTML is the single-file browser UI served at the root path.
//
//go:embed static/index.html
var webUIHTML []byte

// entityInfo is one row in the discovery listing.
type entityInfo struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

func (s *Server) handleWebUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(webUIHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSchema returns the config JSON schema, generated on demand so
// it always matches the running binary.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Maestro Configuration Schema"
	schema.Description = "Configuration schema for the maestro dev server"

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		slog.Error("failed to encode schema", "error", err)
		http.Error(w, "failed to generate schema", http.StatusInternalServerError)
	}
}

// handleDefaultCard serves the first entity's card at the server-level
// well-known path. Single-entity clients expect this.
func (s *Server) handleDefaultCard(w http.ResponseWriter, r *http.Request) {
	if len(s.entities) == 0 {
		http.Error(w, "no entities configured", http.StatusNotFound)
		return
	}
	s.cardHandlers[s.entities[0].ID].ServeHTTP(w, r)
}

// handleListEntities lists every served entity in registration order.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	infos := make([]entityInfo, 0, len(s.entities))
	for _, entity := range s.entities {
		infos = append(infos, entityInfo{
			ID:          entity.ID,
			Kind:        entity.Kind,
			Name:        entity.Agent.Name(),
			Description: entity.Agent.Description(),
			URL:         s.cards[entity.ID].URL,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entities": infos,
		"total":    len(infos),
	})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	handler, ok := s.cardHandlers[name]
	if !ok {
		http.Error(w, "entity not found: "+name, http.StatusNotFound)
		return
	}
	handler.ServeHTTP(w, r)
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	handler, ok := s.jsonrpcHandlers[name]
	if !ok {
		http.Error(w, "entity not found: "+name, http.StatusNotFound)
		return
	}
	handler.ServeHTTP(w, r)
}

// corsMiddleware allows cross-origin requests from the configured
// origins, or from anywhere when none are configured.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := s.cfg.Server.AllowedOrigins

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" {
			for _, a := range allowed {
				if a == "*" || a == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request. It deliberately does not wrap
// the ResponseWriter so http.Flusher stays visible to SSE handlers.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
