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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// runRequest is the body of POST /v1/entities/{id}/run.
type runRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// runEventView is one streamed event on the run endpoint.
type runEventView struct {
	EventID      string           `json:"event_id"`
	Author       string           `json:"author"`
	Branch       string           `json:"branch,omitempty"`
	Partial      bool             `json:"partial"`
	TurnComplete bool             `json:"turn_complete"`
	Text         string           `json:"text,omitempty"`
	ToolCalls    []toolCallView   `json:"tool_calls,omitempty"`
	ToolResults  []toolResultView `json:"tool_results,omitempty"`
	StateDelta   map[string]any   `json:"state_delta,omitempty"`
}

type toolCallView struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status"`
}

type toolResultView struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	IsError    bool   `json:"is_error"`
}

// handleRun streams a single run over server-sent events. This is the
// interactive dev loop: the web UI and curl both speak it directly,
// without the JSON-RPC envelope.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.runners.Get(id)
	if !ok {
		http.Error(w, "entity not found: "+id, http.StatusNotFound)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, flusher, "session", map[string]string{
		"entity_id":  id,
		"user_id":    req.UserID,
		"session_id": req.SessionID,
	})

	content := agent.NewTextContent(req.Message, a2a.MessageRoleUser)
	runConfig := agent.RunConfig{StreamingMode: agent.StreamingModeSSE}

	for event, err := range run.Run(r.Context(), req.UserID, req.SessionID, content, runConfig) {
		if err != nil {
			slog.Error("run failed", "entity", id, "error", err)
			writeSSE(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		writeSSE(w, flusher, "message", toRunEventView(event))
	}

	writeSSE(w, flusher, "done", map[string]string{"session_id": req.SessionID})
}

func toRunEventView(event *agent.Event) runEventView {
	view := runEventView{
		EventID:      event.ID,
		Author:       event.Author,
		Branch:       event.Branch,
		Partial:      event.Partial,
		TurnComplete: event.TurnComplete,
		Text:         event.TextContent(),
		StateDelta:   event.Actions.StateDelta,
	}

	for _, tc := range event.ToolCalls {
		view.ToolCalls = append(view.ToolCalls, toolCallView{
			ID:     tc.ID,
			Name:   tc.Name,
			Args:   tc.Args,
			Status: tc.Status,
		})
	}
	for _, tr := range event.ToolResults {
		view.ToolResults = append(view.ToolResults, toolResultView{
			ToolCallID: tr.ToolCallID,
			Content:    tr.Content,
			Status:     tr.Status,
			IsError:    tr.IsError,
		})
	}

	return view
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal sse payload", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
