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
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/ratelimit"
	"github.com/kadirpekel/maestro/pkg/workflow"
)

func textAgent(t *testing.T, name, reply string) agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name:        name,
		Description: name + " test agent",
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				event := agent.NewEvent(ctx.InvocationID())
				event.Author = name
				event.Message = agent.NewTextContent(reply, "agent").ToMessage()
				event.TurnComplete = true
				yield(event, nil)
			}
		},
	})
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()

	s, err := New(cfg, []*Entity{
		NewEntity("echo_agent", textAgent(t, "echo", "hello from echo")),
	}, opts...)
	require.NoError(t, err)
	return s
}

func TestNewRequiresEntities(t *testing.T) {
	_, err := New(&config.Config{}, nil)
	assert.ErrorContains(t, err, "at least one entity")
}

func TestNewRejectsDuplicateEntityIDs(t *testing.T) {
	entities := []*Entity{
		NewEntity("twin", textAgent(t, "first", "a")),
		NewEntity("twin", textAgent(t, "second", "b")),
	}
	_, err := New(&config.Config{}, entities)
	assert.ErrorContains(t, err, "duplicate entity id")
}

func TestEntityKindInference(t *testing.T) {
	plain := NewEntity("a", textAgent(t, "a", "x"))
	assert.Equal(t, KindAgent, plain.Kind)

	wf, err := workflow.New("wf").
		SetStartExecutor(workflow.NewAgentExecutor(textAgent(t, "step", "x"))).
		Build()
	require.NoError(t, err)

	wrapped := NewEntity("wf", wf)
	assert.Equal(t, KindWorkflow, wrapped.Kind)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWebUIServed(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<title>Maestro Dev UI</title>")
}

func TestListEntities(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/entities", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entities []entityInfo `json:"entities"`
		Total    int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Entities, 1)
	assert.Equal(t, "echo_agent", body.Entities[0].ID)
	assert.Equal(t, KindAgent, body.Entities[0].Kind)
	assert.Equal(t, "echo", body.Entities[0].Name)
	assert.Contains(t, body.Entities[0].URL, "/agents/echo_agent")
}

func TestAgentCard(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/agents/echo_agent",
		"/agents/echo_agent/.well-known/agent-card.json",
		"/.well-known/agent-card.json",
	} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)

		var card map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
		assert.Equal(t, "echo", card["name"], "path %s", path)
	}
}

func TestAgentCardNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigSchema(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schema", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.Equal(t, "Maestro Configuration Schema", schema["title"])
}

func TestRunStreamsEvents(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"message": "hi there"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/entities/echo_agent/run", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "session", events[0].name)

	var sawReply, sawDone bool
	for _, ev := range events {
		if ev.name == "message" && strings.Contains(ev.data, "hello from echo") {
			sawReply = true
		}
		if ev.name == "done" {
			sawDone = true
		}
	}
	assert.True(t, sawReply, "expected the agent reply in the stream")
	assert.True(t, sawDone, "expected a done event")
}

func TestRunReusesSession(t *testing.T) {
	s := newTestServer(t)

	post := func(body string) []sseEvent {
		req := httptest.NewRequest(http.MethodPost, "/v1/entities/echo_agent/run", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return parseSSE(t, rec.Body.String())
	}

	first := post(`{"message": "one"}`)
	var session struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(first[0].data), &session))
	require.NotEmpty(t, session.SessionID)

	second := post(fmt.Sprintf(`{"message": "two", "session_id": %q}`, session.SessionID))
	var again struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(second[0].data), &again))
	assert.Equal(t, session.SessionID, again.SessionID)
}

func TestRunUnknownEntity(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/entities/nope/run", strings.NewReader(`{"message":"x"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunRequiresMessage(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/entities/echo_agent/run", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiterApplies(t *testing.T) {
	s := newTestServer(t, WithRateLimiter(ratelimit.NewLimiter(1, 1)))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.9:1000"

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/entities", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, raw string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, chunk := range strings.Split(raw, "\n\n") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(chunk, "\n") {
			if after, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = after
			}
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = after
			}
		}
		events = append(events, ev)
	}
	return events
}
