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

package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/model"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	c, err := New(Config{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderAnthropic, c.Provider())
}

func TestGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var apiReq apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&apiReq))
		assert.Equal(t, "You are terse.", apiReq.System)
		assert.NotZero(t, apiReq.MaxTokens)

		json.NewEncoder(w).Encode(apiResponse{
			Content:    []apiContent{{Type: "text", Text: "short answer"}},
			StopReason: "end_turn",
			Usage:      &apiUsage{InputTokens: 12, OutputTokens: 3},
		})
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)

	req := &model.Request{
		SystemInstruction: "You are terse.",
		Messages:          []*a2a.Message{a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"})},
	}

	var responses []*model.Response
	for resp, err := range c.GenerateContent(context.Background(), req, false) {
		require.NoError(t, err)
		responses = append(responses, resp)
	}
	require.Len(t, responses, 1)

	resp := responses[0]
	assert.Equal(t, "short answer", resp.TextContent())
	assert.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGenerateToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{
			Content: []apiContent{
				{Type: "text", Text: "checking"},
				{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: map[string]any{"location": "Berlin"}},
			},
			StopReason: "tool_use",
		})
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*a2a.Message{a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "weather in Berlin"})},
	}

	for resp, err := range c.GenerateContent(context.Background(), req, false) {
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
		assert.Equal(t, "Berlin", resp.ToolCalls[0].Args["location"])
		assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":9}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*a2a.Message{a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"})},
	}

	var responses []*model.Response
	for resp, err := range c.GenerateContent(context.Background(), req, true) {
		require.NoError(t, err)
		responses = append(responses, resp)
	}
	require.Len(t, responses, 3)

	assert.True(t, responses[0].Partial)
	assert.True(t, responses[1].Partial)

	final := responses[2]
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello", final.TextContent())
	require.NotNil(t, final.Usage)
	assert.Equal(t, 11, final.Usage.TotalTokens)
}

func TestGenerateStreamToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"get_time"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"}"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
			`{"type":"message_stop"}`,
		}
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*a2a.Message{a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "time?"})},
	}

	var final *model.Response
	for resp, err := range c.GenerateContent(context.Background(), req, true) {
		require.NoError(t, err)
		final = resp
	}
	require.NotNil(t, final)
	assert.False(t, final.Partial)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "toolu_9", final.ToolCalls[0].ID)
	assert.Equal(t, "get_time", final.ToolCalls[0].Name)
}

func TestConvertMessagesPairsToolResults(t *testing.T) {
	messages := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "weather?"}),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.DataPart{Data: map[string]any{
			"type":      "tool_use",
			"id":        "toolu_1",
			"name":      "get_weather",
			"arguments": map[string]any{"location": "Oslo"},
		}}),
		a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{Data: map[string]any{
			"type":         "tool_result",
			"tool_call_id": "toolu_1",
			"content":      "cloudy",
		}}),
	}

	converted := convertMessages(messages)
	require.Len(t, converted, 3)
	assert.Equal(t, "assistant", converted[1].Role)
	assert.Equal(t, "tool_use", converted[1].Content[0].Type)
	assert.Equal(t, "user", converted[2].Role)
	assert.Equal(t, "tool_result", converted[2].Content[0].Type)
	assert.Equal(t, "toolu_1", converted[2].Content[0].ToolUseID)
}

func TestConvertMessagesMergesSameRole(t *testing.T) {
	messages := []*a2a.Message{
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "one"}),
		a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "two"}),
	}

	converted := convertMessages(messages)
	require.Len(t, converted, 1)
	assert.Len(t, converted[0].Content, 2)
}
