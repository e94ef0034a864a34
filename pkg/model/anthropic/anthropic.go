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

// Package anthropic implements model.LLM over the Anthropic Messages
// API.
//
// Anthropic requires tool results to appear in a user message
// immediately following the assistant message that carried the
// matching tool_use block; the message converter preserves that
// pairing.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/maestro/pkg/httpclient"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
	apiVersion       = "2023-06-01"
)

// Config configures the Anthropic client.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model is the model name, defaults to claude-sonnet-4-5.
	Model string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// MaxTokens caps the response length. The Messages API requires
	// a value; defaults to 4096.
	MaxTokens int

	// Temperature, when set, overrides the provider default.
	Temperature *float64

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries caps retry attempts on 429/5xx.
	MaxRetries int
}

// Client calls the Anthropic Messages API.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
}

// New creates an Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string { return c.modelName }

// Provider returns model.ProviderAnthropic.
func (c *Client) Provider() model.Provider { return model.ProviderAnthropic }

// Close releases resources.
func (c *Client) Close() error { return nil }

// GenerateContent produces responses for the given request.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

// Wire types for the Messages API.

type apiRequest struct {
	Model         string       `json:"model"`
	MaxTokens     int          `json:"max_tokens"`
	Messages      []apiMessage `json:"messages"`
	System        string       `json:"system,omitempty"`
	Tools         []apiTool    `json:"tools,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	TopK          *int         `json:"top_k,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      *apiUsage    `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock *apiContent     `json:"content_block"`
	Delta        *streamDelta    `json:"delta"`
	Usage        *apiUsage       `json:"usage"`
	Message      json.RawMessage `json:"message"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

// generate performs a non-streaming call.
func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var parts []a2a.Part
	var toolCalls []tool.ToolCall
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, a2a.TextPart{Text: block.Text})
		case "tool_use":
			args := block.Input
			if args == nil {
				args = make(map[string]any)
			}
			toolCalls = append(toolCalls, tool.ToolCall{ID: block.ID, Name: block.Name, Args: args})
			parts = append(parts, a2a.DataPart{Data: map[string]any{
				"type":      "tool_use",
				"id":        block.ID,
				"name":      block.Name,
				"arguments": args,
			}})
		}
	}

	out := &model.Response{
		Content:      &model.Content{Parts: parts, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		ToolCalls:    toolCalls,
		FinishReason: mapStopReason(apiResp.StopReason, len(toolCalls) > 0),
	}
	if apiResp.Usage != nil {
		out.Usage = &model.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}
	return out, nil
}

// blockState tracks an in-flight content block during streaming.
type blockState struct {
	blockType string
	toolID    string
	toolName  string
	inputJSON strings.Builder
}

// generateStream performs a streaming call.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		agg := model.NewStreamingAggregator()
		blocks := make(map[int]*blockState)
		var usage apiUsage

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("anthropic: stream read: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &event); err != nil {
				slog.Debug("skipping malformed stream event", "error", err)
				continue
			}

			switch event.Type {
			case "message_start":
				// Input token usage arrives with the message envelope.
				var envelope struct {
					Usage *apiUsage `json:"usage"`
				}
				if len(event.Message) > 0 && json.Unmarshal(event.Message, &envelope) == nil && envelope.Usage != nil {
					usage.InputTokens = envelope.Usage.InputTokens
				}

			case "content_block_start":
				if event.ContentBlock == nil {
					continue
				}
				state := &blockState{blockType: event.ContentBlock.Type}
				if event.ContentBlock.Type == "tool_use" {
					state.toolID = event.ContentBlock.ID
					state.toolName = event.ContentBlock.Name
				}
				blocks[event.Index] = state

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				switch event.Delta.Type {
				case "text_delta":
					for r, err := range agg.ProcessTextDelta(event.Delta.Text) {
						if !yield(r, err) {
							return
						}
					}
				case "input_json_delta":
					if state, ok := blocks[event.Index]; ok {
						state.inputJSON.WriteString(event.Delta.PartialJSON)
					}
				}

			case "content_block_stop":
				state, ok := blocks[event.Index]
				if !ok || state.blockType != "tool_use" {
					continue
				}
				args := make(map[string]any)
				if raw := state.inputJSON.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &args); err != nil {
						args = make(map[string]any)
					}
				}
				tc := tool.ToolCall{ID: state.toolID, Name: state.toolName, Args: args}
				for r, err := range agg.ProcessToolCall(tc) {
					if !yield(r, err) {
						return
					}
				}
				delete(blocks, event.Index)

			case "message_delta":
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					agg.SetFinishReason(mapStopReason(event.Delta.StopReason, false))
				}

			case "message_stop":
				// Final event; usage is already collected.
			}
		}

		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			agg.SetUsage(&model.Usage{
				PromptTokens:     usage.InputTokens,
				CompletionTokens: usage.OutputTokens,
				TotalTokens:      usage.InputTokens + usage.OutputTokens,
			})
		}
		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// post marshals and sends an API request.
func (c *Client) post(ctx context.Context, apiReq *apiRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr, readErr := io.ReadAll(resp.Body); readErr == nil && len(apiErr) > 0 {
				return nil, fmt.Errorf("anthropic: request failed: %w: %s", err, apiErr)
			}
		}
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic: API error (status %d): %s", resp.StatusCode, apiErr)
	}
	return resp, nil
}

// buildRequest converts a model.Request to the wire format.
func (c *Client) buildRequest(req *model.Request, stream bool) *apiRequest {
	apiReq := &apiRequest{
		Model:       c.modelName,
		MaxTokens:   c.maxTokens,
		System:      req.SystemInstruction,
		Temperature: c.temperature,
		Stream:      stream,
		Messages:    convertMessages(req.Messages),
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			apiReq.Temperature = cfg.Temperature
		}
		if cfg.TopP != nil {
			apiReq.TopP = cfg.TopP
		}
		if cfg.TopK != nil {
			apiReq.TopK = cfg.TopK
		}
		if cfg.MaxTokens != nil {
			apiReq.MaxTokens = *cfg.MaxTokens
		}
		apiReq.StopSequences = cfg.StopSequences
	}

	for _, def := range req.Tools {
		schema := def.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return apiReq
}

// convertMessages maps a2a messages into Messages API form. Tool
// results become tool_result blocks in user messages, keeping the
// use/result pairing the API requires.
func convertMessages(messages []*a2a.Message) []apiMessage {
	var out []apiMessage
	for _, msg := range messages {
		if msg == nil {
			continue
		}

		role := "user"
		if msg.Role == a2a.MessageRoleAgent {
			role = "assistant"
		}

		var content []apiContent
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case a2a.TextPart:
				if p.Text != "" {
					content = append(content, apiContent{Type: "text", Text: p.Text})
				}
			case a2a.DataPart:
				switch p.Data["type"] {
				case "tool_use":
					id, _ := p.Data["id"].(string)
					name, _ := p.Data["name"].(string)
					args, _ := p.Data["arguments"].(map[string]any)
					if args == nil {
						args = make(map[string]any)
					}
					content = append(content, apiContent{Type: "tool_use", ID: id, Name: name, Input: args})
				case "tool_result":
					callID, _ := p.Data["tool_call_id"].(string)
					result, _ := p.Data["content"].(string)
					isError, _ := p.Data["is_error"].(bool)
					content = append(content, apiContent{
						Type:      "tool_result",
						ToolUseID: callID,
						Content:   result,
						IsError:   isError,
					})
				}
			}
		}
		if len(content) == 0 {
			continue
		}

		// Merge consecutive same-role messages; the API rejects them.
		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content = append(out[len(out)-1].Content, content...)
			continue
		}
		out = append(out, apiMessage{Role: role, Content: content})
	}
	return out
}

func mapStopReason(reason string, hasToolCalls bool) model.FinishReason {
	if hasToolCalls {
		return model.FinishReasonToolCalls
	}
	switch reason {
	case "end_turn", "stop_sequence":
		return model.FinishReasonStop
	case "max_tokens":
		return model.FinishReasonLength
	case "tool_use":
		return model.FinishReasonToolCalls
	}
	return model.FinishReasonStop
}

var _ model.LLM = (*Client)(nil)
