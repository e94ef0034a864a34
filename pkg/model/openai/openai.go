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

// Package openai implements model.LLM over the OpenAI Chat
// Completions API.
//
// A BaseURL override makes the client work against any
// OpenAI-compatible endpoint (Azure OpenAI deployments, local
// gateways, proxies), which is how the sample entities share one chat
// client across providers.
package openai

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
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the OpenAI client.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model is the model name, defaults to gpt-4o.
	Model string

	// BaseURL overrides the API endpoint for OpenAI-compatible
	// servers.
	BaseURL string

	// MaxTokens caps the response length.
	MaxTokens int

	// Temperature, when set, overrides the provider default.
	Temperature *float64

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries caps retry attempts on 429/5xx.
	MaxRetries int
}

// Client calls the OpenAI Chat Completions API.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
}

// New creates an OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
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
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
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

// Provider returns model.ProviderOpenAI.
func (c *Client) Provider() model.Provider { return model.ProviderOpenAI }

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

// Wire types for the Chat Completions API.

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Tools         []chatTool     `json:"tools,omitempty"`
	ToolChoice    string         `json:"tool_choice,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolCallFunc `json:"function"`
}

type chatToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChunk struct {
	Choices []chunkChoice `json:"choices"`
	Usage   *chatUsage    `json:"usage"`
}

type chunkChoice struct {
	Delta        chunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type chunkDelta struct {
	Content   string           `json:"content"`
	ToolCalls []chunkToolDelta `json:"tool_calls"`
}

type chunkToolDelta struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Function chatToolCallFunc `json:"function"`
}

// generate performs a non-streaming call.
func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	choice := apiResp.Choices[0]

	var parts []a2a.Part
	if choice.Message.Content != "" {
		parts = append(parts, a2a.TextPart{Text: choice.Message.Content})
	}

	var toolCalls []tool.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		call := tool.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: decodeArgs(tc.Function.Arguments)}
		toolCalls = append(toolCalls, call)
		parts = append(parts, a2a.DataPart{Data: map[string]any{
			"type":      "tool_use",
			"id":        call.ID,
			"name":      call.Name,
			"arguments": call.Args,
		}})
	}

	out := &model.Response{
		Content:      &model.Content{Parts: parts, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		ToolCalls:    toolCalls,
		FinishReason: mapFinishReason(choice.FinishReason, len(toolCalls) > 0),
	}
	if apiResp.Usage != nil {
		out.Usage = &model.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// generateStream performs a streaming call, folding SSE chunks
// through the shared aggregator.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		agg := model.NewStreamingAggregator()
		pending := newToolCallAssembler()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("openai: stream read: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))
			if bytes.Equal(data, []byte("[DONE]")) {
				break
			}

			var chunk chatChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				slog.Debug("skipping malformed stream chunk", "error", err)
				continue
			}

			if chunk.Usage != nil {
				agg.SetUsage(&model.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				})
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			for _, tc := range choice.Delta.ToolCalls {
				pending.add(tc)
			}
			if choice.Delta.Content != "" {
				for r, err := range agg.ProcessTextDelta(choice.Delta.Content) {
					if !yield(r, err) {
						return
					}
				}
			}
			if choice.FinishReason != "" {
				for _, tc := range pending.complete() {
					for r, err := range agg.ProcessToolCall(tc) {
						if !yield(r, err) {
							return
						}
					}
				}
				agg.SetFinishReason(mapFinishReason(choice.FinishReason, false))
			}
		}

		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// toolCallAssembler accumulates streamed tool-call fragments by index.
type toolCallAssembler struct {
	order []int
	calls map[int]*partialToolCall
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{calls: make(map[int]*partialToolCall)}
}

func (a *toolCallAssembler) add(delta chunkToolDelta) {
	pc, ok := a.calls[delta.Index]
	if !ok {
		pc = &partialToolCall{}
		a.calls[delta.Index] = pc
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		pc.id = delta.ID
	}
	if delta.Function.Name != "" {
		pc.name = delta.Function.Name
	}
	pc.args.WriteString(delta.Function.Arguments)
}

func (a *toolCallAssembler) complete() []tool.ToolCall {
	var out []tool.ToolCall
	for _, idx := range a.order {
		pc := a.calls[idx]
		if pc.name == "" {
			continue
		}
		out = append(out, tool.ToolCall{
			ID:   pc.id,
			Name: pc.name,
			Args: decodeArgs(pc.args.String()),
		})
	}
	a.order = nil
	a.calls = make(map[int]*partialToolCall)
	return out
}

// post marshals and sends an API request.
func (c *Client) post(ctx context.Context, apiReq *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr, readErr := io.ReadAll(resp.Body); readErr == nil && len(apiErr) > 0 {
				return nil, fmt.Errorf("openai: request failed: %w: %s", err, apiErr)
			}
		}
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai: API error (status %d): %s", resp.StatusCode, apiErr)
	}
	return resp, nil
}

// buildRequest converts a model.Request to the wire format.
func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:  c.modelName,
		Stream: stream,
	}
	if stream {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	maxTokens := c.maxTokens
	apiReq.MaxTokens = &maxTokens
	apiReq.Temperature = c.temperature

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			apiReq.Temperature = cfg.Temperature
		}
		if cfg.TopP != nil {
			apiReq.TopP = cfg.TopP
		}
		if cfg.MaxTokens != nil {
			apiReq.MaxTokens = cfg.MaxTokens
		}
		apiReq.Stop = cfg.StopSequences
	}

	if req.SystemInstruction != "" {
		apiReq.Messages = append(apiReq.Messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	apiReq.Messages = append(apiReq.Messages, convertMessages(req.Messages)...)

	for _, def := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = "auto"
	}
	return apiReq
}

// convertMessages flattens a2a messages into chat messages. Tool use
// parts become assistant tool_calls; tool results become role "tool"
// messages referencing the originating call.
func convertMessages(messages []*a2a.Message) []chatMessage {
	var out []chatMessage
	for _, msg := range messages {
		if msg == nil {
			continue
		}

		role := "user"
		if msg.Role == a2a.MessageRoleAgent {
			role = "assistant"
		}

		var text strings.Builder
		var toolCalls []chatToolCall
		var toolResults []chatMessage

		for _, part := range msg.Parts {
			switch p := part.(type) {
			case a2a.TextPart:
				text.WriteString(p.Text)
			case a2a.DataPart:
				switch p.Data["type"] {
				case "tool_use":
					id, _ := p.Data["id"].(string)
					name, _ := p.Data["name"].(string)
					args, _ := p.Data["arguments"].(map[string]any)
					argsJSON, err := json.Marshal(args)
					if err != nil {
						argsJSON = []byte("{}")
					}
					toolCalls = append(toolCalls, chatToolCall{
						ID:   id,
						Type: "function",
						Function: chatToolCallFunc{
							Name:      name,
							Arguments: string(argsJSON),
						},
					})
				case "tool_result":
					callID, _ := p.Data["tool_call_id"].(string)
					content, _ := p.Data["content"].(string)
					toolResults = append(toolResults, chatMessage{
						Role:       "tool",
						Content:    content,
						ToolCallID: callID,
					})
				}
			}
		}

		if text.Len() > 0 || len(toolCalls) > 0 {
			out = append(out, chatMessage{
				Role:      role,
				Content:   text.String(),
				ToolCalls: toolCalls,
			})
		}
		out = append(out, toolResults...)
	}
	return out
}

func decodeArgs(raw string) map[string]any {
	args := make(map[string]any)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return make(map[string]any)
	}
	return args
}

func mapFinishReason(reason string, hasToolCalls bool) model.FinishReason {
	if hasToolCalls {
		return model.FinishReasonToolCalls
	}
	switch reason {
	case "stop":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "tool_calls":
		return model.FinishReasonToolCalls
	case "content_filter":
		return model.FinishReasonContent
	}
	return model.FinishReasonStop
}

var _ model.LLM = (*Client)(nil)
