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

// Package ollama implements model.LLM against a local Ollama server.
//
// Ollama streams newline-delimited JSON from /api/chat rather than
// SSE, and does not assign tool-call IDs; the client generates them
// so downstream tool-result pairing works like the hosted providers.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/httpclient"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
	defaultTimeout = 300 * time.Second
)

// Config configures the Ollama client.
type Config struct {
	// BaseURL is the Ollama server address, defaults to
	// http://localhost:11434.
	BaseURL string

	// Model is the local model name, defaults to llama3.2.
	Model string

	// Temperature, when set, overrides the model default.
	Temperature *float64

	// Timeout bounds a single HTTP request. Local generation can be
	// slow, so the default is generous.
	Timeout time.Duration
}

// Client calls a local Ollama server.
type Client struct {
	httpClient  *httpclient.Client
	baseURL     string
	modelName   string
	temperature *float64
}

// New creates an Ollama client. No API key is needed.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(3),
			httpclient.WithHeaderParser(httpclient.ParseOllamaHeaders),
		),
		baseURL:     baseURL,
		modelName:   modelName,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string { return c.modelName }

// Provider returns model.ProviderOllama.
func (c *Client) Provider() model.Provider { return model.ProviderOllama }

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

// Wire types for /api/chat.

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []chatTool     `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
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
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
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
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return c.parseResponse(&apiResp), nil
}

// generateStream reads the NDJSON stream, yielding partials.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		agg := model.NewStreamingAggregator()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield(nil, fmt.Errorf("ollama: decode stream chunk: %w", err))
				return
			}

			if chunk.Message.Content != "" {
				for r, err := range agg.ProcessTextDelta(chunk.Message.Content) {
					if !yield(r, err) {
						return
					}
				}
			}
			for _, tc := range chunk.Message.ToolCalls {
				call := tool.ToolCall{
					ID:   "call_" + uuid.NewString(),
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				}
				if call.Args == nil {
					call.Args = make(map[string]any)
				}
				for r, err := range agg.ProcessToolCall(call) {
					if !yield(r, err) {
						return
					}
				}
			}
			if chunk.Done {
				if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
					agg.SetUsage(&model.Usage{
						PromptTokens:     chunk.PromptEvalCount,
						CompletionTokens: chunk.EvalCount,
						TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
					})
				}
				agg.SetFinishReason(mapDoneReason(chunk.DoneReason))
				break
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("ollama: stream read: %w", err))
			return
		}

		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

func (c *Client) parseResponse(apiResp *chatResponse) *model.Response {
	var parts []a2a.Part
	if apiResp.Message.Content != "" {
		parts = append(parts, a2a.TextPart{Text: apiResp.Message.Content})
	}

	var toolCalls []tool.ToolCall
	for _, tc := range apiResp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = make(map[string]any)
		}
		call := tool.ToolCall{ID: "call_" + uuid.NewString(), Name: tc.Function.Name, Args: args}
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
		FinishReason: mapDoneReason(apiResp.DoneReason),
	}
	if len(toolCalls) > 0 {
		out.FinishReason = model.FinishReasonToolCalls
	}
	if apiResp.PromptEvalCount > 0 || apiResp.EvalCount > 0 {
		out.Usage = &model.Usage{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		}
	}
	return out
}

func (c *Client) post(ctx context.Context, apiReq *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: API error (status %d): %s", resp.StatusCode, apiErr)
	}
	return resp, nil
}

func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:  c.modelName,
		Stream: stream,
	}

	options := make(map[string]any)
	if c.temperature != nil {
		options["temperature"] = *c.temperature
	}
	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			options["temperature"] = *cfg.Temperature
		}
		if cfg.TopP != nil {
			options["top_p"] = *cfg.TopP
		}
		if cfg.TopK != nil {
			options["top_k"] = *cfg.TopK
		}
		if cfg.MaxTokens != nil {
			options["num_predict"] = *cfg.MaxTokens
		}
		if len(cfg.StopSequences) > 0 {
			options["stop"] = cfg.StopSequences
		}
	}
	if len(options) > 0 {
		apiReq.Options = options
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
	return apiReq
}

// convertMessages flattens a2a messages. Ollama has no tool-result
// role pairing by ID; results become plain "tool" messages in order.
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
					var tc chatToolCall
					tc.Function.Name, _ = p.Data["name"].(string)
					tc.Function.Arguments, _ = p.Data["arguments"].(map[string]any)
					toolCalls = append(toolCalls, tc)
				case "tool_result":
					content, _ := p.Data["content"].(string)
					toolResults = append(toolResults, chatMessage{Role: "tool", Content: content})
				}
			}
		}

		if text.Len() > 0 || len(toolCalls) > 0 {
			out = append(out, chatMessage{Role: role, Content: text.String(), ToolCalls: toolCalls})
		}
		out = append(out, toolResults...)
	}
	return out
}

func mapDoneReason(reason string) model.FinishReason {
	switch reason {
	case "stop", "":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	}
	return model.FinishReasonStop
}

var _ model.LLM = (*Client)(nil)
