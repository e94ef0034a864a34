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

// Package gemini implements model.LLM for Google Gemini models via
// the official google.golang.org/genai SDK.
//
// Gemini sometimes repeats function-call parts across streaming
// chunks with empty IDs; calls are assigned stable hash-derived IDs
// and deduplicated before reaching the aggregator.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"

	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

const defaultModel = "gemini-2.0-flash"

// Config configures the Gemini model.
type Config struct {
	// APIKey is the Google AI API key. Required.
	APIKey string

	// Model is the model name, defaults to gemini-2.0-flash.
	Model string

	// MaxTokens caps the response length.
	MaxTokens int

	// Temperature, when non-zero, overrides the provider default.
	Temperature float64
}

type geminiModel struct {
	client *genai.Client
	name   string
	cfg    Config
}

// New creates a Gemini model instance.
func New(cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model, cfg: cfg}, nil
}

// Name returns the model identifier.
func (m *geminiModel) Name() string { return m.name }

// Provider returns model.ProviderGemini.
func (m *geminiModel) Provider() model.Provider { return model.ProviderGemini }

// Close releases resources.
func (m *geminiModel) Close() error { return nil }

// GenerateContent produces responses for the given request.
func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return m.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *geminiModel) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	contents, system := m.buildContents(req)
	config := m.buildConfig(req.Config, system, req.Tools)

	genResp, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}
	return parseResponse(genResp)
}

func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		contents, system := m.buildContents(req)
		config := m.buildConfig(req.Config, system, req.Tools)

		agg := model.NewStreamingAggregator()
		emitted := make(map[string]bool)

		for genResp, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini: stream: %w", err))
				return
			}
			if len(genResp.Candidates) == 0 {
				continue
			}
			candidate := genResp.Candidates[0]

			if candidate.FinishReason != "" {
				agg.SetFinishReason(mapFinishReason(candidate.FinishReason))
			}
			if genResp.UsageMetadata != nil {
				agg.SetUsage(&model.Usage{
					PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
				})
			}
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					for r, err := range agg.ProcessTextDelta(part.Text) {
						if !yield(r, err) {
							return
						}
					}
				}
				if part.FunctionCall == nil {
					continue
				}

				callID := part.FunctionCall.ID
				if callID == "" {
					callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				if emitted[callID] {
					continue
				}
				emitted[callID] = true

				tc := tool.ToolCall{ID: callID, Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
				for r, err := range agg.ProcessToolCall(tc) {
					if !yield(r, err) {
						return
					}
				}
			}
		}

		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// stableCallID derives a deterministic ID from the call's name and
// arguments so repeated chunks dedupe to one call.
func stableCallID(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("call_%x", sum[:16])
}

func (m *geminiModel) buildContents(req *model.Request) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	if req.SystemInstruction != "" {
		system = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
			Role:  "user",
		}
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		if content := messageToContent(msg); content != nil {
			contents = append(contents, content)
		}
	}
	return contents, system
}

func messageToContent(msg *a2a.Message) *genai.Content {
	if msg == nil {
		return nil
	}

	var parts []*genai.Part
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case a2a.TextPart:
			parts = append(parts, &genai.Part{Text: part.Text})

		case a2a.DataPart:
			switch part.Data["type"] {
			case "tool_use":
				name, _ := part.Data["name"].(string)
				if name == "" {
					continue
				}
				id, _ := part.Data["id"].(string)
				args, _ := part.Data["arguments"].(map[string]any)
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args},
				})
			case "tool_result":
				id, _ := part.Data["tool_call_id"].(string)
				name, _ := part.Data["tool_name"].(string)
				content, _ := part.Data["content"].(string)
				if id == "" && name == "" {
					continue
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       id,
						Name:     name,
						Response: map[string]any{"result": content},
					},
				})
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}

	role := "user"
	if msg.Role == a2a.MessageRoleAgent {
		role = "model"
	}
	return &genai.Content{Parts: parts, Role: role}
}

func (m *geminiModel) buildConfig(cfg *model.GenerateConfig, system *genai.Content, tools []tool.Definition) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{SystemInstruction: system}

	if cfg != nil {
		if cfg.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*cfg.Temperature))
		}
		if cfg.MaxTokens != nil {
			config.MaxOutputTokens = int32(*cfg.MaxTokens)
		}
		if cfg.TopP != nil {
			config.TopP = genai.Ptr(float32(*cfg.TopP))
		}
		if cfg.TopK != nil {
			config.TopK = genai.Ptr(float32(*cfg.TopK))
		}
		config.StopSequences = cfg.StopSequences
	}

	if config.Temperature == nil && m.cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(m.cfg.Temperature))
	}
	if config.MaxOutputTokens == 0 && m.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(m.cfg.MaxTokens)
	}

	for _, t := range tools {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}},
		})
	}
	return config
}

// toGenaiSchema converts a JSON schema map to the SDK's schema type.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if name, ok := e.(string); ok {
				s.Enum = append(s.Enum, name)
			}
		}
	}
	return s
}

func parseResponse(genResp *genai.GenerateContentResponse) (*model.Response, error) {
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty response")
	}
	candidate := genResp.Candidates[0]

	resp := &model.Response{
		TurnComplete: true,
		FinishReason: mapFinishReason(candidate.FinishReason),
	}

	if candidate.Content != nil {
		var parts []a2a.Part
		var toolCalls []tool.ToolCall
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				parts = append(parts, a2a.TextPart{Text: part.Text})
			}
			if part.FunctionCall != nil {
				callID := part.FunctionCall.ID
				if callID == "" {
					callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				tc := tool.ToolCall{ID: callID, Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
				toolCalls = append(toolCalls, tc)
				parts = append(parts, a2a.DataPart{Data: map[string]any{
					"type":      "tool_use",
					"id":        tc.ID,
					"name":      tc.Name,
					"arguments": tc.Args,
				}})
			}
		}

		resp.Content = &model.Content{Parts: parts, Role: a2a.MessageRoleAgent}
		resp.ToolCalls = toolCalls
		if len(toolCalls) > 0 {
			resp.FinishReason = model.FinishReasonToolCalls
		}
	}

	if genResp.UsageMetadata != nil {
		resp.Usage = &model.Usage{
			PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func mapFinishReason(reason genai.FinishReason) model.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return model.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety:
		return model.FinishReasonContent
	}
	return model.FinishReasonStop
}

var _ model.LLM = (*geminiModel)(nil)
