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

package model

import (
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/tool"
)

func TestGenerateConfigClone(t *testing.T) {
	temp := 0.7
	maxTokens := 100
	cfg := &GenerateConfig{
		Temperature:   &temp,
		MaxTokens:     &maxTokens,
		StopSequences: []string{"END"},
	}

	clone := cfg.Clone()
	require.NotNil(t, clone)

	*clone.Temperature = 0.2
	*clone.MaxTokens = 5
	clone.StopSequences[0] = "STOP"

	assert.Equal(t, 0.7, *cfg.Temperature)
	assert.Equal(t, 100, *cfg.MaxTokens)
	assert.Equal(t, "END", cfg.StopSequences[0])

	var nilCfg *GenerateConfig
	assert.Nil(t, nilCfg.Clone())
}

func TestResponseTextContent(t *testing.T) {
	resp := &Response{
		Content: &Content{
			Parts: []a2a.Part{
				a2a.TextPart{Text: "hello "},
				a2a.TextPart{Text: "world"},
				a2a.DataPart{Data: map[string]any{"type": "tool_use"}},
			},
			Role: a2a.MessageRoleAgent,
		},
	}
	assert.Equal(t, "hello world", resp.TextContent())

	var nilResp *Response
	assert.Equal(t, "", nilResp.TextContent())
	assert.Nil(t, nilResp.ToMessage())
}

func TestStreamingAggregatorText(t *testing.T) {
	agg := NewStreamingAggregator()

	var partials []*Response
	for _, delta := range []string{"Hel", "lo"} {
		for resp, err := range agg.ProcessTextDelta(delta) {
			require.NoError(t, err)
			partials = append(partials, resp)
		}
	}
	require.Len(t, partials, 2)
	assert.True(t, partials[0].Partial)
	assert.Equal(t, "Hel", partials[0].TextContent())

	agg.SetUsage(&Usage{TotalTokens: 9})
	final := agg.Close()
	require.NotNil(t, final)
	assert.False(t, final.Partial)
	assert.True(t, final.TurnComplete)
	assert.Equal(t, "Hello", final.TextContent())
	assert.Equal(t, FinishReasonStop, final.FinishReason)
	assert.Equal(t, 9, final.Usage.TotalTokens)

	// Aggregator resets after Close.
	assert.Nil(t, agg.Close())
}

func TestStreamingAggregatorEmptyDelta(t *testing.T) {
	agg := NewStreamingAggregator()
	for range agg.ProcessTextDelta("") {
		t.Fatal("empty delta must not yield")
	}
	assert.Nil(t, agg.Close())
}

func TestStreamingAggregatorToolCalls(t *testing.T) {
	agg := NewStreamingAggregator()

	tc := tool.ToolCall{ID: "call_1", Name: "lookup", Args: map[string]any{"q": "x"}}
	for resp, err := range agg.ProcessToolCall(tc) {
		require.NoError(t, err)
		assert.True(t, resp.Partial)
		require.Len(t, resp.ToolCalls, 1)
	}

	final := agg.Close()
	require.NotNil(t, final)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, FinishReasonToolCalls, final.FinishReason)
	assert.True(t, final.HasToolCalls())
}
