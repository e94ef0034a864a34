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

package gemini

import (
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestStableCallIDDeterministic(t *testing.T) {
	a := stableCallID("get_weather", map[string]any{"location": "Oslo"})
	b := stableCallID("get_weather", map[string]any{"location": "Oslo"})
	c := stableCallID("get_weather", map[string]any{"location": "Rome"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMessageToContent(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleAgent,
		a2a.TextPart{Text: "calling tool"},
		a2a.DataPart{Data: map[string]any{
			"type":      "tool_use",
			"id":        "call_1",
			"name":      "get_time",
			"arguments": map[string]any{},
		}},
	)

	content := messageToContent(msg)
	require.NotNil(t, content)
	assert.Equal(t, "model", content.Role)
	require.Len(t, content.Parts, 2)
	assert.Equal(t, "calling tool", content.Parts[0].Text)
	require.NotNil(t, content.Parts[1].FunctionCall)
	assert.Equal(t, "get_time", content.Parts[1].FunctionCall.Name)
}

func TestMessageToContentToolResult(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{Data: map[string]any{
		"type":         "tool_result",
		"tool_call_id": "call_1",
		"tool_name":    "get_time",
		"content":      "12:00 UTC",
	}})

	content := messageToContent(msg)
	require.NotNil(t, content)
	require.Len(t, content.Parts, 1)
	fr := content.Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "call_1", fr.ID)
	assert.Equal(t, map[string]any{"result": "12:00 UTC"}, fr.Response)
}

func TestMessageToContentEmpty(t *testing.T) {
	assert.Nil(t, messageToContent(nil))
	assert.Nil(t, messageToContent(a2a.NewMessage(a2a.MessageRoleUser)))
}

func TestToGenaiSchema(t *testing.T) {
	schema := map[string]any{
		"type":        "object",
		"description": "weather lookup args",
		"properties": map[string]any{
			"location": map[string]any{
				"type": "string",
				"enum": []any{"Oslo", "Rome"},
			},
			"days": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"required": []any{"location"},
	}

	s := toGenaiSchema(schema)
	require.NotNil(t, s)
	assert.Equal(t, genai.Type("object"), s.Type)
	assert.Equal(t, "weather lookup args", s.Description)
	require.Contains(t, s.Properties, "location")
	assert.Equal(t, []string{"Oslo", "Rome"}, s.Properties["location"].Enum)
	require.Contains(t, s.Properties, "days")
	require.NotNil(t, s.Properties["days"].Items)
	assert.Equal(t, []string{"location"}, s.Required)

	assert.Nil(t, toGenaiSchema(nil))
}
