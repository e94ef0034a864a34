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

package samples

import (
	"context"
	"iter"
	"regexp"
	"sync"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/server"
	"github.com/kadirpekel/maestro/pkg/session"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// fakeLLM replays scripted response batches, one batch per call. The
// mutex matters: fan-out stages call the shared model concurrently.
type fakeLLM struct {
	mu      sync.Mutex
	batches [][]*model.Response
	call    int
}

func (m *fakeLLM) Name() string             { return "fake-model" }
func (m *fakeLLM) Provider() model.Provider { return model.Provider("fake") }
func (m *fakeLLM) Close() error             { return nil }

func (m *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	m.mu.Lock()
	batch := m.batches[m.call%len(m.batches)]
	m.call++
	m.mu.Unlock()
	return func(yield func(*model.Response, error) bool) {
		for _, resp := range batch {
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:      &model.Content{Parts: []a2a.Part{a2a.TextPart{Text: text}}, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
	}
}

func toolCallResponse(id, name string, args map[string]any) *model.Response {
	return &model.Response{
		ToolCalls:    []tool.ToolCall{{ID: id, Name: name, Args: args}},
		TurnComplete: true,
		FinishReason: model.FinishReasonToolCalls,
	}
}

func runAgent(t *testing.T, a agent.Agent) []*agent.Event {
	t.Helper()
	svc := session.InMemory()
	s, err := svc.Create(context.Background(), "app", "user", "", nil)
	require.NoError(t, err)

	ctx := agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session:     s,
		Agent:       a,
		UserContent: agent.NewTextContent("go", a2a.MessageRoleUser),
	})

	var events []*agent.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestWeatherAgentLooksUpWeather(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{
		{toolCallResponse("c1", "get_weather", map[string]any{"location": "Oslo"})},
		{textResponse("Looks pleasant in Oslo.")},
	}}

	a, err := NewWeatherAgent(llm)
	require.NoError(t, err)
	assert.Equal(t, WeatherAgentID, a.Name())

	events := runAgent(t, a)

	var report string
	for _, ev := range events {
		for _, tr := range ev.ToolResults {
			report = tr.Content
		}
	}
	require.NotEmpty(t, report, "expected a tool result event")
	assert.Regexp(t,
		regexp.MustCompile(`The weather in Oslo is (sunny|cloudy|rainy|stormy) with a high of (1[0-9]|2[0-9]|30)°C\.`),
		report)

	final := events[len(events)-1]
	assert.Equal(t, "Looks pleasant in Oslo.", final.TextContent())
}

func TestWeatherAgentTellsTime(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{
		{toolCallResponse("c1", "get_time", nil)},
		{textResponse("It is late.")},
	}}

	a, err := NewWeatherAgent(llm)
	require.NoError(t, err)

	events := runAgent(t, a)

	var report string
	for _, ev := range events {
		for _, tr := range ev.ToolResults {
			report = tr.Content
		}
	}
	assert.Regexp(t,
		regexp.MustCompile(`The current UTC time is \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.`),
		report)
}

func TestStoryWorkflowShape(t *testing.T) {
	wf, err := NewStoryWorkflow(&fakeLLM{batches: [][]*model.Response{{textResponse("ok")}}})
	require.NoError(t, err)

	assert.Equal(t, StoryWorkflowID, wf.ID())
	assert.Equal(t,
		[]string{"plot_designer", "character_creator", "scene_writer", "story_polisher"},
		wf.ExecutorIDs())
}

func TestStoryWorkflowRunsInOrder(t *testing.T) {
	wf, err := NewStoryWorkflow(&fakeLLM{batches: [][]*model.Response{{textResponse("ok")}}})
	require.NoError(t, err)

	events := runAgent(t, wf)
	require.Len(t, events, 4)

	authors := make([]string, len(events))
	for i, ev := range events {
		authors[i] = ev.Author
	}
	assert.Equal(t,
		[]string{"plot_designer", "character_creator", "scene_writer", "story_polisher"},
		authors)
}

func TestQueryWorkflowShape(t *testing.T) {
	wf, err := NewQueryGeneratorWorkflow(&fakeLLM{batches: [][]*model.Response{{textResponse("ok")}}})
	require.NoError(t, err)

	assert.Equal(t, QueryWorkflowID, wf.ID())
	assert.Equal(t, []string{
		"schema_parser",
		"query_generator",
		"syntax_checker",
		"schema_validator",
		"performance_reviewer",
		"validation_aggregator",
		"query_refiner",
		"final_sql_output",
	}, wf.ExecutorIDs())
}

func TestQueryWorkflowAggregatesValidations(t *testing.T) {
	wf, err := NewQueryGeneratorWorkflow(&fakeLLM{batches: [][]*model.Response{{textResponse("ok")}}})
	require.NoError(t, err)

	events := runAgent(t, wf)

	var summary string
	for _, ev := range events {
		if ev.Author == "validation_aggregator" {
			summary = ev.TextContent()
		}
	}
	require.NotEmpty(t, summary, "expected an aggregator event")
	assert.Contains(t, summary, "=== VALIDATION SUMMARY ===")
	assert.Contains(t, summary, "**Syntax Checker**:\nok")
	assert.Contains(t, summary, "**Schema Validator**:\nok")
	assert.Contains(t, summary, "**Performance Reviewer**:\nok")
}

func TestTitleWords(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"syntax_checker", "Syntax Checker"},
		{"performance_reviewer", "Performance Reviewer"},
		{"single", "Single"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, titleWords(tt.in))
	}
}

func TestEntities(t *testing.T) {
	entities, err := Entities(&fakeLLM{batches: [][]*model.Response{{textResponse("ok")}}})
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, WeatherAgentID, entities[0].ID)
	assert.Equal(t, server.KindAgent, entities[0].Kind)
	assert.Equal(t, StoryWorkflowID, entities[1].ID)
	assert.Equal(t, server.KindWorkflow, entities[1].Kind)
	assert.Equal(t, QueryWorkflowID, entities[2].ID)
	assert.Equal(t, server.KindWorkflow, entities[2].Kind)
}
