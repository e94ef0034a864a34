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

package llmagent

import (
	"context"
	"iter"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/session"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// fakeLLM replays scripted response batches, one batch per call.
type fakeLLM struct {
	batches  [][]*model.Response
	call     int
	requests []*model.Request
}

func (m *fakeLLM) Name() string             { return "fake-model" }
func (m *fakeLLM) Provider() model.Provider { return model.Provider("fake") }
func (m *fakeLLM) Close() error             { return nil }

func (m *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	m.requests = append(m.requests, req)
	batch := m.batches[m.call%len(m.batches)]
	m.call++
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

// echoTool returns its arguments back as content.
type echoTool struct{}

func (echoTool) Name() string           { return "echo" }
func (echoTool) Description() string    { return "Echoes its input" }
func (echoTool) Schema() map[string]any { return map[string]any{"type": "object"} }

func (echoTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"content": args["text"]}, nil
}

func newTestContext(t *testing.T, a agent.Agent, userText string, state map[string]any) agent.InvocationContext {
	t.Helper()
	svc := session.InMemory()
	s, err := svc.Create(context.Background(), "app", "user", "", state)
	require.NoError(t, err)

	return agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session:     s,
		Agent:       a,
		UserContent: agent.NewTextContent(userText, a2a.MessageRoleUser),
	})
}

func collectEvents(t *testing.T, a agent.Agent, ctx agent.InvocationContext) []*agent.Event {
	t.Helper()
	var events []*agent.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Model: &fakeLLM{}})
	assert.ErrorContains(t, err, "name is required")

	_, err = New(Config{Name: "a"})
	assert.ErrorContains(t, err, "model is required")
}

func TestRunTextOnly(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{{textResponse("hello there")}}}
	a, err := New(Config{Name: "assistant", Model: llm, Instruction: "Be brief."})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "hi", nil)
	events := collectEvents(t, a, ctx)

	require.Len(t, events, 1)
	assert.Equal(t, "assistant", events[0].Author)
	assert.Equal(t, "hello there", events[0].TextContent())
	assert.True(t, events[0].IsFinalResponse())

	require.Len(t, llm.requests, 1)
	assert.Equal(t, "Be brief.", llm.requests[0].SystemInstruction)
	require.Len(t, llm.requests[0].Messages, 1)
	assert.Equal(t, a2a.MessageRoleUser, llm.requests[0].Messages[0].Role)
}

func TestRunToolLoop(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{
		{toolCallResponse("call_1", "echo", map[string]any{"text": "ping"})},
		{textResponse("the tool said ping")},
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Tools: []tool.Tool{echoTool{}}})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "run echo", nil)
	events := collectEvents(t, a, ctx)

	require.Len(t, events, 3)

	assert.True(t, events[0].HasToolCalls())
	assert.False(t, events[0].IsFinalResponse())

	require.Len(t, events[1].ToolResults, 1)
	assert.Equal(t, "call_1", events[1].ToolResults[0].ToolCallID)
	assert.Equal(t, "ping", events[1].ToolResults[0].Content)
	assert.False(t, events[1].ToolResults[0].IsError)

	assert.Equal(t, "the tool said ping", events[2].TextContent())
	assert.True(t, events[2].IsFinalResponse())

	// Second model call must see the tool exchange.
	require.Len(t, llm.requests, 2)
	assert.Len(t, llm.requests[1].Messages, 3)

	// Tool definitions travel with every request.
	require.Len(t, llm.requests[0].Tools, 1)
	assert.Equal(t, "echo", llm.requests[0].Tools[0].Name)
}

func TestRunUnknownTool(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{
		{toolCallResponse("call_1", "missing", nil)},
		{textResponse("sorry")},
	}}
	a, err := New(Config{Name: "assistant", Model: llm})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "go", nil)
	events := collectEvents(t, a, ctx)

	require.Len(t, events, 3)
	require.Len(t, events[1].ToolResults, 1)
	assert.True(t, events[1].ToolResults[0].IsError)
	assert.Contains(t, events[1].ToolResults[0].Content, `tool "missing" not found`)
}

func TestRunStreaming(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{{
		{Content: &model.Content{Parts: []a2a.Part{a2a.TextPart{Text: "Once "}}, Role: a2a.MessageRoleAgent}, Partial: true},
		{Content: &model.Content{Parts: []a2a.Part{a2a.TextPart{Text: "upon"}}, Role: a2a.MessageRoleAgent}, Partial: true},
		textResponse("Once upon"),
	}}}
	a, err := New(Config{Name: "writer", Model: llm, EnableStreaming: true})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "tell a story", nil)
	events := collectEvents(t, a, ctx)

	require.Len(t, events, 3)
	assert.True(t, events[0].Partial)
	assert.Equal(t, "Once ", events[0].TextContent())
	assert.True(t, events[1].Partial)
	assert.False(t, events[2].Partial)
	assert.Equal(t, "Once upon", events[2].TextContent())
}

func TestOutputKeySavesState(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{{textResponse("a brave knight")}}}
	a, err := New(Config{Name: "writer", Model: llm, OutputKey: "character"})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "invent a character", nil)
	events := collectEvents(t, a, ctx)

	require.Len(t, events, 1)
	assert.Equal(t, "a brave knight", events[0].Actions.StateDelta["character"])
}

func TestInstructionPlaceholders(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{{textResponse("ok")}}}
	a, err := New(Config{
		Name:        "writer",
		Model:       llm,
		Instruction: "Write about {topic}.",
	})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "go", map[string]any{"topic": "dragons"})
	collectEvents(t, a, ctx)

	require.Len(t, llm.requests, 1)
	assert.Equal(t, "Write about dragons.", llm.requests[0].SystemInstruction)
}

func TestMaxIterationsExceeded(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{
		{toolCallResponse("call_1", "echo", map[string]any{"text": "again"})},
	}}
	a, err := New(Config{
		Name:          "looper",
		Model:         llm,
		Tools:         []tool.Tool{echoTool{}},
		MaxIterations: 2,
	})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "loop forever", nil)

	var lastErr error
	for _, err := range a.Run(ctx) {
		if err != nil {
			lastErr = err
		}
	}
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "exceeded 2 iterations")
}

func TestBeforeModelCallbackShortCircuits(t *testing.T) {
	llm := &fakeLLM{batches: [][]*model.Response{{textResponse("never sent")}}}
	a, err := New(Config{
		Name:  "guarded",
		Model: llm,
		BeforeModelCallbacks: []BeforeModelCallback{
			func(ctx agent.CallbackContext, req *model.Request) (*model.Response, error) {
				return textResponse("from callback"), nil
			},
		},
	})
	require.NoError(t, err)

	ctx := newTestContext(t, a, "hi", nil)
	events := collectEvents(t, a, ctx)

	require.Len(t, events, 1)
	assert.Equal(t, "from callback", events[0].TextContent())
	assert.Empty(t, llm.requests)
}

func TestBranchVisible(t *testing.T) {
	tests := []struct {
		name    string
		current string
		event   string
		want    bool
	}{
		{"root event always visible", "parent/child", "", true},
		{"same branch", "parent/child", "parent/child", true},
		{"ancestor branch", "parent/child", "parent", true},
		{"sibling branch", "parent/child", "parent/other", false},
		{"descendant branch", "parent", "parent/child", false},
		{"prefix but not path ancestor", "parental", "parent", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, branchVisible(tt.current, tt.event))
		})
	}
}
