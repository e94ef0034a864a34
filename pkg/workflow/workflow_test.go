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

package workflow

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/session"
)

// textAgent yields a single text event per run.
func textAgent(t *testing.T, name, text string) *AgentExecutor {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name:        name,
		Description: "emits " + text,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = name
				ev.Branch = ctx.Branch()
				ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
				ev.TurnComplete = true
				yield(ev, nil)
			}
		},
	})
	require.NoError(t, err)
	return NewAgentExecutor(a)
}

func runWorkflow(t *testing.T, w *Workflow) []*agent.Event {
	t.Helper()
	svc := session.InMemory()
	s, err := svc.Create(context.Background(), "app", "user", "", nil)
	require.NoError(t, err)

	ctx := agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session:     s,
		Agent:       w,
		UserContent: agent.NewTextContent("go", a2a.MessageRoleUser),
	})

	var events []*agent.Event
	for ev, err := range w.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestSequentialWorkflow(t *testing.T) {
	first := textAgent(t, "first", "one")
	second := textAgent(t, "second", "two")
	third := textAgent(t, "third", "three")

	w, err := New("pipeline", WithDescription("a three step chain")).
		SetStartExecutor(first).
		AddEdge(first, second).
		AddEdge(second, third).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "pipeline", w.ID())
	assert.Equal(t, "pipeline", w.Name())
	assert.Equal(t, []string{"first", "second", "third"}, w.ExecutorIDs())

	events := runWorkflow(t, w)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].Author)
	assert.Equal(t, "second", events[1].Author)
	assert.Equal(t, "third", events[2].Author)
}

func TestSingleExecutorWorkflow(t *testing.T) {
	only := textAgent(t, "only", "done")

	w, err := New("solo").SetStartExecutor(only).Build()
	require.NoError(t, err)

	events := runWorkflow(t, w)
	require.Len(t, events, 1)
	assert.Equal(t, "only", events[0].Author)
}

func TestFanOutFanInWorkflow(t *testing.T) {
	gen := textAgent(t, "generator", "SELECT 1")
	syntax := textAgent(t, "syntax_checker", "syntax ok")
	schema := textAgent(t, "schema_validator", "schema ok")
	perf := textAgent(t, "performance_reviewer", "performance ok")
	refiner := textAgent(t, "refiner", "refined")

	var got []Input
	aggregator := NewFuncExecutor("aggregator", "combines validation results",
		func(ctx *Context, inputs []Input) error {
			got = inputs
			var parts []string
			for _, in := range inputs {
				parts = append(parts, fmt.Sprintf("%s: %s", in.ExecutorID, in.Text))
			}
			return ctx.SendMessage(strings.Join(parts, "\n"))
		})

	validators := []Executor{syntax, schema, perf}
	w, err := New("query_generation").
		SetStartExecutor(gen).
		AddFanOutEdges(gen, validators).
		AddFanInEdges(validators, aggregator).
		AddEdge(aggregator, refiner).
		Build()
	require.NoError(t, err)

	events := runWorkflow(t, w)

	// generator + 3 validators + aggregator + refiner
	require.Len(t, events, 6)
	assert.Equal(t, "generator", events[0].Author)
	assert.Equal(t, "aggregator", events[4].Author)
	assert.Equal(t, "refiner", events[5].Author)

	// Fan-in inputs arrive in declared source order with each branch's
	// final response.
	require.Len(t, got, 3)
	assert.Equal(t, "syntax_checker", got[0].ExecutorID)
	assert.Equal(t, "syntax ok", got[0].Text)
	assert.Equal(t, "schema_validator", got[1].ExecutorID)
	assert.Equal(t, "performance_reviewer", got[2].ExecutorID)

	assert.Contains(t, events[4].TextContent(), "syntax_checker: syntax ok")

	// Validators ran on isolated branches.
	branches := make(map[string]bool)
	for _, ev := range events[1:4] {
		branches[ev.Branch] = true
	}
	assert.True(t, branches["generator_fanout/syntax_checker"])
	assert.True(t, branches["generator_fanout/schema_validator"])
	assert.True(t, branches["generator_fanout/performance_reviewer"])
}

func TestTerminalFanOut(t *testing.T) {
	start := textAgent(t, "start", "go")
	a := textAgent(t, "a", "alpha")
	b := textAgent(t, "b", "beta")

	w, err := New("spread").
		SetStartExecutor(start).
		AddFanOutEdges(start, []Executor{a, b}).
		Build()
	require.NoError(t, err)

	events := runWorkflow(t, w)
	assert.Len(t, events, 3)
}

func TestBuildRequiresStart(t *testing.T) {
	_, err := New("empty").Build()
	require.ErrorContains(t, err, "start executor is required")
}

func TestBuilderReuseRejected(t *testing.T) {
	only := textAgent(t, "only", "x")
	b := New("once").SetStartExecutor(only)

	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.Build()
	require.ErrorContains(t, err, "builder already used")
}

func TestDuplicateEdgeRejected(t *testing.T) {
	a := textAgent(t, "a", "x")
	b := textAgent(t, "b", "y")

	_, err := New("dup").
		SetStartExecutor(a).
		AddEdge(a, b).
		AddEdge(a, b).
		Build()
	require.ErrorContains(t, err, "duplicate edge a -> b")
}

func TestCycleRejected(t *testing.T) {
	a := textAgent(t, "a", "x")
	b := textAgent(t, "b", "y")

	_, err := New("loop").
		SetStartExecutor(a).
		AddEdge(a, b).
		AddEdge(b, a).
		Build()
	require.ErrorContains(t, err, "cycle detected")
}

func TestUnreachableExecutorRejected(t *testing.T) {
	a := textAgent(t, "a", "x")
	b := textAgent(t, "b", "y")
	c := textAgent(t, "c", "z")
	d := textAgent(t, "d", "w")

	_, err := New("island").
		SetStartExecutor(a).
		AddEdge(a, b).
		AddEdge(c, d).
		Build()
	require.ErrorContains(t, err, "unreachable")
}

func TestFanOutWithPlainEdgeRejected(t *testing.T) {
	a := textAgent(t, "a", "x")
	b := textAgent(t, "b", "y")
	c := textAgent(t, "c", "z")

	_, err := New("mixed").
		SetStartExecutor(a).
		AddEdge(a, b).
		AddFanOutEdges(a, []Executor{c}).
		Build()
	require.ErrorContains(t, err, "both a fan-out and a plain edge")
}

func TestUnclosedFanOutRejected(t *testing.T) {
	a := textAgent(t, "a", "x")
	b := textAgent(t, "b", "y")
	c := textAgent(t, "c", "z")
	d := textAgent(t, "d", "w")

	_, err := New("open").
		SetStartExecutor(a).
		AddFanOutEdges(a, []Executor{b, c}).
		AddEdge(b, d).
		Build()
	require.ErrorContains(t, err, "not closed by a matching fan-in")
}

func TestMultiplePlainEdgesRejected(t *testing.T) {
	a := textAgent(t, "a", "x")
	b := textAgent(t, "b", "y")
	c := textAgent(t, "c", "z")

	_, err := New("branchy").
		SetStartExecutor(a).
		AddEdge(a, b).
		AddEdge(a, c).
		Build()
	require.ErrorContains(t, err, "multiple plain edges")
}
