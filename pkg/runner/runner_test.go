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

package runner

import (
	"context"
	"iter"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/session"
)

// replyAgent answers every turn with a fixed text, optionally with a
// leading partial chunk.
func replyAgent(t *testing.T, name, text string, withPartial bool) agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name: name,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				if withPartial {
					partial := agent.NewEvent(ctx.InvocationID())
					partial.Author = name
					partial.Partial = true
					partial.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text[:1]})
					if !yield(partial, nil) {
						return
					}
				}
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = name
				ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
				ev.TurnComplete = true
				yield(ev, nil)
			}
		},
	})
	require.NoError(t, err)
	return a
}

func collect(t *testing.T, seq iter.Seq2[*agent.Event, error]) []*agent.Event {
	t.Helper()
	var events []*agent.Event
	for ev, err := range seq {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestRunnerRequiresAgentAndSessions(t *testing.T) {
	_, err := New(Config{SessionService: session.InMemory()})
	require.ErrorContains(t, err, "root agent is required")

	_, err = New(Config{Agent: replyAgent(t, "a", "x", false)})
	require.ErrorContains(t, err, "session service is required")
}

func TestRunnerRejectsDuplicateAgentNames(t *testing.T) {
	leaf := replyAgent(t, "twin", "x", false)
	root, err := agent.New(agent.Config{
		Name:      "twin",
		SubAgents: []agent.Agent{leaf},
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {}
		},
	})
	require.NoError(t, err)

	_, err = New(Config{
		AppName:        "app",
		Agent:          root,
		SessionService: session.InMemory(),
	})
	require.ErrorContains(t, err, "duplicate agent name")
}

func TestRunnerPersistsUserAndAgentEvents(t *testing.T) {
	svc := session.InMemory()
	r, err := New(Config{
		AppName:        "app",
		Agent:          replyAgent(t, "assistant", "hello there", false),
		SessionService: svc,
	})
	require.NoError(t, err)

	msg := agent.NewTextContent("hi", a2a.MessageRoleUser)
	events := collect(t, r.Run(context.Background(), "user1", "s1", msg, agent.RunConfig{}))
	require.Len(t, events, 1)
	assert.Equal(t, "assistant", events[0].Author)

	sess, err := svc.Get(context.Background(), "app", "user1", "s1")
	require.NoError(t, err)
	require.Equal(t, 2, sess.Events().Len())
	assert.Equal(t, "user", sess.Events().At(0).Author)
	assert.Equal(t, "assistant", sess.Events().At(1).Author)
	assert.Equal(t, "hello there", sess.Events().At(1).TextContent())
}

func TestRunnerSkipsPartialEventsInHistory(t *testing.T) {
	svc := session.InMemory()
	r, err := New(Config{
		AppName:        "app",
		Agent:          replyAgent(t, "assistant", "streamed", true),
		SessionService: svc,
	})
	require.NoError(t, err)

	msg := agent.NewTextContent("hi", a2a.MessageRoleUser)
	events := collect(t, r.Run(context.Background(), "user1", "s1", msg, agent.RunConfig{}))
	require.Len(t, events, 2)
	assert.True(t, events[0].Partial)

	sess, err := svc.Get(context.Background(), "app", "user1", "s1")
	require.NoError(t, err)
	// user message + final event only
	assert.Equal(t, 2, sess.Events().Len())
}

func TestRunnerReusesExistingSession(t *testing.T) {
	svc := session.InMemory()
	r, err := New(Config{
		AppName:        "app",
		Agent:          replyAgent(t, "assistant", "again", false),
		SessionService: svc,
	})
	require.NoError(t, err)

	msg := agent.NewTextContent("first", a2a.MessageRoleUser)
	collect(t, r.Run(context.Background(), "user1", "s1", msg, agent.RunConfig{}))

	msg = agent.NewTextContent("second", a2a.MessageRoleUser)
	collect(t, r.Run(context.Background(), "user1", "s1", msg, agent.RunConfig{}))

	sess, err := svc.Get(context.Background(), "app", "user1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Events().Len())
}

func TestRunnerContinuesWithLastAgent(t *testing.T) {
	svc := session.InMemory()
	specialist := replyAgent(t, "specialist", "from specialist", false)
	root, err := agent.New(agent.Config{
		Name:      "coordinator",
		SubAgents: []agent.Agent{specialist},
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = "coordinator"
				ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "from root"})
				ev.TurnComplete = true
				yield(ev, nil)
			}
		},
	})
	require.NoError(t, err)

	r, err := New(Config{AppName: "app", Agent: root, SessionService: svc})
	require.NoError(t, err)

	// Seed the session with a specialist turn so the next message
	// routes back to it.
	sess, err := svc.Create(context.Background(), "app", "user1", "s1", nil)
	require.NoError(t, err)
	prev := agent.NewEvent("inv-0")
	prev.Author = "specialist"
	prev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "earlier"})
	require.NoError(t, svc.AppendEvent(context.Background(), sess, prev))

	msg := agent.NewTextContent("continue", a2a.MessageRoleUser)
	events := collect(t, r.Run(context.Background(), "user1", "s1", msg, agent.RunConfig{}))
	require.Len(t, events, 1)
	assert.Equal(t, "specialist", events[0].Author)
}

func TestRunnerClearsTempState(t *testing.T) {
	svc := session.InMemory()
	writer, err := agent.New(agent.Config{
		Name: "writer",
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = "writer"
				ev.Actions.StateDelta = map[string]any{
					"temp:scratch": "gone after turn",
					"kept":         "stays",
				}
				ev.TurnComplete = true
				yield(ev, nil)
			}
		},
	})
	require.NoError(t, err)

	r, err := New(Config{AppName: "app", Agent: writer, SessionService: svc})
	require.NoError(t, err)

	msg := agent.NewTextContent("go", a2a.MessageRoleUser)
	collect(t, r.Run(context.Background(), "user1", "s1", msg, agent.RunConfig{}))

	sess, err := svc.Get(context.Background(), "app", "user1", "s1")
	require.NoError(t, err)

	_, err = sess.State().Get("temp:scratch")
	assert.ErrorIs(t, err, session.ErrKeyNotFound)

	kept, err := sess.State().Get("kept")
	require.NoError(t, err)
	assert.Equal(t, "stays", kept)
}

func TestRunnerAgentLookups(t *testing.T) {
	leaf := replyAgent(t, "leaf", "x", false)
	root, err := agent.New(agent.Config{
		Name:      "root",
		SubAgents: []agent.Agent{leaf},
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {}
		},
	})
	require.NoError(t, err)

	r, err := New(Config{AppName: "app", Agent: root, SessionService: session.InMemory()})
	require.NoError(t, err)

	assert.Equal(t, leaf, r.FindAgent("leaf"))
	assert.Nil(t, r.FindAgent("missing"))

	agents := r.ListAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, "root", agents[0].Name())
	assert.Equal(t, "app", r.AppName())
	assert.Equal(t, root, r.RootAgent())
}
