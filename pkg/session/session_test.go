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

package session

import (
	"context"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
)

func TestInMemoryCreateAndGet(t *testing.T) {
	svc := InMemory()
	ctx := context.Background()

	created, err := svc.Create(ctx, "app", "user1", "s1", map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, "s1", created.ID())
	assert.Equal(t, "app", created.AppName())
	assert.Equal(t, "user1", created.UserID())

	got, err := svc.Get(ctx, "app", "user1", "s1")
	require.NoError(t, err)

	val, err := got.State().Get("lang")
	require.NoError(t, err)
	assert.Equal(t, "en", val)
}

func TestInMemoryGeneratesSessionID(t *testing.T) {
	svc := InMemory()

	sess, err := svc.Create(context.Background(), "app", "user1", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
}

func TestInMemoryGetNotFound(t *testing.T) {
	svc := InMemory()

	_, err := svc.Get(context.Background(), "app", "user1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendEventKeepsOrder(t *testing.T) {
	svc := InMemory()
	ctx := context.Background()

	sess, err := svc.Create(ctx, "app", "user1", "s1", nil)
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		event := agent.NewEvent("inv-1")
		event.Author = "writer"
		event.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
		require.NoError(t, svc.AppendEvent(ctx, sess, event))
	}

	events := sess.Events()
	require.Equal(t, 3, events.Len())
	assert.Equal(t, "first", events.At(0).TextContent())
	assert.Equal(t, "second", events.At(1).TextContent())
	assert.Equal(t, "third", events.At(2).TextContent())
}

func TestAppendEventAppliesStateDelta(t *testing.T) {
	svc := InMemory()
	ctx := context.Background()

	sess, err := svc.Create(ctx, "app", "user1", "s1", map[string]any{"stale": true})
	require.NoError(t, err)

	event := agent.NewEvent("inv-1")
	event.Author = "writer"
	event.Actions.StateDelta["result"] = "done"
	event.Actions.StateDelta["stale"] = nil
	require.NoError(t, svc.AppendEvent(ctx, sess, event))

	val, err := sess.State().Get("result")
	require.NoError(t, err)
	assert.Equal(t, "done", val)

	_, err = sess.State().Get("stale")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClearTempKeys(t *testing.T) {
	state := newMemoryState(map[string]any{
		"temp:scratch": 1,
		"user:name":    "ada",
		"plain":        true,
	})

	state.ClearTempKeys()

	_, err := state.Get("temp:scratch")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	val, err := state.Get("user:name")
	require.NoError(t, err)
	assert.Equal(t, "ada", val)
}

func TestListAndDelete(t *testing.T) {
	svc := InMemory()
	ctx := context.Background()

	_, err := svc.Create(ctx, "app", "user1", "s1", nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "app", "user1", "s2", nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "app", "user2", "s3", nil)
	require.NoError(t, err)

	sessions, err := svc.List(ctx, "app", "user1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, svc.Delete(ctx, "app", "user1", "s1"))

	sessions, err = svc.List(ctx, "app", "user1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	_, err = svc.Get(ctx, "app", "user1", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventRecordRoundTrip(t *testing.T) {
	event := agent.NewEvent("inv-42")
	event.Author = "planner"
	event.Branch = "root/planner"
	event.TurnComplete = true
	event.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "hello"})
	event.Actions.StateDelta["plan"] = "ready"
	event.ToolCalls = []agent.ToolCallState{{ID: "tc1", Name: "lookup", Status: "pending"}}

	data, err := marshalEvent(event)
	require.NoError(t, err)

	decoded, err := unmarshalEvent(data)
	require.NoError(t, err)

	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "planner", decoded.Author)
	assert.Equal(t, "root/planner", decoded.Branch)
	assert.Equal(t, "inv-42", decoded.InvocationID)
	assert.True(t, decoded.TurnComplete)
	assert.Equal(t, "hello", decoded.TextContent())
	assert.Equal(t, "ready", decoded.Actions.StateDelta["plan"])
	require.Len(t, decoded.ToolCalls, 1)
	assert.Equal(t, "lookup", decoded.ToolCalls[0].Name)
}

func TestSQLRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		in      string
		want    string
	}{
		{"sqlite passthrough", DialectSQLite, "SELECT 1 FROM t WHERE a = ? AND b = ?", "SELECT 1 FROM t WHERE a = ? AND b = ?"},
		{"postgres numbering", DialectPostgres, "SELECT 1 FROM t WHERE a = ? AND b = ?", "SELECT 1 FROM t WHERE a = $1 AND b = $2"},
		{"mysql passthrough", DialectMySQL, "UPDATE t SET a = ?", "UPDATE t SET a = ?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SQLService{dialect: tt.dialect}
			assert.Equal(t, tt.want, s.rebind(tt.in))
		})
	}
}

func TestSQLServiceLifecycle(t *testing.T) {
	svc, err := OpenSQL(DialectSQLite, ":memory:")
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()

	sess, err := svc.Create(ctx, "app", "user1", "s1", map[string]any{"k": "v"})
	require.NoError(t, err)

	event := agent.NewEvent("inv-1")
	event.Author = "writer"
	event.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "persisted"})
	event.Actions.StateDelta["written"] = true
	require.NoError(t, svc.AppendEvent(ctx, sess, event))

	// Reload from the database and verify events and state survived.
	got, err := svc.Get(ctx, "app", "user1", "s1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Events().Len())
	assert.Equal(t, "persisted", got.Events().At(0).TextContent())

	val, err := got.State().Get("written")
	require.NoError(t, err)
	assert.Equal(t, true, val)

	require.NoError(t, svc.Delete(ctx, "app", "user1", "s1"))
	_, err = svc.Get(ctx, "app", "user1", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}
