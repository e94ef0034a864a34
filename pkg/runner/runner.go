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

// Package runner orchestrates agent execution within sessions.
//
// The Runner gets or creates the session, appends the user message,
// runs the agent, and persists every non-partial event it yields. It
// is the piece that turns a stateless agent tree into a stateful
// conversation.
package runner

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/session"
)

// Config configures a Runner.
type Config struct {
	// AppName identifies the application owning the sessions.
	AppName string

	// Agent is the root of the agent tree.
	Agent agent.Agent

	// SessionService persists sessions and events.
	SessionService session.Service
}

// Runner executes an agent tree against persisted sessions.
type Runner struct {
	appName        string
	rootAgent      agent.Agent
	sessionService session.Service
	parents        ParentMap
}

// New creates a Runner. The agent tree is validated for duplicate
// names up front.
func New(cfg Config) (*Runner, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("root agent is required")
	}
	if cfg.SessionService == nil {
		return nil, fmt.Errorf("session service is required")
	}

	parents, err := BuildParentMap(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("invalid agent tree: %w", err)
	}

	return &Runner{
		appName:        cfg.AppName,
		rootAgent:      cfg.Agent,
		sessionService: cfg.SessionService,
		parents:        parents,
	}, nil
}

// Run executes one conversation turn: it resolves the session, records
// the user message, runs the agent, and yields its events while
// persisting the non-partial ones.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, content *agent.Content, cfg agent.RunConfig) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		sess, err := r.getOrCreateSession(ctx, userID, sessionID)
		if err != nil {
			yield(nil, err)
			return
		}

		agentToRun := r.findAgentToRun(sess)

		// Temp-scoped state lives for one invocation only.
		defer r.clearTempState(sess)

		invCtx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
			Agent:       agentToRun,
			Session:     sess,
			UserContent: content,
			RunConfig:   &cfg,
		})

		if err := r.appendUserMessage(ctx, sess, content, invCtx.InvocationID()); err != nil {
			yield(nil, err)
			return
		}

		for event, err := range agentToRun.Run(invCtx) {
			if err != nil {
				yield(event, err)
				return
			}

			if !event.Partial {
				if err := r.sessionService.AppendEvent(ctx, sess, event); err != nil {
					yield(nil, fmt.Errorf("failed to persist event: %w", err))
					return
				}
			}

			if !yield(event, nil) {
				return
			}
		}
	}
}

// FindAgent looks up an agent by name in the runner's agent tree.
func (r *Runner) FindAgent(name string) agent.Agent {
	return findAgentByName(r.rootAgent, name)
}

// ListAgents returns every agent in the tree, root first.
func (r *Runner) ListAgents() []agent.Agent {
	var out []agent.Agent
	var walk func(a agent.Agent)
	walk = func(a agent.Agent) {
		if a == nil {
			return
		}
		out = append(out, a)
		for _, sub := range a.SubAgents() {
			walk(sub)
		}
	}
	walk(r.rootAgent)
	return out
}

// RootAgent returns the root agent.
func (r *Runner) RootAgent() agent.Agent { return r.rootAgent }

// AppName returns the application name.
func (r *Runner) AppName() string { return r.appName }

func (r *Runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (session.Session, error) {
	sess, err := r.sessionService.Get(ctx, r.appName, userID, sessionID)
	if err == nil {
		return sess, nil
	}

	sess, err = r.sessionService.Create(ctx, r.appName, userID, sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (r *Runner) appendUserMessage(ctx context.Context, sess session.Session, content *agent.Content, invocationID string) error {
	if content == nil {
		return nil
	}

	event := agent.NewEvent(invocationID)
	event.Author = "user"
	event.Message = content.ToMessage()

	return r.sessionService.AppendEvent(ctx, sess, event)
}

func (r *Runner) clearTempState(sess session.Session) {
	if clearable, ok := sess.State().(agent.TempClearable); ok {
		clearable.ClearTempKeys()
	}
}

// findAgentToRun picks the agent that should handle the next message:
// the author of the most recent agent event still present in the tree,
// falling back to the root.
func (r *Runner) findAgentToRun(sess session.Session) agent.Agent {
	events := sess.Events()
	for i := events.Len() - 1; i >= 0; i-- {
		event := events.At(i)
		if event == nil || event.Author == "" || event.Author == "user" {
			continue
		}
		if sub := findAgentByName(r.rootAgent, event.Author); sub != nil {
			return sub
		}
		slog.Debug("event from unknown agent", "agent", event.Author, "event_id", event.ID)
	}
	return r.rootAgent
}

func findAgentByName(root agent.Agent, name string) agent.Agent {
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := findAgentByName(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// ParentMap maps each agent name to its parent agent (nil for the
// root).
type ParentMap map[string]agent.Agent

// BuildParentMap walks the agent tree, rejecting duplicate names.
func BuildParentMap(root agent.Agent) (ParentMap, error) {
	parents := make(ParentMap)
	var walk func(a, parent agent.Agent) error
	walk = func(a, parent agent.Agent) error {
		if a == nil {
			return nil
		}
		if _, exists := parents[a.Name()]; exists {
			return fmt.Errorf("duplicate agent name in tree: %s", a.Name())
		}
		parents[a.Name()] = parent
		for _, sub := range a.SubAgents() {
			if err := walk(sub, a); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, nil); err != nil {
		return nil, err
	}
	return parents, nil
}
