// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"fmt"
	"iter"
)

// Agent is the fundamental abstraction for all agents.
// Implementations include llmagent (model-backed), workflowagent
// (sequential/parallel/loop orchestration), and custom executors.
type Agent interface {
	// Name returns the agent's unique name within the agent tree.
	Name() string

	// Description explains what the agent does.
	Description() string

	// Run executes the agent and yields events as they are produced.
	Run(ctx InvocationContext) iter.Seq2[*Event, error]

	// SubAgents returns the agent's children, if any.
	SubAgents() []Agent
}

// BeforeAgentCallback runs before the agent's run function.
// Returning non-nil content skips the run and emits the content instead.
type BeforeAgentCallback func(ctx CallbackContext) (*Content, error)

// AfterAgentCallback runs after the agent's run function completes.
// Returning non-nil content emits an additional event.
type AfterAgentCallback func(ctx CallbackContext) (*Content, error)

// RunFunc is the core execution function of an agent.
type RunFunc func(ctx InvocationContext) iter.Seq2[*Event, error]

// Config defines a base agent.
type Config struct {
	// Name must be unique within the agent tree.
	Name string

	// Description helps humans and models understand the agent's role.
	Description string

	// SubAgents are the agent's children.
	SubAgents []Agent

	// BeforeAgentCallbacks run before Run, in order.
	BeforeAgentCallbacks []BeforeAgentCallback

	// Run is the agent's execution function.
	Run RunFunc

	// AfterAgentCallbacks run after Run completes, in order.
	AfterAgentCallbacks []AfterAgentCallback
}

// New creates a base agent from the given config.
// Specialized agents (llmagent, workflowagent) wrap this with their
// own run functions.
func New(cfg Config) (Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Run == nil {
		return nil, fmt.Errorf("agent run function is required")
	}

	return &baseAgent{
		name:            cfg.Name,
		description:     cfg.Description,
		subAgents:       cfg.SubAgents,
		beforeCallbacks: cfg.BeforeAgentCallbacks,
		runFunc:         cfg.Run,
		afterCallbacks:  cfg.AfterAgentCallbacks,
	}, nil
}

type baseAgent struct {
	name            string
	description     string
	subAgents       []Agent
	beforeCallbacks []BeforeAgentCallback
	runFunc         RunFunc
	afterCallbacks  []AfterAgentCallback
}

func (a *baseAgent) Name() string        { return a.name }
func (a *baseAgent) Description() string { return a.description }
func (a *baseAgent) SubAgents() []Agent  { return a.subAgents }

// Run wraps the run function with before/after callbacks.
func (a *baseAgent) Run(ctx InvocationContext) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if event, done := a.runBeforeCallbacks(ctx); event != nil || done {
			if event != nil {
				yield(event, nil)
			}
			return
		}

		for event, err := range a.runFunc(ctx) {
			if !yield(event, err) {
				return
			}
			if err != nil {
				return
			}
		}

		if ctx.Ended() {
			return
		}

		if event := a.runAfterCallbacks(ctx); event != nil {
			yield(event, nil)
		}
	}
}

// runBeforeCallbacks executes before-agent callbacks.
// A callback returning content short-circuits the agent run.
func (a *baseAgent) runBeforeCallbacks(ctx InvocationContext) (*Event, bool) {
	if len(a.beforeCallbacks) == 0 {
		return nil, false
	}

	cc := newCallbackContext(ctx)
	for _, cb := range a.beforeCallbacks {
		content, err := cb(cc)
		if err != nil {
			event := NewEvent(ctx.InvocationID())
			event.Author = a.name
			event.Branch = ctx.Branch()
			event.ErrorMessage = err.Error()
			event.TurnComplete = true
			return event, true
		}
		if content != nil {
			event := a.contentEvent(ctx, content, cc.actions)
			return event, true
		}
	}

	// Callbacks may touch state without short-circuiting.
	if len(cc.actions.StateDelta) > 0 {
		event := NewEvent(ctx.InvocationID())
		event.Author = a.name
		event.Branch = ctx.Branch()
		event.Actions = *cc.actions
		return event, false
	}

	return nil, false
}

// runAfterCallbacks executes after-agent callbacks.
func (a *baseAgent) runAfterCallbacks(ctx InvocationContext) *Event {
	if len(a.afterCallbacks) == 0 {
		return nil
	}

	cc := newCallbackContext(ctx)
	for _, cb := range a.afterCallbacks {
		content, err := cb(cc)
		if err != nil {
			event := NewEvent(ctx.InvocationID())
			event.Author = a.name
			event.Branch = ctx.Branch()
			event.ErrorMessage = err.Error()
			event.TurnComplete = true
			return event
		}
		if content != nil {
			return a.contentEvent(ctx, content, cc.actions)
		}
	}

	if len(cc.actions.StateDelta) > 0 {
		event := NewEvent(ctx.InvocationID())
		event.Author = a.name
		event.Branch = ctx.Branch()
		event.Actions = *cc.actions
		return event
	}

	return nil
}

func (a *baseAgent) contentEvent(ctx InvocationContext, content *Content, actions *EventActions) *Event {
	event := NewEvent(ctx.InvocationID())
	event.Author = a.name
	event.Branch = ctx.Branch()
	event.Message = content.ToMessage()
	event.TurnComplete = true
	if actions != nil {
		event.Actions = *actions
	}
	return event
}

var _ Agent = (*baseAgent)(nil)
