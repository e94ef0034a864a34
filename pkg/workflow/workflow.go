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

// Package workflow provides a fluent builder for directed agent
// pipelines with fan-out/fan-in support.
//
// A workflow connects executors — agents or custom functions — into a
// graph of chains and parallel sections:
//
//	wf, err := workflow.New("query_generation").
//	    SetStartExecutor(parser).
//	    AddEdge(parser, generator).
//	    AddFanOutEdges(generator, []workflow.Executor{syntax, schema, perf}).
//	    AddFanInEdges([]workflow.Executor{syntax, schema, perf}, aggregator).
//	    AddEdge(aggregator, refiner).
//	    Build()
//
// The compiled Workflow implements agent.Agent, so it runs under the
// same runner and server as a plain agent. Sequential executors share
// the invocation branch; fan-out sections run concurrently on isolated
// branches and their final responses are collected, in declared source
// order, as the fan-in executor's inputs.
package workflow

import (
	"fmt"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// Executor is a unit a workflow edge can connect. Implementations are
// AgentExecutor and FuncExecutor.
type Executor interface {
	// ID uniquely identifies the executor within the workflow.
	ID() string

	// Description describes what the executor does.
	Description() string
}

// AgentExecutor wraps an agent.Agent as a workflow executor. Its ID is
// the agent's name.
type AgentExecutor struct {
	agent agent.Agent
}

// NewAgentExecutor wraps an agent for use in a workflow.
func NewAgentExecutor(a agent.Agent) *AgentExecutor {
	return &AgentExecutor{agent: a}
}

// ID returns the wrapped agent's name.
func (e *AgentExecutor) ID() string { return e.agent.Name() }

// Description returns the wrapped agent's description.
func (e *AgentExecutor) Description() string { return e.agent.Description() }

// Agent returns the wrapped agent.
func (e *AgentExecutor) Agent() agent.Agent { return e.agent }

// Input carries one upstream branch's final response into a
// FuncExecutor.
type Input struct {
	// ExecutorID identifies the upstream executor.
	ExecutorID string

	// Text is that executor's final response text.
	Text string
}

// Handler is the function body of a FuncExecutor. It receives one
// Input per upstream source, in the order the sources were declared,
// and emits output with Context.SendMessage.
type Handler func(ctx *Context, inputs []Input) error

// FuncExecutor runs a custom function as a workflow step, typically to
// aggregate fan-in results.
type FuncExecutor struct {
	id          string
	description string
	handler     Handler
}

// NewFuncExecutor creates a function-backed executor.
func NewFuncExecutor(id, description string, handler Handler) *FuncExecutor {
	return &FuncExecutor{id: id, description: description, handler: handler}
}

// ID returns the executor identifier.
func (e *FuncExecutor) ID() string { return e.id }

// Description describes the executor.
func (e *FuncExecutor) Description() string { return e.description }

// Context is passed to a FuncExecutor handler. It embeds the
// invocation context, so handlers can read session state or check for
// cancellation.
type Context struct {
	agent.InvocationContext

	executorID string
	branch     string
	yield      func(*agent.Event, error) bool
	sent       []string
	stopped    bool
}

// SendMessage emits text downstream: it becomes the executor's
// response, visible to the next workflow step.
func (c *Context) SendMessage(text string) error {
	if c.stopped {
		return fmt.Errorf("workflow: consumer stopped, message dropped")
	}

	event := agent.NewEvent(c.InvocationContext.InvocationID())
	event.Author = c.executorID
	event.Branch = c.branch
	event.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
	event.TurnComplete = true

	c.sent = append(c.sent, text)
	if !c.yield(event, nil) {
		c.stopped = true
	}
	return nil
}

// stageKind discriminates compiled workflow stages.
type stageKind int

const (
	stageAgent stageKind = iota
	stageParallel
	stageFunc
)

// stage is one step of the compiled pipeline.
type stage struct {
	kind stageKind

	// agent stage
	executor *AgentExecutor

	// parallel stage: the fan-out group and its declared source order.
	parallel  agent.Agent
	sourceIDs []string

	// func stage
	fn *FuncExecutor

	// inputSources are the executor IDs whose outputs feed a func
	// stage: the fan-in sources, or the single chain predecessor.
	inputSources []string
}

// Workflow is a compiled executor graph. It implements agent.Agent.
type Workflow struct {
	agent.Agent

	id          string
	description string
	stages      []stage
	executorIDs []string
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.id }

// ExecutorIDs returns the IDs of all executors, in pipeline order.
func (w *Workflow) ExecutorIDs() []string { return w.executorIDs }

// run executes the compiled stages in order, tracking each executor's
// final response so fan-in stages can collect their inputs.
func (w *Workflow) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		outputs := make(map[string]string)

		// capture records the latest final response per executor while
		// events stream through.
		capture := func(ev *agent.Event) {
			if ev == nil || ev.Partial || ev.Author == "" {
				return
			}
			if text := ev.TextContent(); text != "" {
				outputs[ev.Author] = text
			}
		}

		for _, st := range w.stages {
			if ctx.Err() != nil || ctx.Ended() {
				return
			}

			switch st.kind {
			case stageAgent, stageParallel:
				sub := st.parallel
				if st.kind == stageAgent {
					sub = st.executor.Agent()
				}
				subCtx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
					Agent:        sub,
					Session:      ctx.Session(),
					UserContent:  ctx.UserContent(),
					RunConfig:    ctx.RunConfig(),
					Branch:       ctx.Branch(),
					InvocationID: ctx.InvocationID(),
				})
				for ev, err := range sub.Run(subCtx) {
					capture(ev)
					if !yield(ev, err) {
						return
					}
					if err != nil {
						return
					}
				}

			case stageFunc:
				inputs := make([]Input, 0, len(st.inputSources))
				for _, src := range st.inputSources {
					inputs = append(inputs, Input{ExecutorID: src, Text: outputs[src]})
				}

				fnCtx := &Context{
					InvocationContext: ctx,
					executorID:        st.fn.ID(),
					branch:            ctx.Branch(),
					yield:             yield,
				}
				if err := st.fn.handler(fnCtx, inputs); err != nil {
					yield(nil, fmt.Errorf("workflow %s: executor %s: %w", w.id, st.fn.ID(), err))
					return
				}
				if fnCtx.stopped {
					return
				}
				if len(fnCtx.sent) > 0 {
					outputs[st.fn.ID()] = fnCtx.sent[len(fnCtx.sent)-1]
				}
			}
		}
	}
}
