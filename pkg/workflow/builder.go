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
	"errors"
	"fmt"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/workflowagent"
)

// Option configures a Builder.
type Option func(*Builder)

// WithDescription sets the workflow description.
func WithDescription(description string) Option {
	return func(b *Builder) { b.description = description }
}

type edgeKey struct {
	from, to string
}

type fanIn struct {
	sources []string
	target  string
}

// Builder assembles a workflow graph. Methods return the builder for
// chaining; errors are accumulated and reported by Build. A builder is
// single-use: Build may only be called once.
type Builder struct {
	id          string
	description string

	start     Executor
	executors map[string]Executor
	plainNext map[string][]string
	fanOuts   map[string][]string
	fanIns    []fanIn
	edges     map[edgeKey]bool

	errs  []error
	built bool
}

// New creates a workflow builder with the given identifier.
func New(id string, opts ...Option) *Builder {
	b := &Builder{
		id:        id,
		executors: make(map[string]Executor),
		plainNext: make(map[string][]string),
		fanOuts:   make(map[string][]string),
		edges:     make(map[edgeKey]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetStartExecutor declares the workflow entry point.
func (b *Builder) SetStartExecutor(e Executor) *Builder {
	if b.start != nil {
		b.errs = append(b.errs, fmt.Errorf("start executor already set to %s", b.start.ID()))
		return b
	}
	b.register(e)
	b.start = e
	return b
}

// AddEdge connects two executors sequentially.
func (b *Builder) AddEdge(from, to Executor) *Builder {
	if !b.register(from) || !b.register(to) {
		return b
	}
	if !b.addEdgeKey(from.ID(), to.ID()) {
		return b
	}
	b.plainNext[from.ID()] = append(b.plainNext[from.ID()], to.ID())
	return b
}

// AddFanOutEdges connects one executor to several that run in
// parallel.
func (b *Builder) AddFanOutEdges(from Executor, to []Executor) *Builder {
	if !b.register(from) {
		return b
	}
	if len(to) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fan-out from %s has no targets", from.ID()))
		return b
	}
	if _, exists := b.fanOuts[from.ID()]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate fan-out from %s", from.ID()))
		return b
	}

	var targets []string
	for _, t := range to {
		if !b.register(t) || !b.addEdgeKey(from.ID(), t.ID()) {
			return b
		}
		targets = append(targets, t.ID())
	}
	b.fanOuts[from.ID()] = targets
	return b
}

// AddFanInEdges collects several parallel executors into one. The
// fan-in executor receives one input per source, in the order given
// here.
func (b *Builder) AddFanInEdges(from []Executor, to Executor) *Builder {
	if len(from) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fan-in to %s has no sources", to.ID()))
		return b
	}
	if !b.register(to) {
		return b
	}

	var sources []string
	for _, f := range from {
		if !b.register(f) || !b.addEdgeKey(f.ID(), to.ID()) {
			return b
		}
		sources = append(sources, f.ID())
	}
	b.fanIns = append(b.fanIns, fanIn{sources: sources, target: to.ID()})
	return b
}

// Build validates the graph and compiles it into a runnable Workflow.
func (b *Builder) Build() (*Workflow, error) {
	if b.built {
		return nil, fmt.Errorf("workflow %s: builder already used", b.id)
	}
	b.built = true

	if b.id == "" {
		b.errs = append(b.errs, errors.New("workflow id is required"))
	}
	if b.start == nil {
		b.errs = append(b.errs, errors.New("start executor is required"))
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("workflow %s: %w", b.id, errors.Join(b.errs...))
	}

	stages, orderedIDs, err := b.compile()
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", b.id, err)
	}

	w := &Workflow{
		id:          b.id,
		description: b.description,
		stages:      stages,
		executorIDs: orderedIDs,
	}

	var subAgents []agent.Agent
	for _, st := range stages {
		switch st.kind {
		case stageAgent:
			subAgents = append(subAgents, st.executor.Agent())
		case stageParallel:
			subAgents = append(subAgents, st.parallel)
		}
	}

	base, err := agent.New(agent.Config{
		Name:        b.id,
		Description: b.description,
		SubAgents:   subAgents,
		Run:         w.run,
	})
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", b.id, err)
	}
	w.Agent = base
	return w, nil
}

// register records an executor, rejecting ID collisions between
// distinct executors.
func (b *Builder) register(e Executor) bool {
	if e == nil || e.ID() == "" {
		b.errs = append(b.errs, errors.New("executor must have an id"))
		return false
	}
	if existing, ok := b.executors[e.ID()]; ok {
		if existing != e {
			b.errs = append(b.errs, fmt.Errorf("two executors share id %s", e.ID()))
			return false
		}
		return true
	}
	b.executors[e.ID()] = e
	return true
}

func (b *Builder) addEdgeKey(from, to string) bool {
	key := edgeKey{from: from, to: to}
	if b.edges[key] {
		b.errs = append(b.errs, fmt.Errorf("duplicate edge %s -> %s", from, to))
		return false
	}
	b.edges[key] = true
	return true
}

// compile walks the graph from the start executor, producing the
// linear stage list. Supported shapes are chains and one-level
// fan-out sections closed by a fan-in (or terminating the workflow).
func (b *Builder) compile() ([]stage, []string, error) {
	var stages []stage
	var orderedIDs []string
	visited := make(map[string]bool)

	visit := func(id string) error {
		if visited[id] {
			return fmt.Errorf("cycle detected at executor %s", id)
		}
		visited[id] = true
		orderedIDs = append(orderedIDs, id)
		return nil
	}

	appendExecutorStage := func(e Executor, inputSources []string) error {
		switch exec := e.(type) {
		case *AgentExecutor:
			stages = append(stages, stage{kind: stageAgent, executor: exec})
		case *FuncExecutor:
			stages = append(stages, stage{kind: stageFunc, fn: exec, inputSources: inputSources})
		default:
			return fmt.Errorf("unsupported executor type %T for %s", e, e.ID())
		}
		return nil
	}

	cur := b.start
	if err := visit(cur.ID()); err != nil {
		return nil, nil, err
	}
	if err := appendExecutorStage(cur, nil); err != nil {
		return nil, nil, err
	}

	for {
		curID := cur.ID()

		if targets, ok := b.fanOuts[curID]; ok {
			if len(b.plainNext[curID]) > 0 {
				return nil, nil, fmt.Errorf("executor %s has both a fan-out and a plain edge", curID)
			}

			par, err := b.buildParallel(curID, targets)
			if err != nil {
				return nil, nil, err
			}
			for _, t := range targets {
				if err := visit(t); err != nil {
					return nil, nil, err
				}
			}
			stages = append(stages, stage{kind: stageParallel, parallel: par, sourceIDs: targets})

			fi, err := b.matchFanIn(curID, targets)
			if err != nil {
				return nil, nil, err
			}
			if fi == nil {
				// Terminal fan-out: the parallel section ends the
				// workflow.
				break
			}

			next := b.executors[fi.target]
			if err := visit(next.ID()); err != nil {
				return nil, nil, err
			}
			if err := appendExecutorStage(next, fi.sources); err != nil {
				return nil, nil, err
			}
			cur = next
			continue
		}

		nexts := b.plainNext[curID]
		switch len(nexts) {
		case 0:
			// End of chain.
		case 1:
			next := b.executors[nexts[0]]
			if err := visit(next.ID()); err != nil {
				return nil, nil, err
			}
			if err := appendExecutorStage(next, []string{curID}); err != nil {
				return nil, nil, err
			}
			cur = next
			continue
		default:
			return nil, nil, fmt.Errorf("executor %s has multiple plain edges; use AddFanOutEdges", curID)
		}
		break
	}

	for id := range b.executors {
		if !visited[id] {
			return nil, nil, fmt.Errorf("executor %s is unreachable from start", id)
		}
	}
	return stages, orderedIDs, nil
}

// matchFanIn finds the fan-in whose source set equals the fan-out's
// target set. A fan-out with no fan-in is valid only when all targets
// are terminal.
func (b *Builder) matchFanIn(from string, targets []string) (*fanIn, error) {
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	for i := range b.fanIns {
		fi := &b.fanIns[i]
		if len(fi.sources) != len(targets) {
			continue
		}
		match := true
		for _, s := range fi.sources {
			if !targetSet[s] {
				match = false
				break
			}
		}
		if match {
			return fi, nil
		}
	}

	for _, t := range targets {
		if len(b.plainNext[t]) > 0 || len(b.fanOuts[t]) > 0 {
			return nil, fmt.Errorf("fan-out from %s is not closed by a matching fan-in", from)
		}
	}
	return nil, nil
}

// buildParallel wraps the fan-out targets in a parallel agent.
func (b *Builder) buildParallel(from string, targets []string) (agent.Agent, error) {
	var subAgents []agent.Agent
	for _, t := range targets {
		exec, ok := b.executors[t].(*AgentExecutor)
		if !ok {
			return nil, fmt.Errorf("fan-out target %s must wrap an agent", t)
		}
		subAgents = append(subAgents, exec.Agent())
	}

	return workflowagent.NewParallel(workflowagent.ParallelConfig{
		Name:        from + "_fanout",
		Description: fmt.Sprintf("parallel section after %s", from),
		SubAgents:   subAgents,
	})
}
