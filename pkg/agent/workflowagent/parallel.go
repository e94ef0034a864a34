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

package workflowagent

import (
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// ParallelConfig configures a parallel workflow agent.
type ParallelConfig struct {
	// Name is the agent name.
	Name string

	// Description describes what the agent does.
	Description string

	// SubAgents run concurrently, each on its own branch.
	SubAgents []agent.Agent
}

// NewParallel creates an agent that runs its sub-agents concurrently.
// Each sub-agent gets an isolated branch ("parent/child"), so parallel
// siblings never see each other's conversation history. Events are
// yielded in completion order.
func NewParallel(cfg ParallelConfig) (agent.Agent, error) {
	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		SubAgents:   cfg.SubAgents,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return runParallel(ctx)
		},
	})
}

type subResult struct {
	event *agent.Event
	err   error
}

func runParallel(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		group, groupCtx := errgroup.WithContext(ctx)
		results := make(chan subResult)
		done := make(chan struct{})

		current := ctx.Agent()
		for _, subAgent := range current.SubAgents() {
			branch := fmt.Sprintf("%s/%s", current.Name(), subAgent.Name())
			if ctx.Branch() != "" {
				branch = fmt.Sprintf("%s/%s", ctx.Branch(), branch)
			}

			group.Go(func() error {
				subCtx := agent.NewInvocationContext(groupCtx, agent.InvocationContextParams{
					Agent:        subAgent,
					Session:      ctx.Session(),
					UserContent:  ctx.UserContent(),
					RunConfig:    ctx.RunConfig(),
					Branch:       branch,
					InvocationID: ctx.InvocationID(),
				})

				if err := forwardSubAgent(subCtx, subAgent, results, done); err != nil {
					return fmt.Errorf("sub-agent %q: %w", subAgent.Name(), err)
				}
				return nil
			})
		}

		go func() {
			_ = group.Wait()
			close(results)
		}()

		defer close(done)
		for res := range results {
			if !yield(res.event, res.err) {
				return
			}
			if res.err != nil {
				return
			}
		}
	}
}

// forwardSubAgent pumps a sub-agent's events into the shared results
// channel until the consumer signals done.
func forwardSubAgent(ctx agent.InvocationContext, a agent.Agent, results chan<- subResult, done <-chan struct{}) error {
	for event, err := range a.Run(ctx) {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			select {
			case <-done:
			case results <- subResult{err: ctx.Err()}:
			}
			return ctx.Err()
		case results <- subResult{event: event, err: err}:
			if err != nil {
				return err
			}
		}
	}
	return nil
}
