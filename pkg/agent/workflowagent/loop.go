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
	"iter"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// LoopConfig configures a loop workflow agent.
type LoopConfig struct {
	// Name is the agent name.
	Name string

	// Description describes what the agent does.
	Description string

	// SubAgents run in sequence on each iteration.
	SubAgents []agent.Agent

	// MaxIterations caps the loop. Zero means loop until a sub-agent
	// escalates.
	MaxIterations uint
}

// NewLoop creates an agent that repeatedly runs its sub-agents in
// sequence. The loop stops after MaxIterations, or as soon as any
// sub-agent yields an event with Escalate set.
func NewLoop(cfg LoopConfig) (agent.Agent, error) {
	maxIterations := cfg.MaxIterations

	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		SubAgents:   cfg.SubAgents,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return runLoop(ctx, maxIterations)
		},
	})
}

func runLoop(ctx agent.InvocationContext, maxIterations uint) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		remaining := maxIterations

		for {
			if ctx.Err() != nil || ctx.Ended() {
				return
			}

			for _, subAgent := range ctx.Agent().SubAgents() {
				// Sub-agents inherit the branch and invocation so that
				// each one sees what its predecessors produced.
				subCtx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
					Agent:        subAgent,
					Session:      ctx.Session(),
					UserContent:  ctx.UserContent(),
					RunConfig:    ctx.RunConfig(),
					Branch:       ctx.Branch(),
					InvocationID: ctx.InvocationID(),
				})

				escalated := false
				for event, err := range subAgent.Run(subCtx) {
					if !yield(event, err) {
						return
					}
					if err != nil {
						return
					}
					if event != nil && event.Actions.Escalate {
						escalated = true
					}
				}
				if escalated {
					return
				}
			}

			if maxIterations > 0 {
				remaining--
				if remaining == 0 {
					return
				}
			}
		}
	}
}
