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

// Package workflowagent provides agents that orchestrate other agents
// without calling a model themselves.
//
// Three orchestration shapes are provided:
//
//   - Sequential: runs sub-agents once, in order. Later agents see the
//     events of earlier ones, so state flows down the pipeline.
//   - Parallel: runs sub-agents concurrently on isolated branches.
//   - Loop: repeats its sub-agents until an iteration limit or until a
//     sub-agent escalates.
package workflowagent

import (
	"github.com/kadirpekel/maestro/pkg/agent"
)

// SequentialConfig configures a sequential workflow agent.
type SequentialConfig struct {
	// Name is the agent name.
	Name string

	// Description describes what the agent does.
	Description string

	// SubAgents run once each, in order.
	SubAgents []agent.Agent
}

// NewSequential creates an agent that runs its sub-agents once, in
// the order they are listed. Sub-agents share the invocation branch,
// so each sees the conversation produced by its predecessors.
func NewSequential(cfg SequentialConfig) (agent.Agent, error) {
	return NewLoop(LoopConfig{
		Name:          cfg.Name,
		Description:   cfg.Description,
		SubAgents:     cfg.SubAgents,
		MaxIterations: 1,
	})
}
