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

package server

import (
	"fmt"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/workflow"
)

// Kind classifies what a served entity is.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindWorkflow Kind = "workflow"
)

// Entity is a runnable unit exposed by the dev server: a single agent
// or a compiled workflow. The ID is the URL-facing identifier; it
// defaults to the agent name when left empty.
type Entity struct {
	// ID identifies the entity in routes and discovery listings.
	ID string

	// Agent is the runnable root. Workflows satisfy agent.Agent too.
	Agent agent.Agent

	// Kind is agent or workflow, inferred when empty.
	Kind Kind
}

// NewEntity wraps an agent, inferring the kind from its concrete type.
func NewEntity(id string, a agent.Agent) *Entity {
	e := &Entity{ID: id, Agent: a}
	if _, ok := a.(*workflow.Workflow); ok {
		e.Kind = KindWorkflow
	} else {
		e.Kind = KindAgent
	}
	return e
}

func (e *Entity) validate() error {
	if e == nil || e.Agent == nil {
		return fmt.Errorf("entity requires an agent")
	}
	if e.ID == "" {
		e.ID = e.Agent.Name()
	}
	if e.Kind == "" {
		if _, ok := e.Agent.(*workflow.Workflow); ok {
			e.Kind = KindWorkflow
		} else {
			e.Kind = KindAgent
		}
	}
	return nil
}
