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

// Package samples bundles the example entities served by the CLI and
// the runnable mains under examples/: a tool-using weather agent, a
// sequential story-writing workflow, and a fan-out/fan-in SQL query
// generator.
package samples

import (
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/server"
)

// Entities builds all bundled sample entities on a shared model.
func Entities(llm model.LLM) ([]*server.Entity, error) {
	weather, err := NewWeatherAgent(llm)
	if err != nil {
		return nil, err
	}

	story, err := NewStoryWorkflow(llm)
	if err != nil {
		return nil, err
	}

	query, err := NewQueryGeneratorWorkflow(llm)
	if err != nil {
		return nil, err
	}

	return []*server.Entity{
		server.NewEntity(WeatherAgentID, weather),
		server.NewEntity(StoryWorkflowID, story),
		server.NewEntity(QueryWorkflowID, query),
	}, nil
}
