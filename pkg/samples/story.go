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

package samples

import (
	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/llmagent"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/workflow"
)

// StoryWorkflowID is the entity ID of the bundled story workflow.
const StoryWorkflowID = "story_writing"

// NewStoryWorkflow chains four writing agents: plot, characters,
// opening scene, and final polish. Each step sees the previous step's
// output through the shared conversation.
func NewStoryWorkflow(llm model.LLM) (*workflow.Workflow, error) {
	plotDesigner, err := storyAgent(llm, "plot_designer",
		"Sketches the premise and arc of a story",
		"You design story plots. From the reader's idea or theme, write a "+
			"short premise, name the central conflict, and outline how the "+
			"story opens, escalates, and resolves. Set the tone in a line. "+
			"Stay under 150 words.")
	if err != nil {
		return nil, err
	}

	characterCreator, err := storyAgent(llm, "character_creator",
		"Invents the cast for a story",
		"You invent characters. For the plot above, create two or three "+
			"named characters with a one-line background each, what drives "+
			"them, and how they collide with the conflict. Stay under 150 "+
			"words.")
	if err != nil {
		return nil, err
	}

	sceneWriter, err := storyAgent(llm, "scene_writer",
		"Writes the opening scene",
		"You write scenes. Using the plot and cast above, write an opening "+
			"scene that drops the reader into the action. Prefer concrete "+
			"detail and dialogue over summary. Keep it between 200 and 250 "+
			"words.")
	if err != nil {
		return nil, err
	}

	storyPolisher, err := storyAgent(llm, "story_polisher",
		"Polishes and assembles the final story",
		"You edit stories. Give the draft above a title, smooth any rough "+
			"transitions, and close with a two or three sentence ending or "+
			"cliffhanger. Present the finished piece: title, scene, ending, "+
			"in clean paragraphs.")
	if err != nil {
		return nil, err
	}

	plot := workflow.NewAgentExecutor(plotDesigner)
	characters := workflow.NewAgentExecutor(characterCreator)
	scene := workflow.NewAgentExecutor(sceneWriter)
	polish := workflow.NewAgentExecutor(storyPolisher)

	return workflow.New(StoryWorkflowID).
		SetStartExecutor(plot).
		AddEdge(plot, characters).
		AddEdge(characters, scene).
		AddEdge(scene, polish).
		Build()
}

func storyAgent(llm model.LLM, name, description, instruction string) (agent.Agent, error) {
	return llmagent.New(llmagent.Config{
		Name:        name,
		Description: description,
		Model:       llm,
		Instruction: instruction,
	})
}
