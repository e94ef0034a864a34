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

// Package llmagent provides the LLM-backed agent implementation.
//
// An LLM agent sends the conversation to a language model, executes
// any tools the model requests, and repeats until the model produces
// a final text response:
//
//	a, err := llmagent.New(llmagent.Config{
//	    Name:        "assistant",
//	    Model:       myModel,
//	    Instruction: "You are a helpful assistant.",
//	    Tools:       []tool.Tool{weatherTool},
//	})
package llmagent

import (
	"fmt"
	"iter"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// defaultMaxIterations is a safety limit on the reasoning loop. The
// loop normally terminates semantically, when the model stops
// requesting tools.
const defaultMaxIterations = 100

// InstructionProvider generates an instruction dynamically per
// invocation. It takes precedence over the static Instruction.
type InstructionProvider func(ctx agent.ReadonlyContext) (string, error)

// BeforeModelCallback runs before each LLM call. Returning a non-nil
// response skips the call.
type BeforeModelCallback func(ctx agent.CallbackContext, req *model.Request) (*model.Response, error)

// AfterModelCallback runs after each LLM call. Returning a non-nil
// response replaces the model's.
type AfterModelCallback func(ctx agent.CallbackContext, resp *model.Response, err error) (*model.Response, error)

// BeforeToolCallback runs before each tool execution. Returning a
// non-nil result skips the execution.
type BeforeToolCallback func(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)

// AfterToolCallback runs after each tool execution. Returning a
// non-nil result replaces the tool's.
type AfterToolCallback func(ctx tool.Context, t tool.Tool, args, result map[string]any, err error) (map[string]any, error)

// IncludeContents controls how much conversation history reaches the
// model.
type IncludeContents string

const (
	// IncludeContentsDefault sends the branch-visible history.
	IncludeContentsDefault IncludeContents = "default"

	// IncludeContentsNone sends only the current turn.
	IncludeContentsNone IncludeContents = "none"
)

// Config contains the configuration for an LLM agent.
type Config struct {
	// Name must be unique within the agent tree. Required.
	Name string

	// Description helps other agents decide when to delegate here.
	Description string

	// Model is the LLM used for generation. Required.
	Model model.LLM

	// Instruction guides the agent's behavior. Placeholders like
	// {key} are resolved from session state; append ? to make a
	// placeholder optional: {key?}.
	Instruction string

	// InstructionProvider generates the instruction dynamically and
	// takes precedence over Instruction.
	InstructionProvider InstructionProvider

	// GlobalInstruction is appended to the instruction for every
	// invocation, typically shared across the agent tree.
	GlobalInstruction string

	// GenerateConfig carries sampling parameters for the model.
	GenerateConfig *model.GenerateConfig

	// EnableStreaming requests token-level streaming from the model
	// regardless of the invocation's streaming mode.
	EnableStreaming bool

	// Tools are directly available to the agent.
	Tools []tool.Tool

	// Toolsets resolve additional tools per invocation.
	Toolsets []tool.Toolset

	// SubAgents can receive delegated work.
	SubAgents []agent.Agent

	// OutputKey, when set, saves the agent's final text output to
	// session state under this key.
	OutputKey string

	// IncludeContents controls conversation history inclusion.
	IncludeContents IncludeContents

	// MaxIterations caps the reasoning loop. Defaults to 100.
	MaxIterations int

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
	BeforeModelCallbacks []BeforeModelCallback
	AfterModelCallbacks  []AfterModelCallback
	BeforeToolCallbacks  []BeforeToolCallback
	AfterToolCallbacks   []AfterToolCallback
}

// llmAgent implements agent.Agent on top of a language model.
type llmAgent struct {
	agent.Agent

	model               model.LLM
	instruction         string
	instructionProvider InstructionProvider
	globalInstruction   string
	generateConfig      *model.GenerateConfig
	enableStreaming     bool
	tools               []tool.Tool
	toolsets            []tool.Toolset
	outputKey           string
	includeContents     IncludeContents
	maxIterations       int

	beforeModelCallbacks []BeforeModelCallback
	afterModelCallbacks  []AfterModelCallback
	beforeToolCallbacks  []BeforeToolCallback
	afterToolCallbacks   []AfterToolCallback
}

// New creates an LLM-based agent.
func New(cfg Config) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("llmagent: name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("llmagent: model is required for %q", cfg.Name)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}

	a := &llmAgent{
		model:                cfg.Model,
		instruction:          cfg.Instruction,
		instructionProvider:  cfg.InstructionProvider,
		globalInstruction:    cfg.GlobalInstruction,
		generateConfig:       cfg.GenerateConfig,
		enableStreaming:      cfg.EnableStreaming,
		tools:                cfg.Tools,
		toolsets:             cfg.Toolsets,
		outputKey:            cfg.OutputKey,
		includeContents:      cfg.IncludeContents,
		maxIterations:        cfg.MaxIterations,
		beforeModelCallbacks: cfg.BeforeModelCallbacks,
		afterModelCallbacks:  cfg.AfterModelCallbacks,
		beforeToolCallbacks:  cfg.BeforeToolCallbacks,
		afterToolCallbacks:   cfg.AfterToolCallbacks,
	}

	base, err := agent.New(agent.Config{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		Run:                  a.run,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
	})
	if err != nil {
		return nil, err
	}

	a.Agent = base
	return a, nil
}

func (a *llmAgent) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return newFlow(a).Run(ctx)
}

// findTool resolves a tool by name from the static tools and the
// toolsets.
func (a *llmAgent) findTool(ctx agent.ReadonlyContext, name string) tool.Tool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}
	for _, ts := range a.toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name() == name {
				return t
			}
		}
	}
	return nil
}

// toolDefinitions collects definitions for the model request.
func (a *llmAgent) toolDefinitions(ctx agent.ReadonlyContext) []tool.Definition {
	var defs []tool.Definition
	for _, t := range a.tools {
		defs = append(defs, tool.ToDefinition(t))
	}
	for _, ts := range a.toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			continue
		}
		for _, t := range tools {
			defs = append(defs, tool.ToDefinition(t))
		}
	}
	return defs
}
