// Package maestro is a lightweight toolkit for composing chat-based AI
// agents into workflows and exercising them on a local development server.
//
// Agents are declared in code: a name, a description, a natural-language
// instruction, a shared model client, and optional callable tools. Agents
// are chained into workflows with a fluent builder that supports linear
// edges and fan-out/fan-in groups:
//
//	wf, err := workflow.New("story_writing").
//		SetStartExecutor(workflow.AgentOf(plot)).
//		AddEdge(workflow.AgentOf(plot), workflow.AgentOf(characters)).
//		AddEdge(workflow.AgentOf(characters), workflow.AgentOf(scenes)).
//		Build()
//
// A built workflow is itself an agent, so it runs through the same runner
// and server plumbing as a single agent does.
//
// The dev server exposes every registered entity (agent or workflow) over
// the A2A protocol plus a server-sent-events run endpoint, with a
// single-file web UI for interactive testing:
//
//	err := server.Serve(ctx, cfg, weatherAgent, storyWorkflow)
//
// See examples/ for complete runnable samples and cmd/maestro for the CLI.
package maestro
