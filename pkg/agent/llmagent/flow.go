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

package llmagent

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/instruction"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// flow drives the reasoning loop: build request, call the model,
// execute requested tools, repeat until the model answers without
// tool calls.
//
// Session events are the base conversation history; messages produced
// during the current invocation are accumulated locally so the loop
// works identically with or without a persisting runner.
type flow struct {
	agent *llmAgent

	// messages produced during this invocation, in order.
	turnMessages []*a2a.Message
}

func newFlow(a *llmAgent) *flow {
	return &flow{agent: a}
}

// Run executes the reasoning loop.
func (f *flow) Run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		for iteration := 0; iteration < f.agent.maxIterations; iteration++ {
			if ctx.Err() != nil {
				slog.Debug("reasoning loop cancelled",
					"agent", f.agent.Name(), "iteration", iteration)
				return
			}

			var lastEvent *agent.Event
			for ev, err := range f.runOneStep(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(ev, nil) {
					return
				}
				lastEvent = ev
			}

			if lastEvent == nil || lastEvent.IsFinalResponse() {
				return
			}
			if lastEvent.Actions.Escalate {
				return
			}
			if ctx.Ended() {
				return
			}
		}

		yield(nil, fmt.Errorf("llmagent %s: reasoning loop exceeded %d iterations",
			f.agent.Name(), f.agent.maxIterations))
	}
}

// runOneStep performs one model call plus any tool executions it
// requests.
func (f *flow) runOneStep(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		req, err := f.buildRequest(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := f.callModel(ctx, req, yield)
		if err != nil {
			yield(nil, err)
			return
		}
		if resp == nil {
			return
		}

		populateToolCallIDs(resp)

		modelEvent := f.buildModelEvent(ctx, resp)
		if modelEvent.Message != nil {
			f.turnMessages = append(f.turnMessages, modelEvent.Message)
		}
		if !yield(modelEvent, nil) {
			return
		}

		if !resp.HasToolCalls() {
			return
		}

		toolEvent := f.executeToolCalls(ctx, resp.ToolCalls, yield)
		if toolEvent == nil {
			return
		}
		f.turnMessages = append(f.turnMessages, toolEvent.Message)
		yield(toolEvent, nil)
	}
}

// buildRequest assembles the model request from instruction, history,
// and tool definitions.
func (f *flow) buildRequest(ctx agent.InvocationContext) (*model.Request, error) {
	req := &model.Request{
		Config: f.agent.generateConfig,
		Tools:  f.agent.toolDefinitions(ctx),
	}

	system, err := f.resolveInstruction(ctx)
	if err != nil {
		return nil, fmt.Errorf("llmagent %s: resolve instruction: %w", f.agent.Name(), err)
	}
	req.SystemInstruction = system

	req.Messages = append(f.baseHistory(ctx), f.turnMessages...)
	return req, nil
}

// resolveInstruction renders the instruction template against session
// state and appends the global instruction.
func (f *flow) resolveInstruction(ctx agent.InvocationContext) (string, error) {
	raw := f.agent.instruction
	if f.agent.instructionProvider != nil {
		generated, err := f.agent.instructionProvider(ctx)
		if err != nil {
			return "", err
		}
		raw = generated
	}

	resolved, err := instruction.Resolve(ctx, raw)
	if err != nil {
		return "", err
	}

	if f.agent.globalInstruction != "" {
		global, err := instruction.Resolve(ctx, f.agent.globalInstruction)
		if err != nil {
			return "", err
		}
		if resolved == "" {
			return global, nil
		}
		resolved += "\n\n" + global
	}
	return resolved, nil
}

// baseHistory builds the conversation from session events visible to
// this agent's branch. The current user content is appended only when
// the session does not already hold this invocation's events, which is
// the case when the agent runs without a runner.
func (f *flow) baseHistory(ctx agent.InvocationContext) []*a2a.Message {
	var history []*a2a.Message
	invocationInSession := false

	if f.agent.includeContents != IncludeContentsNone {
		if session := ctx.Session(); session != nil && session.Events() != nil {
			for ev := range session.Events().All() {
				if ev.InvocationID == ctx.InvocationID() {
					invocationInSession = true
				}
				if ev.Partial || ev.Message == nil {
					continue
				}
				if !branchVisible(ctx.Branch(), ev.Branch) {
					continue
				}
				history = append(history, ev.Message)
			}
		}
	}

	if !invocationInSession {
		if uc := ctx.UserContent(); uc != nil {
			history = append(history, uc.ToMessage())
		}
	}
	return history
}

// branchVisible reports whether an event recorded on eventBranch is
// visible to an agent running on currentBranch. Events from ancestor
// branches and the root are visible; sibling branches are not.
func branchVisible(currentBranch, eventBranch string) bool {
	if eventBranch == "" || eventBranch == currentBranch {
		return true
	}
	return strings.HasPrefix(currentBranch, eventBranch+"/")
}

// callModel invokes the LLM with before/after callbacks, yielding
// partial events while streaming.
func (f *flow) callModel(
	ctx agent.InvocationContext,
	req *model.Request,
	yield func(*agent.Event, error) bool,
) (*model.Response, error) {
	for _, cb := range f.agent.beforeModelCallbacks {
		resp, err := cb(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("before-model callback: %w", err)
		}
		if resp != nil {
			return resp, nil
		}
	}

	stream := f.agent.enableStreaming
	if rc := ctx.RunConfig(); rc != nil && rc.StreamingMode == agent.StreamingModeSSE {
		stream = true
	}

	var finalResp *model.Response
	for resp, err := range f.agent.model.GenerateContent(ctx, req, stream) {
		for _, cb := range f.agent.afterModelCallbacks {
			replaced, cbErr := cb(ctx, resp, err)
			if cbErr != nil {
				return nil, fmt.Errorf("after-model callback: %w", cbErr)
			}
			if replaced != nil {
				resp, err = replaced, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("llmagent %s: generate: %w", f.agent.Name(), err)
		}
		if resp == nil {
			continue
		}

		if resp.Partial {
			if !yield(f.buildPartialEvent(ctx, resp), nil) {
				return nil, fmt.Errorf("streaming interrupted")
			}
			continue
		}
		finalResp = resp
	}
	return finalResp, nil
}

// buildModelEvent converts the final model response into an event.
func (f *flow) buildModelEvent(ctx agent.InvocationContext, resp *model.Response) *agent.Event {
	event := agent.NewEvent(ctx.InvocationID())
	event.Author = f.agent.Name()
	event.Branch = ctx.Branch()

	var parts []a2a.Part
	if resp.Content != nil {
		for _, part := range resp.Content.Parts {
			if tp, ok := part.(a2a.TextPart); ok && tp.Text != "" {
				parts = append(parts, part)
			}
		}
	}
	for _, tc := range resp.ToolCalls {
		event.ToolCalls = append(event.ToolCalls, agent.ToolCallState{
			ID:     tc.ID,
			Name:   tc.Name,
			Args:   tc.Args,
			Status: "working",
		})
		parts = append(parts, a2a.DataPart{Data: map[string]any{
			"type":      "tool_use",
			"id":        tc.ID,
			"name":      tc.Name,
			"arguments": tc.Args,
		}})
	}
	if len(parts) > 0 {
		event.Message = a2a.NewMessage(a2a.MessageRoleAgent, parts...)
	}

	if f.agent.outputKey != "" && len(resp.ToolCalls) == 0 {
		if text := resp.TextContent(); text != "" {
			event.Actions.StateDelta[f.agent.outputKey] = text
		}
	}
	return event
}

// buildPartialEvent wraps a streaming chunk in a partial event.
func (f *flow) buildPartialEvent(ctx agent.InvocationContext, resp *model.Response) *agent.Event {
	event := agent.NewEvent(ctx.InvocationID())
	event.Author = f.agent.Name()
	event.Branch = ctx.Branch()
	event.Partial = true

	if resp.Content != nil {
		event.Message = a2a.NewMessage(a2a.MessageRoleAgent, resp.Content.Parts...)
	}
	for _, tc := range resp.ToolCalls {
		event.ToolCalls = append(event.ToolCalls, agent.ToolCallState{
			ID:     tc.ID,
			Name:   tc.Name,
			Args:   tc.Args,
			Status: "working",
		})
	}
	return event
}

// executeToolCalls runs every requested tool and merges the results
// into a single tool response event.
func (f *flow) executeToolCalls(
	ctx agent.InvocationContext,
	calls []tool.ToolCall,
	yield func(*agent.Event, error) bool,
) *agent.Event {
	var resultParts []a2a.Part
	var results []agent.ToolResultState
	merged := agent.EventActions{StateDelta: make(map[string]any)}

	for _, tc := range calls {
		t := f.agent.findTool(ctx, tc.Name)
		toolCtx := newToolContext(ctx, tc.ID)

		var content string
		var isError bool

		switch {
		case t == nil:
			content = fmt.Sprintf("Error: tool %q not found", tc.Name)
			isError = true

		default:
			if st, ok := t.(tool.StreamingTool); ok {
				streamed, err := f.executeStreamingTool(ctx, toolCtx, st, tc, yield)
				if err != nil {
					content = fmt.Sprintf("Error: %v", err)
					isError = true
				} else {
					content = streamed
				}
			} else {
				result, err := f.callTool(toolCtx, t, tc.Args)
				if err != nil {
					content = fmt.Sprintf("Error: %v", err)
					isError = true
				} else {
					content = formatToolResult(result)
				}
			}
			mergeActions(&merged, toolCtx.Actions())
		}

		status := "success"
		if isError {
			status = "failed"
		}
		results = append(results, agent.ToolResultState{
			ToolCallID: tc.ID,
			Content:    content,
			Status:     status,
			IsError:    isError,
		})
		resultParts = append(resultParts, a2a.DataPart{Data: map[string]any{
			"type":         "tool_result",
			"tool_call_id": tc.ID,
			"tool_name":    tc.Name,
			"content":      content,
			"is_error":     isError,
		}})
	}

	event := agent.NewEvent(ctx.InvocationID())
	event.Author = f.agent.Name()
	event.Branch = ctx.Branch()
	event.ToolResults = results
	event.Message = a2a.NewMessage(a2a.MessageRoleUser, resultParts...)
	event.Actions = merged
	return event
}

// executeStreamingTool runs a streaming tool, yielding a partial event
// per chunk.
func (f *flow) executeStreamingTool(
	ctx agent.InvocationContext,
	toolCtx tool.Context,
	st tool.StreamingTool,
	tc tool.ToolCall,
	yield func(*agent.Event, error) bool,
) (string, error) {
	for _, cb := range f.agent.beforeToolCallbacks {
		result, err := cb(toolCtx, st, tc.Args)
		if err != nil {
			return "", fmt.Errorf("before-tool callback: %w", err)
		}
		if result != nil {
			return formatToolResult(result), nil
		}
	}

	var accumulated string
	var final *tool.Result
	for result, err := range st.CallStreaming(toolCtx, tc.Args) {
		if err != nil {
			return "", err
		}
		if result == nil {
			continue
		}
		if !result.Streaming {
			final = result
			continue
		}

		accumulated += fmt.Sprintf("%v", result.Content)
		event := agent.NewEvent(ctx.InvocationID())
		event.Author = f.agent.Name()
		event.Branch = ctx.Branch()
		event.Partial = true
		event.ToolResults = []agent.ToolResultState{{
			ToolCallID: tc.ID,
			Content:    accumulated,
			Status:     "working",
		}}
		if !yield(event, nil) {
			return accumulated, fmt.Errorf("streaming interrupted")
		}
	}

	content := accumulated
	if final != nil {
		content = fmt.Sprintf("%v", final.Content)
		if final.Error != "" {
			return "", fmt.Errorf("%s", final.Error)
		}
	}

	for _, cb := range f.agent.afterToolCallbacks {
		replaced, err := cb(toolCtx, st, tc.Args, map[string]any{"content": content}, nil)
		if err != nil {
			return "", fmt.Errorf("after-tool callback: %w", err)
		}
		if replaced != nil {
			content = formatToolResult(replaced)
		}
	}
	return content, nil
}

// callTool runs a callable tool with before/after callbacks.
func (f *flow) callTool(toolCtx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
	for _, cb := range f.agent.beforeToolCallbacks {
		result, err := cb(toolCtx, t, args)
		if err != nil {
			return nil, fmt.Errorf("before-tool callback: %w", err)
		}
		if result != nil {
			return result, nil
		}
	}

	callable, ok := t.(tool.CallableTool)
	if !ok {
		return nil, fmt.Errorf("tool %q is not callable", t.Name())
	}
	result, toolErr := callable.Call(toolCtx, args)

	for _, cb := range f.agent.afterToolCallbacks {
		replaced, err := cb(toolCtx, t, args, result, toolErr)
		if err != nil {
			return nil, fmt.Errorf("after-tool callback: %w", err)
		}
		if replaced != nil {
			result, toolErr = replaced, nil
		}
	}
	return result, toolErr
}

// formatToolResult renders a tool result map for the conversation.
func formatToolResult(result map[string]any) string {
	if result == nil {
		return ""
	}
	if content, ok := result["content"]; ok {
		if s, ok := content.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
			return "(no output)"
		}
		return fmt.Sprintf("%v", content)
	}
	if errMsg, ok := result["error"].(string); ok && len(result) == 1 {
		return "Error: " + errMsg
	}
	if r, ok := result["result"]; ok && len(result) == 1 {
		return fmt.Sprintf("%v", r)
	}
	return fmt.Sprintf("%v", result)
}

// populateToolCallIDs assigns IDs to tool calls that arrived without
// one, so calls can be matched to results.
func populateToolCallIDs(resp *model.Response) {
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = "call_" + uuid.NewString()[:8]
		}
	}
}

func mergeActions(dst *agent.EventActions, src *agent.EventActions) {
	if src == nil {
		return
	}
	for k, v := range src.StateDelta {
		dst.StateDelta[k] = v
	}
	dst.SkipSummarization = dst.SkipSummarization || src.SkipSummarization
	dst.Escalate = dst.Escalate || src.Escalate
}

// toolContext implements tool.Context for a single tool invocation.
type toolContext struct {
	agent.CallbackContext

	callID  string
	actions *agent.EventActions
}

func newToolContext(ctx agent.InvocationContext, callID string) *toolContext {
	return &toolContext{
		CallbackContext: ctx,
		callID:          callID,
		actions:         &agent.EventActions{StateDelta: make(map[string]any)},
	}
}

func (c *toolContext) FunctionCallID() string       { return c.callID }
func (c *toolContext) Actions() *agent.EventActions { return c.actions }

var _ tool.Context = (*toolContext)(nil)
