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
	"context"
	"fmt"
	"log/slog"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/runner"
	"github.com/kadirpekel/maestro/pkg/session"
)

// Executor bridges one entity's runner to the A2A protocol.
//
// Event translation:
//   - New task: TaskStatusUpdateEvent with TaskStateSubmitted
//   - Before the run: TaskStatusUpdateEvent with TaskStateWorking
//   - Per agent event: TaskArtifactUpdateEvent with translated parts
//   - After the last event: artifact update with LastChunk=true
//   - On run error: TaskStatusUpdateEvent with TaskStateFailed
//   - On success: TaskStatusUpdateEvent with TaskStateCompleted
type Executor struct {
	runner    *runner.Runner
	sessions  session.Service
	runConfig agent.RunConfig
}

// NewExecutor creates an executor over a prebuilt runner.
func NewExecutor(r *runner.Runner, sessions session.Service, runConfig agent.RunConfig) *Executor {
	return &Executor{runner: r, sessions: sessions, runConfig: runConfig}
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		slog.Error("Execute: message not provided")
		return fmt.Errorf("message not provided")
	}

	content := toContent(msg)

	if reqCtx.StoredTask == nil {
		event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write submitted event: %w", err)
		}
	}

	meta := toInvocationMeta(reqCtx)

	if err := e.prepareSession(ctx, meta); err != nil {
		event := toFailedStatusEvent(reqCtx, err, meta.eventMeta)
		if writeErr := queue.Write(ctx, event); writeErr != nil {
			return writeErr
		}
		return nil
	}

	workingEvent := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)
	workingEvent.Metadata = meta.eventMeta
	if err := queue.Write(ctx, workingEvent); err != nil {
		return err
	}

	processor := newEventProcessor(reqCtx, meta)
	return e.process(ctx, processor, content, queue)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	event.Final = true
	return queue.Write(ctx, event)
}

func (e *Executor) process(ctx context.Context, processor *eventProcessor, content *agent.Content, q eventqueue.Queue) error {
	meta := processor.meta

	for event, err := range e.runner.Run(ctx, meta.userID, meta.sessionID, content, e.runConfig) {
		if err != nil {
			failedEvent := processor.makeFailedEvent(fmt.Errorf("agent run failed: %w", err), nil)
			if writeErr := q.Write(ctx, failedEvent); writeErr != nil {
				return fmt.Errorf("failed to write error event: %w (original: %w)", writeErr, err)
			}
			return nil
		}

		if a2aEvent := processor.process(event); a2aEvent != nil {
			if err := q.Write(ctx, a2aEvent); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}

	for _, ev := range processor.makeTerminalEvents() {
		if err := q.Write(ctx, ev); err != nil {
			return fmt.Errorf("failed to write terminal event: %w", err)
		}
	}

	return nil
}

func (e *Executor) prepareSession(ctx context.Context, meta invocationMeta) error {
	appName := e.runner.AppName()

	_, err := e.sessions.Get(ctx, appName, meta.userID, meta.sessionID)
	if err == nil {
		return nil
	}

	_, err = e.sessions.Create(ctx, appName, meta.userID, meta.sessionID, make(map[string]any))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
