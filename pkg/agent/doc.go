// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent defines the core agent interfaces and types.
//
// # Agent Interface
//
// The Agent interface is the fundamental abstraction for all agents:
//
//	type Agent interface {
//	    Name() string
//	    Description() string
//	    Run(ctx InvocationContext) iter.Seq2[*Event, error]
//	    SubAgents() []Agent
//	}
//
// Agents yield Events as they execute. Events carry message content,
// state deltas, and control actions such as escalation.
//
// # Building Agents
//
// Most code uses a specialized constructor rather than agent.New directly:
//
//	assistant, err := llmagent.New(llmagent.Config{
//	    Name:        "assistant",
//	    Model:       myModel,
//	    Instruction: "You are a helpful assistant.",
//	})
//
// Custom agents provide their own run function:
//
//	echo, err := agent.New(agent.Config{
//	    Name: "echo",
//	    Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
//	        return func(yield func(*agent.Event, error) bool) {
//	            event := agent.NewEvent(ctx.InvocationID())
//	            event.Author = ctx.AgentName()
//	            event.Message = ctx.UserContent().ToMessage()
//	            event.TurnComplete = true
//	            yield(event, nil)
//	        }
//	    },
//	})
//
// # Contexts
//
// InvocationContext carries everything an agent needs during a run: the
// session, the current branch, the user content, and run configuration.
// ReadonlyContext and CallbackContext are narrower views passed to tools
// and callbacks.
package agent
