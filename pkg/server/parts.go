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
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// toContent converts an A2A message into agent content. Parts carry
// over unchanged since both sides speak a2a.Part.
func toContent(msg *a2a.Message) *agent.Content {
	if msg == nil {
		return nil
	}
	return &agent.Content{
		Parts: msg.Parts,
		Role:  msg.Role,
	}
}
