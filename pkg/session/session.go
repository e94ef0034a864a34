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

// Package session provides conversation sessions and their persistence.
//
// A session is a series of interactions between a user and one or more
// agents: an identifier, the owning app and user, a scoped key-value
// state, and an ordered event history. Services persist sessions either
// in memory (development, tests) or in a SQL database.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// Session represents a conversation session between a user and agents.
type Session interface {
	// ID returns the unique session identifier.
	ID() string

	// AppName returns the owning application name.
	AppName() string

	// UserID returns the owning user identifier.
	UserID() string

	// State returns the session state store.
	State() agent.State

	// Events returns the ordered event history.
	Events() agent.Events

	// LastUpdateTime returns when the session last changed.
	LastUpdateTime() time.Time
}

// Service manages session lifecycle and persistence.
//
// Implementations must keep event insertion order: events appended
// first are returned first by Session.Events().
type Service interface {
	// Get retrieves an existing session.
	// Returns ErrNotFound when no such session exists.
	Get(ctx context.Context, appName, userID, sessionID string) (Session, error)

	// Create creates a new session. When sessionID is empty, one is
	// generated. The initial state may be nil.
	Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (Session, error)

	// AppendEvent appends an event to the session history and applies
	// the event's state delta to the session state.
	AppendEvent(ctx context.Context, s Session, event *agent.Event) error

	// List returns all sessions for the given app and user.
	List(ctx context.Context, appName, userID string) ([]Session, error)

	// Delete removes a session and its events.
	Delete(ctx context.Context, appName, userID, sessionID string) error
}

// State key prefixes scope keys beyond a single session.
const (
	// KeyPrefixApp scopes state to the application, shared across
	// users and sessions.
	KeyPrefixApp = "app:"

	// KeyPrefixUser scopes state to the user, shared across that
	// user's sessions.
	KeyPrefixUser = "user:"

	// KeyPrefixTemp scopes state to a single invocation; temp keys
	// are cleared when the invocation completes.
	KeyPrefixTemp = "temp:"
)

// ErrKeyNotFound is returned by State.Get for missing keys.
var ErrKeyNotFound = errors.New("state key not found")

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// applyStateDelta folds an event's state delta into the session state.
// A nil delta value deletes the key.
func applyStateDelta(state agent.State, delta map[string]any) error {
	for key, val := range delta {
		if val == nil {
			if err := state.Delete(key); err != nil {
				return err
			}
			continue
		}
		if err := state.Set(key, val); err != nil {
			return err
		}
	}
	return nil
}
