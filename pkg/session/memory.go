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

package session

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// InMemory returns a session service backed by process memory.
// All data is lost when the process exits; intended for development
// and tests.
func InMemory() Service {
	return &memoryService{sessions: make(map[string]*memorySession)}
}

type memoryService struct {
	sessions map[string]*memorySession
	mu       sync.RWMutex
}

func sessionKey(appName, userID, sessionID string) string {
	return appName + "/" + userID + "/" + sessionID
}

func (s *memoryService) Get(ctx context.Context, appName, userID, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionKey(appName, userID, sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *memoryService) Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess := &memorySession{
		id:          sessionID,
		appName:     appName,
		userID:      userID,
		state:       newMemoryState(state),
		lastUpdated: time.Now(),
	}
	s.sessions[sessionKey(appName, userID, sessionID)] = sess
	return sess, nil
}

func (s *memoryService) AppendEvent(ctx context.Context, sess Session, event *agent.Event) error {
	s.mu.RLock()
	ms, ok := s.sessions[sessionKey(sess.AppName(), sess.UserID(), sess.ID())]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	ms.append(event)
	return applyStateDelta(ms.state, event.Actions.StateDelta)
}

func (s *memoryService) List(ctx context.Context, appName, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := appName + "/" + userID + "/"
	var out []Session
	for key, sess := range s.sessions {
		if strings.HasPrefix(key, prefix) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *memoryService) Delete(ctx context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionKey(appName, userID, sessionID))
	return nil
}

// memorySession is the in-memory Session implementation.
type memorySession struct {
	id      string
	appName string
	userID  string
	state   *memoryState

	mu          sync.RWMutex
	events      []*agent.Event
	lastUpdated time.Time
}

func (s *memorySession) ID() string           { return s.id }
func (s *memorySession) AppName() string      { return s.appName }
func (s *memorySession) UserID() string       { return s.userID }
func (s *memorySession) State() agent.State   { return s.state }
func (s *memorySession) Events() agent.Events { return (*memoryEvents)(s) }

func (s *memorySession) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

func (s *memorySession) append(event *agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.lastUpdated = time.Now()
}

// memoryEvents exposes a session's event slice as agent.Events.
type memoryEvents memorySession

func (e *memoryEvents) All() iter.Seq[*agent.Event] {
	return func(yield func(*agent.Event) bool) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		for _, ev := range e.events {
			if !yield(ev) {
				return
			}
		}
	}
}

func (e *memoryEvents) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events)
}

func (e *memoryEvents) At(i int) *agent.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i < 0 || i >= len(e.events) {
		return nil
	}
	return e.events[i]
}

// memoryState is a map-backed agent.State with scope-prefix support.
type memoryState struct {
	mu   sync.RWMutex
	data map[string]any
}

func newMemoryState(initial map[string]any) *memoryState {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &memoryState{data: data}
}

func (s *memoryState) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return val, nil
}

func (s *memoryState) Set(key string, val any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	return nil
}

func (s *memoryState) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryState) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for k, v := range s.data {
			if !yield(k, v) {
				return
			}
		}
	}
}

// ClearTempKeys removes all temp: scoped keys. The runner calls this
// when an invocation completes.
func (s *memoryState) ClearTempKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, KeyPrefixTemp) {
			delete(s.data, key)
		}
	}
}

var (
	_ Session             = (*memorySession)(nil)
	_ agent.State         = (*memoryState)(nil)
	_ agent.TempClearable = (*memoryState)(nil)
	_ agent.Events        = (*memoryEvents)(nil)
	_ Service             = (*memoryService)(nil)
)
