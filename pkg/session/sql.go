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
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/agent"

	// Drivers for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLService persists sessions in a relational database.
//
// Two tables are used: sessions (one row per session, state stored as
// a JSON column) and session_events (one row per event, insertion
// order kept by a per-session sequence number).
type SQLService struct {
	db      *sql.DB
	dialect string
}

// NewSQL creates a SQL-backed session service on an open database
// handle and initializes the schema.
func NewSQL(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	switch dialect {
	case DialectSQLite, DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}
	return s, nil
}

// OpenSQL opens a database connection for the given dialect and DSN
// and returns a SQL-backed session service.
func OpenSQL(dialect, dsn string) (*SQLService, error) {
	driver := dialect
	if driver == DialectSQLite {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", dialect, err)
	}

	return NewSQL(db, dialect)
}

// Close closes the underlying database handle.
func (s *SQLService) Close() error {
	return s.db.Close()
}

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    app_name   VARCHAR(255) NOT NULL,
    user_id    VARCHAR(255) NOT NULL,
    id         VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`

const createEventsSQL = `
CREATE TABLE IF NOT EXISTS session_events (
    app_name     VARCHAR(255) NOT NULL,
    user_id      VARCHAR(255) NOT NULL,
    session_id   VARCHAR(255) NOT NULL,
    sequence_num BIGINT NOT NULL,
    event_json   TEXT NOT NULL,
    created_at   TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, sequence_num)
)`

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSessionsSQL); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createEventsSQL); err != nil {
		return fmt.Errorf("create session_events table: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $1..$n for postgres.
func (s *SQLService) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLService) Get(ctx context.Context, appName, userID, sessionID string) (Session, error) {
	var stateJSON string
	var updatedAt time.Time
	query := s.rebind(`SELECT state_json, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)
	err := s.db.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(&stateJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}

	events, err := s.loadEvents(ctx, appName, userID, sessionID)
	if err != nil {
		return nil, err
	}

	sess := &memorySession{
		id:          sessionID,
		appName:     appName,
		userID:      userID,
		state:       newMemoryState(state),
		events:      events,
		lastUpdated: updatedAt,
	}
	return &sqlSession{memorySession: sess}, nil
}

func (s *SQLService) Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if state == nil {
		state = map[string]any{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}

	now := time.Now()
	query := s.rebind(`INSERT INTO sessions (app_name, user_id, id, state_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, appName, userID, sessionID, string(stateJSON), now, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	sess := &memorySession{
		id:          sessionID,
		appName:     appName,
		userID:      userID,
		state:       newMemoryState(state),
		lastUpdated: now,
	}
	return &sqlSession{memorySession: sess}, nil
}

func (s *SQLService) AppendEvent(ctx context.Context, sess Session, event *agent.Event) error {
	ss, ok := sess.(*sqlSession)
	if !ok {
		return fmt.Errorf("session %q was not loaded from this service", sess.ID())
	}

	eventJSON, err := marshalEvent(event)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var seq int64
	seqQuery := s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`)
	if err := tx.QueryRowContext(ctx, seqQuery, sess.AppName(), sess.UserID(), sess.ID()).Scan(&seq); err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}

	now := time.Now()
	insQuery := s.rebind(`INSERT INTO session_events (app_name, user_id, session_id, sequence_num, event_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insQuery, sess.AppName(), sess.UserID(), sess.ID(), seq+1, eventJSON, now); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	// Keep the loaded copy current before persisting the state snapshot.
	ss.append(event)
	if err := applyStateDelta(ss.state, event.Actions.StateDelta); err != nil {
		return err
	}

	stateJSON, err := s.snapshotState(ss)
	if err != nil {
		return err
	}
	updQuery := s.rebind(`UPDATE sessions SET state_json = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := tx.ExecContext(ctx, updQuery, stateJSON, now, sess.AppName(), sess.UserID(), sess.ID()); err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *SQLService) List(ctx context.Context, appName, userID string) ([]Session, error) {
	query := s.rebind(`SELECT id FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY updated_at DESC`)
	rows, err := s.db.QueryContext(ctx, query, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, appName, userID, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *SQLService) Delete(ctx context.Context, appName, userID, sessionID string) error {
	evQuery := s.rebind(`DELETE FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`)
	if _, err := s.db.ExecContext(ctx, evQuery, appName, userID, sessionID); err != nil {
		return fmt.Errorf("delete session events: %w", err)
	}
	query := s.rebind(`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := s.db.ExecContext(ctx, query, appName, userID, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLService) loadEvents(ctx context.Context, appName, userID, sessionID string) ([]*agent.Event, error) {
	query := s.rebind(`SELECT event_json FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY sequence_num ASC`)
	rows, err := s.db.QueryContext(ctx, query, appName, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*agent.Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event, err := unmarshalEvent(eventJSON)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLService) snapshotState(ss *sqlSession) (string, error) {
	snapshot := make(map[string]any)
	for k, v := range ss.state.All() {
		snapshot[k] = v
	}
	stateJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode session state: %w", err)
	}
	return string(stateJSON), nil
}

// sqlSession wraps a loaded in-memory copy; the marker type lets
// AppendEvent reject sessions not loaded from the SQL service.
type sqlSession struct {
	*memorySession
}

// eventRecord is the persisted JSON form of an agent.Event.
type eventRecord struct {
	ID           string                  `json:"id"`
	Timestamp    time.Time               `json:"timestamp"`
	InvocationID string                  `json:"invocation_id"`
	Branch       string                  `json:"branch,omitempty"`
	Author       string                  `json:"author"`
	Message      json.RawMessage         `json:"message,omitempty"`
	StateDelta   map[string]any          `json:"state_delta,omitempty"`
	Escalate     bool                    `json:"escalate,omitempty"`
	TurnComplete bool                    `json:"turn_complete,omitempty"`
	ErrorCode    string                  `json:"error_code,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	ToolCalls    []agent.ToolCallState   `json:"tool_calls,omitempty"`
	ToolResults  []agent.ToolResultState `json:"tool_results,omitempty"`
}

func marshalEvent(event *agent.Event) (string, error) {
	rec := eventRecord{
		ID:           event.ID,
		Timestamp:    event.Timestamp,
		InvocationID: event.InvocationID,
		Branch:       event.Branch,
		Author:       event.Author,
		StateDelta:   event.Actions.StateDelta,
		Escalate:     event.Actions.Escalate,
		TurnComplete: event.TurnComplete,
		ErrorCode:    event.ErrorCode,
		ErrorMessage: event.ErrorMessage,
		ToolCalls:    event.ToolCalls,
		ToolResults:  event.ToolResults,
	}
	if event.Message != nil {
		msgJSON, err := json.Marshal(event.Message)
		if err != nil {
			return "", fmt.Errorf("encode event message: %w", err)
		}
		rec.Message = msgJSON
	}

	out, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(out), nil
}

func unmarshalEvent(data string) (*agent.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	event := &agent.Event{
		ID:           rec.ID,
		Timestamp:    rec.Timestamp,
		InvocationID: rec.InvocationID,
		Branch:       rec.Branch,
		Author:       rec.Author,
		Actions: agent.EventActions{
			StateDelta: rec.StateDelta,
			Escalate:   rec.Escalate,
		},
		TurnComplete: rec.TurnComplete,
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
		ToolCalls:    rec.ToolCalls,
		ToolResults:  rec.ToolResults,
	}
	if len(rec.Message) > 0 {
		var msg a2a.Message
		if err := json.Unmarshal(rec.Message, &msg); err != nil {
			return nil, fmt.Errorf("decode event message: %w", err)
		}
		event.Message = &msg
	}
	return event, nil
}

var _ Service = (*SQLService)(nil)
