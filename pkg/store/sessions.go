// Copyright 2026 The Lore Authors
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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one QA conversation.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	QACount   int       `json:"qa_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnSource records one retrieved source cited by an answer.
type TurnSource struct {
	ChunkID      string   `json:"chunk_id"`
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	ChunkIndex   int      `json:"chunk_index"`
	Score        float64  `json:"score"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
	Preview      string   `json:"preview,omitempty"`
}

// Turn is one question/answer exchange within a session.
type Turn struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Question   string       `json:"question"`
	Answer     string       `json:"answer"`
	Sources    []TurnSource `json:"sources,omitempty"`
	Confidence float64      `json:"confidence"`

	// ProcessingTimeMs is the end-to-end latency of producing the answer.
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// SessionStats summarizes usage across all sessions.
type SessionStats struct {
	TotalSessions   int     `json:"total_sessions"`
	TotalQAPairs    int     `json:"total_qa_pairs"`
	AvgTurnsPerSess float64 `json:"avg_turns_per_session"`
	ActiveLast24h   int     `json:"active_last_24h"`
}

// CreateSession inserts a new session. A missing ID is generated; userID
// is optional and ties the session to its owner.
func (s *Store) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO sessions (id, user_id, title, qa_count, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`),
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, &SessionError{Op: "create", Err: err}
	}
	return sess, nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT id, user_id, title, qa_count, created_at, updated_at FROM sessions WHERE id = ?`), id)

	var sess Session
	var userID, title sql.NullString
	if err := row.Scan(&sess.ID, &userID, &title, &sess.QACount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFoundError("session", id)
		}
		return nil, &SessionError{Op: "get", SessionID: id, Err: err}
	}
	sess.UserID = userID.String
	sess.Title = title.String
	return &sess, nil
}

// ListRecentSessions returns up to limit sessions ordered by most recent
// activity.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, user_id, title, qa_count, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, &SessionError{Op: "list", Err: err}
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var userID, title sql.NullString
		if err := rows.Scan(&sess.ID, &userID, &title, &sess.QACount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, &SessionError{Op: "list", Err: err}
		}
		sess.UserID = userID.String
		sess.Title = title.String
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// AppendTurn records a QA exchange and bumps the session's activity
// counters in the same transaction. Writes to one session are serialized.
func (s *Store) AppendTurn(ctx context.Context, turn *Turn) error {
	if turn.SessionID == "" {
		return &SessionError{Op: "append_turn", Err: fmt.Errorf("session ID is required")}
	}

	mu := s.lockSession(turn.SessionID)
	mu.Lock()
	defer mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	turn.CreatedAt = time.Now().UTC()

	sourcesJSON, err := json.Marshal(turn.Sources)
	if err != nil {
		return &SessionError{Op: "append_turn", SessionID: turn.SessionID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SessionError{Op: "append_turn", SessionID: turn.SessionID, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`
UPDATE sessions SET qa_count = qa_count + 1, updated_at = ? WHERE id = ?`),
		turn.CreatedAt, turn.SessionID,
	)
	if err != nil {
		return &SessionError{Op: "append_turn", SessionID: turn.SessionID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NewNotFoundError("session", turn.SessionID)
	}

	_, err = tx.ExecContext(ctx, s.q(`
INSERT INTO qa_turns (id, session_id, question, answer, sources, confidence, processing_time_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		turn.ID, turn.SessionID, turn.Question, turn.Answer, string(sourcesJSON),
		turn.Confidence, turn.ProcessingTimeMs, turn.CreatedAt,
	)
	if err != nil {
		return &SessionError{Op: "append_turn", SessionID: turn.SessionID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &SessionError{Op: "append_turn", SessionID: turn.SessionID, Err: err}
	}
	return nil
}

// History returns a session's turns in chronological order. A limit of 0
// returns everything.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]*Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `
SELECT id, session_id, question, answer, sources, confidence, processing_time_ms, created_at
FROM qa_turns WHERE session_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, &SessionError{Op: "history", SessionID: sessionID, Err: err}
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var turn Turn
		var sourcesJSON sql.NullString
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Question, &turn.Answer,
			&sourcesJSON, &turn.Confidence, &turn.ProcessingTimeMs, &turn.CreatedAt); err != nil {
			return nil, &SessionError{Op: "history", SessionID: sessionID, Err: err}
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" && sourcesJSON.String != "null" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &turn.Sources); err != nil {
				return nil, &SessionError{Op: "history", SessionID: sessionID, Err: err}
			}
		}
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}

// DeleteSession removes a session and its turns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	mu := s.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SessionError{Op: "delete", SessionID: sessionID, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// Explicit turn delete keeps behavior identical whether or not the
	// backend enforces the FK cascade.
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM qa_turns WHERE session_id = ?`), sessionID); err != nil {
		return &SessionError{Op: "delete", SessionID: sessionID, Err: err}
	}

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = ?`), sessionID)
	if err != nil {
		return &SessionError{Op: "delete", SessionID: sessionID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NewNotFoundError("session", sessionID)
	}

	if err := tx.Commit(); err != nil {
		return &SessionError{Op: "delete", SessionID: sessionID, Err: err}
	}

	s.sessionLocks.Delete(sessionID)
	return nil
}

// Stats summarizes session usage.
func (s *Store) Stats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(qa_count), 0) FROM sessions`)
	if err := row.Scan(&stats.TotalSessions, &stats.TotalQAPairs); err != nil {
		return nil, &SessionError{Op: "stats", Err: err}
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	row = s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sessions WHERE updated_at >= ?`), cutoff)
	if err := row.Scan(&stats.ActiveLast24h); err != nil {
		return nil, &SessionError{Op: "stats", Err: err}
	}

	if stats.TotalSessions > 0 {
		stats.AvgTurnsPerSess = float64(stats.TotalQAPairs) / float64(stats.TotalSessions)
	}
	return stats, nil
}
