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

// Package store persists documents, sessions, and QA history in SQL.
// SQLite is the default; postgres and mysql are selected by the
// database.url scheme.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lorehq/lore/pkg/config"
)

// Store is the SQL persistence layer. Safe for concurrent use; writes to
// the same session are additionally serialized so turn ordering within a
// session is deterministic.
type Store struct {
	db      *sql.DB
	dialect string

	// sessionLocks serializes writes per session ID.
	sessionLocks sync.Map
}

const createDocumentsTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(512) NOT NULL,
    original_name VARCHAR(512) NOT NULL,
    file_path VARCHAR(1024),
    size_bytes BIGINT NOT NULL DEFAULT 0,
    content_type VARCHAR(128),
    status VARCHAR(32) NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    vector_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64),
    title VARCHAR(512),
    qa_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const createTurnsTableSQL = `
CREATE TABLE IF NOT EXISTS qa_turns (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    sources TEXT,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    processing_time_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_session_id ON qa_turns(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_created_at ON qa_turns(session_id, created_at)`,
}

// Open connects per cfg.URL and initializes the schema.
func Open(cfg config.DatabaseSection) (*Store, error) {
	driver, dsn, dialect, err := parseDatabaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if dialect == "sqlite" && !strings.HasPrefix(dsn, ":memory:") {
		if dir := filepath.Dir(strings.SplitN(dsn, "?", 2)[0]); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)

	// SQLite serializes writers at the file level; a single connection
	// avoids database-is-locked errors under concurrent appends.
	if dialect == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// parseDatabaseURL maps a database URL onto driver name, DSN, and dialect.
func parseDatabaseURL(rawURL string) (driver, dsn, dialect string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "sqlite://"):
		path := strings.TrimPrefix(rawURL, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return "", "", "", fmt.Errorf("sqlite URL is missing a file path: %q", rawURL)
		}
		if path != ":memory:" {
			// Enforce foreign keys so session deletes cascade to turns.
			path += "?_foreign_keys=on"
		}
		return "sqlite3", path, "sqlite", nil

	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return "postgres", rawURL, "postgres", nil

	case strings.HasPrefix(rawURL, "mysql://"):
		dsn, err := mysqlDSN(rawURL)
		if err != nil {
			return "", "", "", err
		}
		return "mysql", dsn, "mysql", nil

	default:
		return "", "", "", fmt.Errorf("unsupported database URL scheme: %q", rawURL)
	}
}

// mysqlDSN converts a mysql:// URL to the go-sql-driver DSN form
// user:pass@tcp(host:port)/db?parseTime=true.
func mysqlDSN(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid mysql URL: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":3306"
	}

	auth := ""
	if u.User != nil {
		auth = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			auth += ":" + pass
		}
		auth += "@"
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("%stcp(%s)/%s?parseTime=true", auth, host, dbName), nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{createDocumentsTableSQL, createSessionsTableSQL, createTurnsTableSQL}
	statements = append(statements, createIndexesSQL...)

	for _, stmt := range statements {
		if s.dialect == "mysql" {
			// MySQL predates IF NOT EXISTS for indexes; ignore duplicates.
			stmt = strings.ReplaceAll(stmt, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX")
			stmt = strings.ReplaceAll(stmt, "DOUBLE PRECISION", "DOUBLE")
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if s.dialect == "mysql" && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return err
		}
	}
	return nil
}

// q converts ? placeholders to $n for postgres. SQLite and MySQL use ?.
func (s *Store) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lockSession returns the mutex serializing writes for sessionID.
func (s *Store) lockSession(sessionID string) *sync.Mutex {
	mu, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the active SQL dialect.
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
