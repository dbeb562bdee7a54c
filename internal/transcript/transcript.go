// Package transcript appends conversation messages to a SQLite database.
//
// The transcript is write-only from the engine's point of view: sessions
// never read their history back from it. Entries exist for operators and
// tests.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
)

// ResetRole marks the point where a session's history was cleared.
const ResetRole = "reset"

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	position     INTEGER,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// Entry is one row of the transcript.
type Entry struct {
	SessionID  string
	Position   int // -1 for reset markers
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  string // JSON array of the assistant's requests, or empty
	CreatedAt  time.Time
}

// Store owns the database handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if missing) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("transcript path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers on the file.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply transcript schema: %w", err)
	}

	logger.Debug("transcript opened", slog.String("path", path))
	return &Store{db: db, logger: logging.WithOperation(logger, "transcript"), now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recorder returns a conversation.Recorder writing under sessionID.
func (s *Store) Recorder(sessionID string) conversation.Recorder {
	return &recorder{store: s, sessionID: sessionID}
}

// Append writes msgs as consecutive positions starting at first, in one
// transaction.
func (s *Store) Append(ctx context.Context, sessionID string, first int, msgs []conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transcript write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages
		(session_id, position, role, content, tool_call_id, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transcript write: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixMilli()
	for i, m := range msgs {
		calls := ""
		if len(m.ToolCalls) > 0 {
			raw, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = string(raw)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, first+i, string(m.Role), m.Content, m.ToolCallID, calls, now); err != nil {
			return fmt.Errorf("write transcript message %d: %w", first+i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript write: %w", err)
	}
	s.logger.Debug("transcript appended", slog.String("session_id", sessionID), slog.Int("messages", len(msgs)))
	return nil
}

// MarkReset writes a reset marker for sessionID.
func (s *Store) MarkReset(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, position, role, created_at) VALUES (?, NULL, ?, ?)`,
		sessionID, ResetRole, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write reset marker: %w", err)
	}
	return nil
}

// Entries returns every row of sessionID in insertion order.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, position, role, content, tool_call_id, tool_calls, created_at
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			position sql.NullInt64
			created  int64
		)
		if err := rows.Scan(&e.SessionID, &position, &e.Role, &e.Content, &e.ToolCallID, &e.ToolCalls, &created); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.Position = -1
		if position.Valid {
			e.Position = int(position.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions returns the distinct session ids in the transcript, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM messages GROUP BY session_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("query transcript sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type recorder struct {
	store     *Store
	sessionID string
}

func (r *recorder) RecordMessages(ctx context.Context, first int, msgs []conversation.Message) error {
	return r.store.Append(ctx, r.sessionID, first, msgs)
}

func (r *recorder) RecordReset(ctx context.Context) error {
	return r.store.MarkReset(ctx, r.sessionID)
}
