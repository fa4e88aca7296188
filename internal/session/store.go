// Package session provides persistence for conversation sessions and their
// ordered message history, backed by SQLite.
//
// A session owns its messages: deleting a session removes every message it
// contains (enforced by a cascading foreign key). Message order within a
// session is insertion order, observable as ascending (timestamp, id) where
// the auto-incrementing id breaks timestamp ties.
//
// Store is safe for concurrent use. All state lives in the database; appends
// run inside a transaction so concurrent writers on the same session cannot
// corrupt ordering or lose a write.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koopa0/parley/internal/log"
)

// Store manages session and message persistence.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// New creates a Store on an open database handle. The schema must already be
// migrated (see database.Migrate). A nil logger falls back to a no-op logger.
func New(db *sql.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Ping verifies the database connection. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create creates a session with the given id. It is idempotent: creating an
// id that already exists is a benign no-op reported by the false return, not
// an error. Two concurrent first-contact creates therefore both succeed, with
// exactly one observing true.
func (s *Store) Create(ctx context.Context, id string, metadata map[string]any) (bool, error) {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		id, now, now, metaJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	created := rows > 0
	if created {
		s.logger.Info("created session", "session_id", id)
	} else {
		s.logger.Debug("session already exists", "session_id", id)
	}
	return created, nil
}

// Get retrieves a session by id, including its derived message count.
// Returns ErrSessionNotFound when no such session exists.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, updated_at, metadata,
		        (SELECT COUNT(*) FROM messages WHERE messages.session_id = sessions.session_id)
		 FROM sessions
		 WHERE session_id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions ordered by updated_at descending (most recently
// active first) with offset-based pagination. Ordering between pages is only
// stable while no concurrent appends reorder sessions; acceptable for a
// listing view.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at, updated_at, metadata,
		        (SELECT COUNT(*) FROM messages WHERE messages.session_id = sessions.session_id)
		 FROM sessions
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	s.logger.Debug("listed sessions", "count", len(sessions), "limit", limit, "offset", offset)
	return sessions, nil
}

// Delete removes a session and, through the cascading foreign key, every
// message it owns, all or nothing. Returns true if a session existed and was
// removed; deleting a non-existent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Info("deleted session", "session_id", id)
	}
	return rows > 0, nil
}

// Sweep removes sessions whose updated_at is older than maxAge and returns
// the number removed. Intended as a periodic maintenance operation, not part
// of the request path.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if removed > 0 {
		s.logger.Info("swept stale sessions", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}

// Append adds a message to a session, creating the session with empty
// metadata if it does not exist yet. The message id and timestamp are
// assigned here; the owning session's updated_at advances in the same
// transaction, so readers never observe a message without its session.
func (s *Store) Append(ctx context.Context, sessionID, role, content string, metadata map[string]any) (*Message, error) {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	now := time.Now().UTC()

	// Get-or-create: the session must exist before its message is visible.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, '{}')
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, role, content, now, metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE session_id = ?",
		now, sessionID,
	); err != nil {
		return nil, fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("appended message", "session_id", sessionID, "role", role, "message_id", id)
	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}, nil
}

// Messages returns a session's messages ascending by (timestamp, id).
// A positive limit returns the EARLIEST limit messages, not the most recent
// window; callers wanting a recent window must load full history and trim.
// An unknown session yields an empty result, not an error.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `SELECT id, session_id, role, content, timestamp, metadata
	          FROM messages
	          WHERE session_id = ?
	          ORDER BY timestamp ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg      Message
			metaJSON string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Timestamp, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess     Session
		metaJSON string
	)
	if err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &metaJSON, &sess.MessageCount); err != nil {
		return nil, err
	}

	var err error
	if sess.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
		return nil, err
	}
	return &sess, nil
}

// marshalMetadata serializes an opaque metadata map; nil maps to "{}" so the
// column is never NULL.
func marshalMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
