package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)

	// A second run must tolerate the no-change case.
	require.NoError(t, Migrate(db))
}

// Pragmas are connection-scoped in SQLite. Pin two distinct connections and
// verify both carry the settings, not just the one that happened to run the
// setup statements.
func TestOpen_PragmasApplyToEveryConnection(t *testing.T) {
	db := openTestDB(t)
	db.SetMaxOpenConns(2)
	ctx := context.Background()

	conn1, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn1.Close()

	conn2, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn2.Close()

	for i, conn := range []*sql.Conn{conn1, conn2} {
		var fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk, "foreign_keys off on connection %d", i+1)

		var busy int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
		assert.Equal(t, 5000, busy, "busy_timeout unset on connection %d", i+1)
	}
}

// Deleting a session on a connection other than the first must still cascade
// to its messages.
func TestOpen_CascadeDeleteOnSecondConnection(t *testing.T) {
	db := openTestDB(t)
	db.SetMaxOpenConns(2)
	ctx := context.Background()

	conn1, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn1.Close()

	now := time.Now().UTC()
	_, err = conn1.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at, metadata) VALUES (?, ?, ?, '{}')`,
		"s1", now, now)
	require.NoError(t, err)
	_, err = conn1.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp, metadata) VALUES (?, 'user', 'hello', ?, '{}')`,
		"s1", now)
	require.NoError(t, err)

	// Hold conn1 open so the delete below cannot reuse it.
	conn2, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn2.Close()

	_, err = conn2.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", "s1")
	require.NoError(t, err)

	var orphans int
	require.NoError(t, conn2.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", "s1").Scan(&orphans))
	assert.Zero(t, orphans, "messages must not survive their session")
}
