package session

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/parley/internal/database"
	"github.com/koopa0/parley/internal/log"
)

// newTestStore creates a store backed by a fresh SQLite database in a temp
// directory. The raw handle is returned for tests that need to manipulate
// rows directly (e.g. backdating updated_at for sweep tests).
func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db))

	return New(db, log.NewNop()), db
}

func TestStore_CreateIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "s1", nil)
	require.NoError(t, err)
	assert.True(t, created, "first create should report newly created")

	created, err = store.Create(ctx, "s1", nil)
	require.NoError(t, err)
	assert.False(t, created, "duplicate create should be a benign no-op")

	// After deletion the id can be created again.
	deleted, err := store.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	created, err = store.Create(ctx, "s1", nil)
	require.NoError(t, err)
	assert.True(t, created, "create after delete should succeed anew")
}

func TestStore_GetNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_SessionMetadataRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	meta := map[string]any{"user": "alice", "channel": "web"}
	created, err := store.Create(ctx, "s1", meta)
	require.NoError(t, err)
	require.True(t, created)

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "alice", sess.Metadata["user"])
	assert.Equal(t, "web", sess.Metadata["channel"])
	assert.Zero(t, sess.MessageCount)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestStore_AppendOrdering(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third", "fourth"}
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := store.Append(ctx, "s1", role, c, nil)
		require.NoError(t, err)
	}

	messages, err := store.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, len(contents))

	for i, msg := range messages {
		assert.Equal(t, contents[i], msg.Content, "list order must equal append order")
		if i > 0 {
			prev := messages[i-1]
			// Ascending (timestamp, id): id breaks timestamp ties.
			assert.False(t, msg.Timestamp.Before(prev.Timestamp))
			assert.Greater(t, msg.ID, prev.ID)
		}
	}
}

func TestStore_AppendAutoCreatesSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "fresh", RoleUser, "hello", nil)
	require.NoError(t, err)

	sess, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.MessageCount)
	assert.Empty(t, sess.Metadata, "auto-created session has empty metadata")
}

func TestStore_AppendBumpsUpdatedAt(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", nil)
	require.NoError(t, err)

	// Backdate so the bump is observable regardless of clock resolution.
	past := time.Now().UTC().Add(-time.Hour)
	_, err = db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE session_id = ?", past, "s1")
	require.NoError(t, err)

	before, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	_, err = store.Append(ctx, "s1", RoleUser, "ping", nil)
	require.NoError(t, err)

	after, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt), "append must advance updated_at")
}

func TestStore_MessagesLimitReturnsEarliest(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		_, err := store.Append(ctx, "s1", RoleUser, c, nil)
		require.NoError(t, err)
	}

	// The limit returns the EARLIEST N messages, not the most recent window.
	messages, err := store.Messages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "two", messages[1].Content)
}

func TestStore_DeleteCascades(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", RoleUser, "hello", nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, "s1", RoleAssistant, "hi", nil)
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	messages, err := store.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, messages, "cascade must remove all owned messages")

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_DeleteMissing(t *testing.T) {
	store, _ := newTestStore(t)

	deleted, err := store.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_ListOrderAndPagination(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	// Three sessions with distinct, known updated_at values.
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, id, nil)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx,
			"UPDATE sessions SET updated_at = ? WHERE session_id = ?",
			base.Add(time.Duration(i)*time.Minute), id)
		require.NoError(t, err)
	}

	sessions, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ID, "most recently updated first")
	assert.Equal(t, "b", sessions[1].ID)

	sessions, err = store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].ID)
}

func TestStore_Sweep(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "stale", nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "active", nil)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE session_id = ?", old, "stale")
	require.NoError(t, err)

	removed, err := store.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Get(ctx, "active")
	assert.NoError(t, err)
}

func TestStore_ConcurrentFirstContact(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Two concurrent appends to the same unseen session id must produce
	// exactly one session row and lose neither write.
	const writers = 2
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Append(ctx, "race", RoleUser, "hello", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	sessions, err := store.List(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "exactly one session row")

	messages, err := store.Messages(ctx, "race", 0)
	require.NoError(t, err)
	require.Len(t, messages, writers, "both appends must land")
	assert.Less(t, messages[0].ID, messages[1].ID)
}

func TestStore_ConversationRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "s1", nil)
	require.NoError(t, err)
	require.True(t, created)

	_, err = store.Append(ctx, "s1", RoleUser, "Hello", nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, "s1", RoleAssistant, "Hi there!", map[string]any{"tools_used": []string{}})
	require.NoError(t, err)

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.MessageCount)

	messages, err := store.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "Hello", messages[0].Content)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hi there!", messages[1].Content)
}

func TestStore_MessageMetadataRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	meta := map[string]any{"tools_used": []any{"calculator", "weather"}}
	_, err := store.Append(ctx, "s1", RoleAssistant, "42", meta)
	require.NoError(t, err)

	messages, err := store.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, []any{"calculator", "weather"}, messages[0].Metadata["tools_used"])
}

func TestStore_GetWrapsOnlyNotFound(t *testing.T) {
	store, db := newTestStore(t)

	// A closed handle produces a storage failure, which must NOT map to
	// ErrSessionNotFound.
	require.NoError(t, db.Close())

	_, err := store.Get(context.Background(), "s1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionNotFound))
}
