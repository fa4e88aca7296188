package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/parley/internal/database"
	"github.com/koopa0/parley/internal/log"
	"github.com/koopa0/parley/internal/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db))

	return session.New(db, nil)
}

func newSessionMux(t *testing.T, store SessionStore) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	NewSessionHandler(store, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	mux := newSessionMux(t, store)

	body := `{"session_id": "s1", "metadata": {"user": "ada"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var created session.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, "ada", created.Metadata["user"])
	assert.Equal(t, 0, created.MessageCount)

	// Creating the same id again is idempotent and reports 200.
	req = httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(body)))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionHandler_CreateGeneratesID(t *testing.T) {
	store := newTestStore(t)
	mux := newSessionMux(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var created session.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.NotEmpty(t, created.ID, "server generates an id when absent")
}

func TestSessionHandler_CreateInvalidBody(t *testing.T) {
	mux := newSessionMux(t, newTestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(`{not json`)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_GetNotFound(t *testing.T) {
	mux := newSessionMux(t, newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_List(t *testing.T) {
	store := newTestStore(t)
	mux := newSessionMux(t, store)

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, id, nil)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit=2", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []session.Session `json:"sessions"`
		Total    int               `json:"total"`
		Limit    int               `json:"limit"`
		Offset   int               `json:"offset"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Sessions, 2)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
}

func TestSessionHandler_ListBoundsParams(t *testing.T) {
	mux := newSessionMux(t, newTestStore(t))

	// Out-of-range values clamp rather than error.
	req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit=999999&offset=-5", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(MaxListLimit), resp["limit"])
	assert.Equal(t, float64(0), resp["offset"])
}

func TestSessionHandler_Delete(t *testing.T) {
	store := newTestStore(t)
	mux := newSessionMux(t, store)

	_, err := store.Create(context.Background(), "doomed", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/doomed", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Second delete reports not found.
	req = httptest.NewRequest(http.MethodDelete, "/api/sessions/doomed", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseIntParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=50&bad=abc", nil)

	assert.Equal(t, 50, parseIntParam(r, "limit", 100, 1, 1000))
	assert.Equal(t, 100, parseIntParam(r, "missing", 100, 1, 1000))
	assert.Equal(t, 100, parseIntParam(r, "bad", 100, 1, 1000))
}
