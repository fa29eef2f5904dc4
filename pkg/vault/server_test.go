package vault

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)
	return NewServer(m), root
}

func TestCreateWorktreePathTraversalRejected(t *testing.T) {
	server, root := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo", "repo"), 0o755))

	body := `{"theater":"demo","order_id":"../../etc"}`
	req := httptest.NewRequest(http.MethodPost, "/worktrees", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid")
}

func TestCreateWorktreeMissingFields(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/worktrees", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorktreeUnknownTheater(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/worktrees/ghost/order_1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveMissingWorktreeIs404(t *testing.T) {
	server, root := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo", "repo"), 0o755))

	req := httptest.NewRequest(http.MethodPost, "/worktrees/demo/order_nope/archive", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
