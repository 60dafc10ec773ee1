package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.IPC.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Logging.Level = "error"
	cfg.Storage.FormDBPath = filepath.Join(t.TempDir(), "forms.db")
	cfg.Bundle.CatalogPath = filepath.Join("..", "..", "bundle", "testdata", "catalog.yaml")

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t)

	w := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = get(t, srv, "/dump/abilities")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, srv, "/dump/forms/storage")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())
}

func TestServerRejectsUnknownHost(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/forms", strings.NewReader(`{"host_id":"wshost_missing"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-UID", "20020")
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewServerFailsOnMissingCatalog(t *testing.T) {
	cfg := config.Default()
	cfg.IPC.Enabled = false
	cfg.Storage.FormDBPath = filepath.Join(t.TempDir(), "forms.db")
	cfg.Bundle.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewServer(cfg)
	assert.Error(t, err)
}
