package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsteer/promptsteer/internal/config"
	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/engine"
	apperrors "github.com/promptsteer/promptsteer/internal/errors"
	"github.com/promptsteer/promptsteer/internal/server/handlers"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	builder := &engine.Builder{Encoders: []encoder.TextEncoder{encoder.NewHashEncoder(32)}}
	return New(cfg, handlers.NewAPI(builder, nil), nil)
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{Host: "127.0.0.1"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/score", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerRoutesHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerServesScoringAPI(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/eval", strings.NewReader(`{"expression":"sin(t)","t":0}`))
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"expression":"sin(t)","t":0,"value":0}`, rec.Body.String())
}

func TestServerEnforcesBodyLimit(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{MaxBodyBytes: 16})

	body := `{"expression":"` + strings.Repeat("1+", 40) + `1","t":0}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/eval", strings.NewReader(body)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodePayloadTooLarge, resp.Error.Code)
}

func TestServerWithoutAPIServesOnlyOperationalRoutes(t *testing.T) {
	srv := New(config.ServerConfig{Host: "localhost", Port: 8088}, nil, nil)
	assert.Equal(t, "localhost:8088", srv.Addr())
	assert.Equal(t, 8088, srv.Port())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/eval", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointRequiresToken(t *testing.T) {
	t.Setenv(AdminTokenEnv, "")
	srv := newTestServer(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
