package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/taskdeck/aigateway/internal/auth/gemini"
	"github.com/taskdeck/aigateway/internal/auth/session"
	"github.com/taskdeck/aigateway/internal/config"
	"github.com/taskdeck/aigateway/internal/idestore"
	"github.com/taskdeck/aigateway/internal/router"
)

type apiFixture struct {
	server *Server
	cfg    *config.Config
}

func newAPIFixture(t *testing.T, publicUpstream, cloudUpstream string) *apiFixture {
	t.Helper()
	cfg, err := config.LoadConfig("does-not-exist.yaml")
	require.NoError(t, err)
	cfg.OAuth.CallbackPort = 0
	cfg.OAuth.PollWindowSeconds = 1
	cfg.OpenBrowser = false
	if publicUpstream != "" {
		cfg.Generation.GeminiBaseURL = publicUpstream
	}
	if cloudUpstream != "" {
		cfg.Generation.CloudCodeBaseURL = cloudUpstream
	}

	callback := gemini.NewCallbackServer(cfg, gemini.NewClient(cfg))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = callback.Shutdown(ctx)
	})

	registry := session.NewRegistry(cfg, callback)
	genRouter := router.New(cfg, idestore.Disabled{})
	return &apiFixture{server: NewServer(cfg, registry, genRouter), cfg: cfg}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthLoginReturnsURLAndRequestID(t *testing.T) {
	f := newAPIFixture(t, "", "")

	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotEmpty(t, gjson.Get(body, "requestId").String())
	authURL := gjson.Get(body, "authUrl").String()
	assert.Contains(t, authURL, "code_challenge=")
	assert.Contains(t, authURL, "state=")
}

func TestAuthStatusUnknownID(t *testing.T) {
	f := newAPIFixture(t, "", "")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/status/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthStatusPending(t *testing.T) {
	f := newAPIFixture(t, "", "")

	login := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusOK, login.Code)
	requestID := gjson.Get(login.Body.String(), "requestId").String()

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/status/"+requestID, nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", gjson.Get(rec.Body.String(), "status").String())
}

func TestGenerateWithoutCredentials(t *testing.T) {
	f := newAPIFixture(t, "", "")

	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"gemini-2.5-flash","contents":[]}`))
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_required", gjson.Get(rec.Body.String(), "code").String())
}

func TestGenerateMissingModel(t *testing.T) {
	f := newAPIFixture(t, "", "")

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"contents":[]}`))
	req.Header.Set("x-goog-api-key", "key-1")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", gjson.Get(rec.Body.String(), "code").String())
}

func TestGenerateInvalidJSON(t *testing.T) {
	f := newAPIFixture(t, "", "")

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{broken`))
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateUnaryTaggedWithSource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "key=key-1")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`))
	}))
	defer upstream.Close()

	f := newAPIFixture(t, upstream.URL, "")
	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"gemini-2.5-flash","contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	req.Header.Set("x-goog-api-key", "key-1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "gemini-api-key-direct", gjson.Get(body, "source").String())
	assert.True(t, gjson.Get(body, "candidates").Exists())
}

func TestGenerateServerConfiguredAPIKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "key=server-key")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	f := newAPIFixture(t, upstream.URL, "")
	f.cfg.GeminiAPIKey = "server-key"

	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"gemini-2.5-flash","contents":[]}`))
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateUpstream400PropagatesVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown model"}}`))
	}))
	defer upstream.Close()

	f := newAPIFixture(t, upstream.URL, "")
	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"broken-model","contents":[]}`))
	req.Header.Set("x-goog-api-key", "key-1")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown model")
	// Error bodies are never tagged.
	assert.False(t, gjson.Get(rec.Body.String(), "source").Exists())
}

func TestGenerateStreamRelaysSSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "alt=sse")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"text\":\"one\"}\n\ndata: {\"text\":\"two\"}\n\n"))
	}))
	defer upstream.Close()

	f := newAPIFixture(t, upstream.URL, "")
	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"gemini-2.5-flash","contents":[],"stream":true}`))
	req.Header.Set("x-goog-api-key", "key-1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gemini-api-key-direct", rec.Header().Get("X-Generation-Source"))
	assert.Contains(t, rec.Body.String(), "data: {\"text\":\"one\"}")
	assert.Contains(t, rec.Body.String(), "data: {\"text\":\"two\"}")
}

func TestGenerateExhaustionWithCredentials503(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	f := newAPIFixture(t, upstream.URL, "")
	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"gemini-2.5-flash","contents":[]}`))
	req.Header.Set("x-goog-api-key", "key-1")
	rec := f.do(req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, "", "")
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, "", "")
	// Exercise a counted route first so gateway series exist.
	f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aigateway_http_requests_total")
}
