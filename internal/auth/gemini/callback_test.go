package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/taskdeck/aigateway/internal/errors"
)

// newTestCallbackServer binds the loopback listener on an ephemeral port so
// parallel test runs cannot collide.
func newTestCallbackServer(t *testing.T, tokenURL string) *CallbackServer {
	t.Helper()
	cfg := testConfig(tokenURL)
	cfg.OAuth.CallbackPort = 0
	s := NewCallbackServer(cfg, NewClient(cfg))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func deliverCallback(s *CallbackServer, query string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth-callback?"+query, nil)
	s.handleCallback(rec, req)
	return rec
}

func waitResult(t *testing.T, ch <-chan AuthResult) AuthResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("authorization result not delivered")
		return AuthResult{}
	}
}

func TestCallbackResolvesRegisteredState(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "verifier-1", r.PostFormValue("code_verifier"))
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`))
	}))
	defer upstream.Close()

	s := newTestCallbackServer(t, upstream.URL)
	ch, err := s.Register("state-1", "verifier-1", time.Minute)
	require.NoError(t, err)

	rec := deliverCallback(s, "state=state-1&code=code-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication successful")

	res := waitResult(t, ch)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Tokens)
	assert.Equal(t, "at", res.Tokens.AccessToken)
	assert.Equal(t, "rt", res.Tokens.RefreshToken)
	assert.Equal(t, 0, s.PendingCount())
}

func TestCallbackUnknownStateIgnored(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	ch, err := s.Register("known-state", "verifier", time.Minute)
	require.NoError(t, err)

	// A callback with a state nobody registered still gets the page, but
	// must not settle the pending authorization.
	rec := deliverCallback(s, "state=unknown-state&code=code-x")
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case res := <-ch:
		t.Fatalf("unexpected settlement: %+v", res)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, s.PendingCount())
}

func TestCallbackErrorParamRejects(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	ch, err := s.Register("state-err", "verifier", time.Minute)
	require.NoError(t, err)

	deliverCallback(s, "state=state-err&error=access_denied")

	res := waitResult(t, ch)
	require.Error(t, res.Err)
	assert.Equal(t, apperrors.CodeExchange, apperrors.CodeOf(res.Err))
	assert.Contains(t, res.Err.Error(), "access_denied")
}

func TestCallbackMissingCodeRejects(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	ch, err := s.Register("state-nocode", "verifier", time.Minute)
	require.NoError(t, err)

	deliverCallback(s, "state=state-nocode")

	res := waitResult(t, ch)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "no code received")
}

func TestRegisterTimesOutWithoutCallback(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	ch, err := s.Register("state-slow", "verifier", 50*time.Millisecond)
	require.NoError(t, err)

	res := waitResult(t, ch)
	require.Error(t, res.Err)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.CodeOf(res.Err))
	assert.Equal(t, 0, s.PendingCount())
}

func TestCallbackAfterTimeoutIsNoOp(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	ch, err := s.Register("state-late", "verifier", 20*time.Millisecond)
	require.NoError(t, err)

	res := waitResult(t, ch)
	require.Error(t, res.Err)

	// The late callback finds no pending entry and changes nothing.
	rec := deliverCallback(s, "state=state-late&code=too-late")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.PendingCount())
}

func TestRegisterRejectsDuplicateState(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	_, err := s.Register("dup", "verifier", time.Minute)
	require.NoError(t, err)

	_, err = s.Register("dup", "verifier", time.Minute)
	require.Error(t, err)
}

func TestStartIsIdempotent(t *testing.T) {
	s := newTestCallbackServer(t, "http://unused")
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
}
