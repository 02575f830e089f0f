// Package session tracks in-flight browser authorizations so HTTP clients
// can start a login and poll for its outcome. Attempts are identified by a
// minted request id, settle exactly once, and are purged after a short
// retention window.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"

	"github.com/taskdeck/aigateway/internal/auth/gemini"
	"github.com/taskdeck/aigateway/internal/config"
	apperrors "github.com/taskdeck/aigateway/internal/errors"
	"github.com/taskdeck/aigateway/internal/metrics"
)

// Status classifies a poll result.
type Status int

const (
	// StatusPending means the browser flow has not finished yet.
	StatusPending Status = iota
	// StatusCompleted means tokens were obtained.
	StatusCompleted
	// StatusFailed means the attempt settled with an error.
	StatusFailed
	// StatusNotFound means the request id is unknown or already purged.
	StatusNotFound
)

// StartResult is returned when a new authorization is initiated.
type StartResult struct {
	RequestID string `json:"requestId"`
	AuthURL   string `json:"authUrl"`
}

// PollResult carries the outcome of one status poll.
type PollResult struct {
	Status Status
	Tokens *gemini.TokenSet
	Err    error
}

// attempt is one authorization tracked by the registry. done is closed when
// the attempt settles; tokens/err are immutable afterwards.
type attempt struct {
	state string
	done  chan struct{}

	tokens *gemini.TokenSet
	err    error
}

// Registry coordinates authorization attempts between the HTTP API and the
// loopback callback server.
type Registry struct {
	cfg      *config.Config
	callback *gemini.CallbackServer

	mu       sync.Mutex
	attempts map[string]*attempt
}

// NewRegistry creates a registry backed by the given callback server.
func NewRegistry(cfg *config.Config, callback *gemini.CallbackServer) *Registry {
	return &Registry{
		cfg:      cfg,
		callback: callback,
		attempts: make(map[string]*attempt),
	}
}

// StartAuth begins a new authorization attempt: it generates PKCE material
// and a correlation state, registers them with the callback server, and
// returns the URL the user must visit plus a request id for polling.
func (r *Registry) StartAuth(ctx context.Context) (*StartResult, error) {
	codes, err := gemini.GeneratePKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := gemini.GenerateState()
	if err != nil {
		return nil, err
	}

	resultCh, err := r.callback.Register(state, codes.CodeVerifier, r.cfg.OAuth.AuthTimeout())
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	a := &attempt{
		state: state,
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	r.attempts[requestID] = a
	r.mu.Unlock()

	go r.await(requestID, a, resultCh)

	authURL := gemini.BuildAuthorizationURL(&r.cfg.OAuth, codes.CodeChallenge, state)
	if r.cfg.OpenBrowser {
		if errOpen := browser.OpenURL(authURL); errOpen != nil {
			log.Warnf("open browser failed: %v", errOpen)
		}
	}

	log.WithFields(log.Fields{"request_id": requestID}).Info("authorization flow started")
	return &StartResult{RequestID: requestID, AuthURL: authURL}, nil
}

// await settles the attempt when the callback server delivers its single
// result, then arms the retention purge.
func (r *Registry) await(requestID string, a *attempt, resultCh <-chan gemini.AuthResult) {
	res := <-resultCh

	a.tokens = res.Tokens
	a.err = res.Err
	close(a.done)

	switch {
	case res.Err == nil:
		metrics.RecordAuthFlow("completed")
		log.WithFields(log.Fields{"request_id": requestID, "email": res.Tokens.Email}).Info("authorization completed")
	case apperrors.CodeOf(res.Err) == apperrors.CodeTimeout:
		metrics.RecordAuthFlow("timeout")
		log.WithFields(log.Fields{"request_id": requestID}).Warn("authorization timed out")
	default:
		metrics.RecordAuthFlow("failed")
		log.WithFields(log.Fields{"request_id": requestID}).Errorf("authorization failed: %v", res.Err)
	}

	// Settled attempts stay visible for late polls, then disappear.
	time.AfterFunc(r.cfg.OAuth.Retention(), func() {
		r.mu.Lock()
		delete(r.attempts, requestID)
		r.mu.Unlock()
	})
}

// PollStatus reports the state of an attempt. When the attempt is still
// pending it blocks until settlement, the poll window elapses, or ctx is
// cancelled, whichever comes first.
func (r *Registry) PollStatus(ctx context.Context, requestID string) PollResult {
	r.mu.Lock()
	a, ok := r.attempts[requestID]
	r.mu.Unlock()
	if !ok {
		return PollResult{Status: StatusNotFound}
	}

	timer := time.NewTimer(r.cfg.OAuth.PollWindow())
	defer timer.Stop()

	select {
	case <-a.done:
		if a.err != nil {
			return PollResult{Status: StatusFailed, Err: a.err}
		}
		return PollResult{Status: StatusCompleted, Tokens: a.tokens}
	case <-timer.C:
		return PollResult{Status: StatusPending}
	case <-ctx.Done():
		return PollResult{Status: StatusPending}
	}
}

// ActiveCount reports how many attempts the registry currently tracks,
// settled-but-retained entries included.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
