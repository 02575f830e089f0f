package gemini

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskdeck/aigateway/internal/config"
	apperrors "github.com/taskdeck/aigateway/internal/errors"
)

const confirmationPage = `<html><body><h1>Authentication successful!</h1><p>You can close this window and return to the dashboard.</p></body></html>`

// AuthResult is the settled outcome of one authorization attempt.
type AuthResult struct {
	Tokens *TokenSet
	Err    error
}

// pendingState tracks one in-flight authorization keyed by its state token.
// The entry is removed by whichever of callback or deadline claims it first.
type pendingState struct {
	verifier  string
	createdAt time.Time
	expiresAt time.Time
	result    chan AuthResult
	timer     *time.Timer
}

// CallbackServer owns the single loopback HTTP listener that receives
// OAuth redirects. It is an explicitly owned component: construct it once,
// inject it where needed, and call Start before the first authorization.
// Start is idempotent.
type CallbackServer struct {
	cfg    *config.Config
	client *Client

	mu      sync.Mutex
	states  map[string]*pendingState
	started bool
	server  *http.Server
	addr    string
}

// NewCallbackServer creates a callback server bound to the configured
// loopback port. client performs the code exchange when a callback lands.
func NewCallbackServer(cfg *config.Config, client *Client) *CallbackServer {
	return &CallbackServer{
		cfg:    cfg,
		client: client,
		states: make(map[string]*pendingState),
	}
}

// Start lazily binds the loopback listener. Calling it again after a
// successful start is a no-op.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	addr := fmt.Sprintf("localhost:%d", s.cfg.OAuth.CallbackPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind callback listener on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.OAuth.CallbackPath, s.handleCallback)
	server := &http.Server{Handler: mux}
	s.server = server
	s.addr = listener.Addr().String()
	s.started = true

	go func() {
		if errServe := server.Serve(listener); errServe != nil && errServe != http.ErrServerClosed {
			log.Errorf("callback server: %v", errServe)
		}
	}()
	log.Infof("OAuth callback server listening on %s%s", addr, s.cfg.OAuth.CallbackPath)
	return nil
}

// Shutdown stops the listener and rejects every pending authorization.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.started = false
	pending := s.states
	s.states = make(map[string]*pendingState)
	s.mu.Unlock()

	for _, entry := range pending {
		entry.timer.Stop()
		entry.result <- AuthResult{Err: apperrors.NewTimeout("authorization cancelled: server shutting down")}
	}
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Register records a new authorization attempt under state. The returned
// channel delivers exactly one AuthResult: the callback outcome, or a
// timeout rejection when no callback arrives within ttl.
func (s *CallbackServer) Register(state, verifier string, ttl time.Duration) (<-chan AuthResult, error) {
	if err := s.Start(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[state]; exists {
		return nil, fmt.Errorf("authorization state already registered")
	}

	now := time.Now()
	entry := &pendingState{
		verifier:  verifier,
		createdAt: now,
		expiresAt: now.Add(ttl),
		result:    make(chan AuthResult, 1),
	}
	entry.timer = time.AfterFunc(ttl, func() {
		if claimed := s.claim(state); claimed != nil {
			claimed.result <- AuthResult{Err: apperrors.NewTimeout("authorization not completed within the allowed window")}
		}
	})
	s.states[state] = entry
	return entry.result, nil
}

// claim removes and returns the entry for state, or nil when it is gone.
// Removal under the lock guarantees a single outcome per authorization.
func (s *CallbackServer) claim(state string) *pendingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[state]
	if !ok {
		return nil
	}
	delete(s.states, state)
	entry.timer.Stop()
	return entry
}

// Addr reports the bound listener address, or "" before Start.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// PendingCount reports the number of in-flight authorizations.
func (s *CallbackServer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// handleCallback serves the OAuth redirect. The browser always receives
// the static confirmation page immediately; resolution of the pending
// authorization happens out-of-band.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errParam := query.Get("error")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, confirmationPage)

	go s.resolve(state, code, errParam)
}

// resolve correlates a callback to its pending authorization and settles
// it. Unknown or replayed states are ignored.
func (s *CallbackServer) resolve(state, code, errParam string) {
	entry := s.claim(state)
	if entry == nil {
		log.Debugf("oauth callback with unknown state ignored")
		return
	}

	if errParam != "" {
		entry.result <- AuthResult{Err: apperrors.NewExchange(fmt.Sprintf("authentication failed via callback: %s", errParam), nil)}
		return
	}
	if code == "" {
		entry.result <- AuthResult{Err: apperrors.NewExchange("no code received in callback", nil)}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OAuth.RequestTimeout())
	defer cancel()

	tokens, err := s.client.ExchangeCode(ctx, code, entry.verifier)
	if err != nil {
		entry.result <- AuthResult{Err: err}
		return
	}

	// Best-effort enrichment; neither lookup may fail the authorization.
	tokens.Email = s.client.FetchUserEmail(ctx, tokens.AccessToken)
	tokens.ProjectID = s.client.FetchProjectID(ctx, tokens.AccessToken)

	entry.result <- AuthResult{Tokens: tokens}
}
