// Package idestore reads OAuth credentials that a locally installed IDE
// assistant has already provisioned. The lookup is strictly best-effort: a
// missing database, a locked file or a malformed row all mean "no token",
// never an error, so the generation path cannot be broken by IDE state.
package idestore

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/taskdeck/aigateway/internal/config"
)

// tokenKey is the key under which the IDE assistant stores its OAuth token
// in the auth_kv table.
const tokenKey = "cloudcode:oauth:token"

// expiryMargin avoids handing out tokens that are about to expire.
const expiryMargin = 5 * time.Minute

// TokenSource yields a bearer token for the internal generation endpoint.
// The second return is false when no usable token exists.
type TokenSource interface {
	Token() (string, bool)
}

// storedToken mirrors the JSON shape the IDE writes.
type storedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

func (t *storedToken) expired() bool {
	if t.ExpiresAt == "" {
		return true
	}
	expiresAt, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil {
		if expiresAt, err = time.Parse(time.RFC3339Nano, t.ExpiresAt); err != nil {
			return true
		}
	}
	return time.Now().Add(expiryMargin).After(expiresAt)
}

// Store reads tokens from the IDE assistant's SQLite database.
type Store struct {
	dbPath string
}

// New creates a Store from configuration. A disabled store is represented
// by the Disabled sentinel so callers never branch on nil.
func New(cfg config.IDEStoreConfig) TokenSource {
	if !cfg.Enabled {
		return Disabled{}
	}
	path := cfg.DBPath
	if path == "" {
		path = defaultDatabasePath()
	}
	return &Store{dbPath: path}
}

// NewWithPath creates a Store reading the given database file.
func NewWithPath(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Disabled is a TokenSource that never yields a token.
type Disabled struct{}

// Token always reports no token.
func (Disabled) Token() (string, bool) { return "", false }

// defaultDatabasePath probes the conventional per-user location.
func defaultDatabasePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share", "cloudcode", "auth.sqlite3")
}

// Token returns a non-expired access token from the IDE database, or
// ("", false) when anything at all goes wrong.
func (s *Store) Token() (string, bool) {
	if s.dbPath == "" {
		return "", false
	}
	if _, err := os.Stat(s.dbPath); err != nil {
		return "", false
	}

	// Read-only open with a busy timeout so a concurrently writing IDE
	// does not wedge the lookup.
	dsn := s.dbPath + "?mode=ro&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Debugf("idestore: open %s: %v", s.dbPath, err)
		return "", false
	}
	defer func() { _ = db.Close() }()

	var valueJSON string
	if err = db.QueryRow("SELECT value FROM auth_kv WHERE key = ?", tokenKey).Scan(&valueJSON); err != nil {
		if err != sql.ErrNoRows {
			log.Debugf("idestore: query: %v", err)
		}
		return "", false
	}

	var token storedToken
	if err = json.Unmarshal([]byte(valueJSON), &token); err != nil {
		log.Debugf("idestore: parse token: %v", err)
		return "", false
	}
	if token.AccessToken == "" || token.expired() {
		return "", false
	}
	return token.AccessToken, true
}
