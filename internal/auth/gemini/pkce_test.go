package gemini

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/aigateway/internal/config"
)

func TestGeneratePKCECodes(t *testing.T) {
	codes, err := GeneratePKCECodes()
	require.NoError(t, err)

	assert.Len(t, codes.CodeVerifier, 128)

	hash := sha256.Sum256([]byte(codes.CodeVerifier))
	want := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
	assert.Equal(t, want, codes.CodeChallenge)
}

func TestGeneratePKCECodesUnique(t *testing.T) {
	first, err := GeneratePKCECodes()
	require.NoError(t, err)
	second, err := GeneratePKCECodes()
	require.NoError(t, err)

	assert.NotEqual(t, first.CodeVerifier, second.CodeVerifier)
}

func TestGenerateStateUnique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		state, err := GenerateState()
		require.NoError(t, err)
		if _, dup := seen[state]; dup {
			t.Fatalf("duplicate state after %d generations", i)
		}
		seen[state] = struct{}{}
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	o := &config.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackPort: 8085,
		CallbackPath: "/oauth-callback",
		AuthURL:      "https://auth.example.com/authorize",
		TokenURL:     "https://auth.example.com/token",
		Scopes:       []string{"scope-a", "scope-b"},
	}

	raw := BuildAuthorizationURL(o, "challenge-value", "state-value")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "auth.example.com", parsed.Host)
	q := parsed.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8085/oauth-callback", q.Get("redirect_uri"))
	assert.Equal(t, "scope-a scope-b", q.Get("scope"))
	assert.Equal(t, "state-value", q.Get("state"))
	assert.Equal(t, "challenge-value", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
}
