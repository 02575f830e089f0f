// Package gemini implements the OAuth authorization flow used to obtain
// Cloud Code credentials: PKCE generation, the loopback callback server,
// authorization-code exchange, and project discovery.
package gemini

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/taskdeck/aigateway/internal/config"
)

// PKCECodes holds a PKCE verifier and its derived challenge.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes generates a new pair of PKCE (Proof Key for Code
// Exchange) codes as specified in RFC 7636: a cryptographically random
// code verifier and its SHA256 code challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// GenerateState returns a cryptographically random correlation token used
// to match an OAuth callback to its originating authorization attempt.
func GenerateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}

// BuildAuthorizationURL assembles the authorization URL for the configured
// OAuth client, carrying the PKCE challenge and correlation state. Pure;
// no side effects.
func BuildAuthorizationURL(o *config.OAuthConfig, challenge, state string) string {
	conf := &oauth2.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURL(),
		Scopes:       o.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.AuthURL,
			TokenURL: o.TokenURL,
		},
	}
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// generateCodeVerifier creates a cryptographically random string of 128
// characters using URL-safe base64 encoding.
func generateCodeVerifier() (string, error) {
	// 96 random bytes encode to 128 base64 characters.
	buf := make([]byte, 96)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}

// generateCodeChallenge creates a SHA256 hash of the code verifier encoded
// using URL-safe base64 without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
