package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/taskdeck/aigateway/internal/config"
	apperrors "github.com/taskdeck/aigateway/internal/errors"
	"github.com/taskdeck/aigateway/internal/util"
)

// expirySafetyMargin is subtracted from the reported token lifetime so
// callers refresh before the token actually expires.
const expirySafetyMargin = 5 * time.Minute

const (
	userInfoURL           = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"
	loadCodeAssistPath    = "/v1internal:loadCodeAssist"
	discoveryUserAgent    = "google-api-nodejs-client/9.15.1"
	discoveryAPIClient    = "gl-node/22.17.0"
	discoveryClientMeta   = `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`
	discoveryMetadataBody = `{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`
)

// TokenSet is the immutable result of a successful authorization: the
// token pair, the pre-adjusted expiry, and best-effort account metadata.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is epoch milliseconds, already moved back by the safety
	// margin so consumers can compare against the clock directly.
	ExpiresAt int64  `json:"expires_at"`
	Email     string `json:"email,omitempty"`
	ProjectID string `json:"project_id"`
}

// Client performs the token-endpoint and discovery RPCs of the
// authorization flow.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client

	// userInfoURL is overridable in tests.
	userInfoURL string
}

// NewClient creates a token exchange client from the gateway configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:         cfg,
		httpClient:  util.NewHTTPClient(cfg.ProxyURL, cfg.OAuth.RequestTimeout()),
		userInfoURL: userInfoURL,
	}
}

// ExchangeCode exchanges an authorization code plus PKCE verifier for a
// token pair. Both access_token and refresh_token are required: a grant
// without a refresh token silently breaks long-term use, so it is treated
// as a failure.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	o := &c.cfg.OAuth
	data := url.Values{}
	data.Set("client_id", o.ClientID)
	data.Set("client_secret", o.ClientSecret)
	data.Set("code", code)
	data.Set("code_verifier", verifier)
	data.Set("redirect_uri", o.RedirectURL())
	data.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("token exchange: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, apperrors.NewExchange(fmt.Sprintf("token exchange failed with status %d", resp.StatusCode), body)
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	refreshToken := gjson.GetBytes(body, "refresh_token").String()
	if accessToken == "" {
		return nil, apperrors.NewExchange("token response missing access_token", body)
	}
	if refreshToken == "" {
		return nil, apperrors.NewExchange("token response missing refresh_token", body)
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second).Add(-expirySafetyMargin).UnixMilli()

	return &TokenSet{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// FetchUserEmail returns the authenticated user's email, or "" when the
// lookup fails for any reason. Best-effort; never returns an error.
func (c *Client) FetchUserEmail(ctx context.Context, accessToken string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debugf("user info lookup failed: %v", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return gjson.GetBytes(body, "email").String()
}

// FetchProjectID discovers the backing cloud project id by trying the
// configured discovery endpoints in priority order. The first endpoint
// returning a recognizable project identifier wins; total failure degrades
// to the configured default project id. Discovery is an optimization and
// never fails the authorization.
func (c *Client) FetchProjectID(ctx context.Context, accessToken string) string {
	for _, endpoint := range c.cfg.OAuth.DiscoveryEndpoints {
		projectID, err := c.loadCodeAssistProject(ctx, endpoint, accessToken)
		if err != nil {
			log.Debugf("project discovery on %s failed: %v", endpoint, err)
			continue
		}
		if projectID != "" {
			return projectID
		}
	}
	return c.cfg.OAuth.DefaultProjectID
}

// loadCodeAssistProject performs one discovery RPC against endpoint.
func (c *Client) loadCodeAssistProject(ctx context.Context, endpoint, accessToken string) (string, error) {
	reqURL := strings.TrimRight(endpoint, "/") + loadCodeAssistPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(discoveryMetadataBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", discoveryUserAgent)
	req.Header.Set("X-Goog-Api-Client", discoveryAPIClient)
	req.Header.Set("Client-Metadata", discoveryClientMeta)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	// The project field is either a bare string or an object with an id.
	project := gjson.GetBytes(body, "cloudaicompanionProject")
	switch {
	case project.Type == gjson.String:
		return strings.TrimSpace(project.String()), nil
	case project.IsObject():
		return strings.TrimSpace(project.Get("id").String()), nil
	}
	return "", nil
}
