// Package config provides configuration management for the AI gateway.
// It handles loading and parsing YAML configuration files and provides
// structured access to server, OAuth, generation, and credential-store
// settings. Defaults are safe placeholders; real client credentials are
// expected to come from the config file or environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoint and placeholder values. The OAuth client values are
// placeholders; deployments must supply their own registered client.
const (
	DefaultPort         = 8317
	DefaultCallbackPort = 8085
	DefaultCallbackPath = "/oauth-callback"

	DefaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	DefaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultCloudCodeBaseURL = "https://cloudcode-pa.googleapis.com"

	PlaceholderClientID     = "oauth-client-id.apps.googleusercontent.com"
	PlaceholderClientSecret = "oauth-client-secret-placeholder"
	PlaceholderProjectID    = "cloudcode-default-project"
)

// DefaultScopes are the OAuth scopes requested during login.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// DefaultDiscoveryEndpoints is the ordered candidate list for the project
// discovery RPC. Earlier entries win; the prod endpoint is last.
var DefaultDiscoveryEndpoints = []string{
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://autopush-cloudcode-pa.sandbox.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the gateway listens.
	Port int `yaml:"port"`

	// Debug enables verbose logging and gin debug mode.
	Debug bool `yaml:"debug"`

	// LogDir, when set, routes logs to rotated files under this directory.
	LogDir string `yaml:"log-dir"`

	// ProxyURL is the URL of an optional proxy server (http, https or
	// socks5) to use for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// GeminiAPIKey is an optional server-side API key used when the client
	// does not supply one per request.
	GeminiAPIKey string `yaml:"gemini-api-key"`

	// OpenBrowser opens the authorization URL in the local browser when a
	// login is initiated. Useful when the gateway runs on a desktop.
	OpenBrowser bool `yaml:"open-browser"`

	// OAuth holds the authorization flow configuration.
	OAuth OAuthConfig `yaml:"oauth"`

	// Generation holds upstream generation endpoint configuration.
	Generation GenerationConfig `yaml:"generation"`

	// IDEStore configures the best-effort external IDE credential lookup.
	IDEStore IDEStoreConfig `yaml:"ide-store"`
}

// OAuthConfig holds the OAuth/PKCE authorization flow configuration.
type OAuthConfig struct {
	// ClientID is the registered OAuth client id.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the registered OAuth client secret.
	ClientSecret string `yaml:"client-secret"`

	// CallbackPort is the fixed local port for the loopback redirect.
	CallbackPort int `yaml:"callback-port"`

	// CallbackPath is the redirect path on the loopback server.
	CallbackPath string `yaml:"callback-path"`

	// AuthURL is the authorization endpoint.
	AuthURL string `yaml:"auth-url"`

	// TokenURL is the token exchange endpoint.
	TokenURL string `yaml:"token-url"`

	// Scopes are the requested OAuth scopes.
	Scopes []string `yaml:"scopes"`

	// DefaultProjectID is used when project discovery yields nothing.
	DefaultProjectID string `yaml:"default-project-id"`

	// DiscoveryEndpoints is the ordered candidate list for the project
	// discovery RPC.
	DiscoveryEndpoints []string `yaml:"discovery-endpoints"`

	// AuthTimeoutSeconds bounds a whole authorization attempt. When the
	// browser callback never arrives the attempt is rejected after this
	// many seconds. Default 300.
	AuthTimeoutSeconds int `yaml:"auth-timeout-seconds"`

	// PollWindowSeconds bounds a single status long-poll. Default 25.
	PollWindowSeconds int `yaml:"poll-window-seconds"`

	// RetentionSeconds keeps settled authorizations visible to late polls
	// before purging. Default 60.
	RetentionSeconds int `yaml:"retention-seconds"`

	// RequestTimeoutSeconds bounds individual outbound auth HTTP calls.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`
}

// GenerationConfig holds upstream generation endpoint configuration.
type GenerationConfig struct {
	// GeminiBaseURL is the public Generative Language API base URL.
	GeminiBaseURL string `yaml:"gemini-base-url"`

	// CloudCodeBaseURL is the OAuth-authenticated internal API base URL.
	CloudCodeBaseURL string `yaml:"cloudcode-base-url"`

	// Region is used when building resource-path model names.
	Region string `yaml:"region"`

	// RequestTimeoutSeconds bounds outbound generation calls. Zero means
	// no client-side timeout (streaming responses can be long-lived).
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`
}

// IDEStoreConfig configures the external IDE credential store lookup.
type IDEStoreConfig struct {
	// Enabled toggles the lookup entirely.
	Enabled bool `yaml:"enabled"`

	// DBPath overrides the credential database location. Empty means the
	// platform default location is probed.
	DBPath string `yaml:"db-path"`
}

// AuthTimeout returns the authorization attempt deadline.
func (o *OAuthConfig) AuthTimeout() time.Duration {
	return secondsOr(o.AuthTimeoutSeconds, 300*time.Second)
}

// PollWindow returns the bounded long-poll window.
func (o *OAuthConfig) PollWindow() time.Duration {
	return secondsOr(o.PollWindowSeconds, 25*time.Second)
}

// Retention returns the settled-entry grace period.
func (o *OAuthConfig) Retention() time.Duration {
	return secondsOr(o.RetentionSeconds, 60*time.Second)
}

// RequestTimeout returns the outbound auth call timeout.
func (o *OAuthConfig) RequestTimeout() time.Duration {
	return secondsOr(o.RequestTimeoutSeconds, 30*time.Second)
}

// RequestTimeout returns the outbound generation call timeout.
func (g *GenerationConfig) RequestTimeout() time.Duration {
	return secondsOr(g.RequestTimeoutSeconds, 0)
}

// RedirectURL assembles the loopback redirect URI.
func (o *OAuthConfig) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d%s", o.CallbackPort, o.CallbackPath)
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// LoadConfig reads the YAML configuration at path, applies defaults and
// environment overrides, and returns the resulting Config. A missing file
// is not an error; defaults are returned instead.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{Port: DefaultPort}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	o := &cfg.OAuth
	if o.ClientID == "" {
		o.ClientID = PlaceholderClientID
	}
	if o.ClientSecret == "" {
		o.ClientSecret = PlaceholderClientSecret
	}
	if o.CallbackPort <= 0 {
		o.CallbackPort = DefaultCallbackPort
	}
	if o.CallbackPath == "" {
		o.CallbackPath = DefaultCallbackPath
	}
	if o.AuthURL == "" {
		o.AuthURL = DefaultAuthURL
	}
	if o.TokenURL == "" {
		o.TokenURL = DefaultTokenURL
	}
	if len(o.Scopes) == 0 {
		o.Scopes = append([]string(nil), DefaultScopes...)
	}
	if o.DefaultProjectID == "" {
		o.DefaultProjectID = PlaceholderProjectID
	}
	if len(o.DiscoveryEndpoints) == 0 {
		o.DiscoveryEndpoints = append([]string(nil), DefaultDiscoveryEndpoints...)
	}
	g := &cfg.Generation
	if g.GeminiBaseURL == "" {
		g.GeminiBaseURL = DefaultGeminiBaseURL
	}
	if g.CloudCodeBaseURL == "" {
		g.CloudCodeBaseURL = DefaultCloudCodeBaseURL
	}
	if g.Region == "" {
		g.Region = "global"
	}
}

// applyEnvOverrides lets secrets stay out of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AIGW_OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("AIGW_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("AIGW_GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("AIGW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("AIGW_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
}
