// Package util provides shared helpers for outbound HTTP client
// construction, including optional HTTP/HTTPS and SOCKS5 proxy support.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// NewHTTPClient builds an HTTP client honoring an optional proxy URL.
// Supported schemes are http, https and socks5. An unparsable or
// unsupported proxy URL falls back to a direct client so outbound calls
// keep working.
func NewHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if proxyURL == "" {
		return client
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("invalid proxy url %q: %v", proxyURL, err)
		return client
	}

	var transport *http.Transport
	switch parsed.Scheme {
	case "socks5":
		username := parsed.User.Username()
		password, _ := parsed.User.Password()
		var auth *proxy.Auth
		if username != "" {
			auth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return client
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	default:
		log.Warnf("unsupported proxy scheme %q, using direct connection", parsed.Scheme)
		return client
	}

	client.Transport = transport
	return client
}
