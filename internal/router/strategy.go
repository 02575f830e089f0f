package router

import (
	"context"
	"net/http"

	"github.com/tidwall/sjson"
)

// Strategy source tags carried on every terminal response.
const (
	SourceAPIKey    = "gemini-api-key-direct"
	SourceCloudCode = "cloud-code-oauth"
)

// Request is one generation request after validation. Body is the raw JSON
// payload as received; strategies derive their wire format from it.
type Request struct {
	Model  string
	Stream bool
	Body   []byte

	// ProjectIDHint overrides the credential's project id when set.
	ProjectIDHint string
}

// Credentials are the upstream credentials available for one request.
type Credentials struct {
	APIKey      string
	BearerToken string

	// ProjectID backs the internal endpoint envelope.
	ProjectID string
}

// Outcome is a terminal upstream response. The caller owns Response.Body.
type Outcome struct {
	Source   string
	Response *http.Response
}

// StatusCode reports the upstream status.
func (o *Outcome) StatusCode() int {
	return o.Response.StatusCode
}

// Strategy is one way of reaching an upstream generation endpoint.
// Attempt returns an Outcome when the response is terminal for this
// strategy, or an error classified by the taxonomy: upstream_transient
// means the router may fall through to the next strategy.
type Strategy interface {
	Name() string
	// Applicable reports whether creds carry what this strategy needs.
	Applicable(creds Credentials) bool
	Attempt(ctx context.Context, req *Request, creds Credentials) (*Outcome, error)
}

// upstreamPayload strips the routing-only fields from the client body,
// leaving the provider-native request.
func upstreamPayload(body []byte) []byte {
	for _, key := range []string{"model", "stream", "projectIdHint"} {
		if updated, err := sjson.DeleteBytes(body, key); err == nil {
			body = updated
		}
	}
	return body
}
