package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	apperrors "github.com/taskdeck/aigateway/internal/errors"
)

// apiKeyStrategy calls the public Generative Language API with an API key
// in the query string. 2xx and 400 are terminal for this strategy; any
// other failure falls through to the next one.
type apiKeyStrategy struct {
	baseURL    string
	httpClient *http.Client
}

func (s *apiKeyStrategy) Name() string { return SourceAPIKey }

func (s *apiKeyStrategy) Applicable(creds Credentials) bool {
	return creds.APIKey != ""
}

func (s *apiKeyStrategy) Attempt(ctx context.Context, req *Request, creds Credentials) (*Outcome, error) {
	model := PublicModelName(req.Model)

	verb := "generateContent"
	query := url.Values{}
	if req.Stream {
		verb = "streamGenerateContent"
		query.Set("alt", "sse")
	}
	query.Set("key", creds.APIKey)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s?%s", s.baseURL, model, verb, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(upstreamPayload(req.Body)))
	if err != nil {
		return nil, apperrors.NewUpstreamTransient(0, "build public API request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamTransient(0, "public API request failed", err)
	}

	// 400 is a client-side error; retrying it elsewhere cannot help.
	terminal := (resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices) ||
		resp.StatusCode == http.StatusBadRequest
	if !terminal {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		log.Debugf("public API returned %d for model %s, falling back", resp.StatusCode, model)
		return nil, apperrors.NewUpstreamTransient(resp.StatusCode, fmt.Sprintf("public API returned %d: %s", resp.StatusCode, body), nil)
	}

	return &Outcome{Source: SourceAPIKey, Response: resp}, nil
}
