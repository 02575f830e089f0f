package router

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/sjson"

	apperrors "github.com/taskdeck/aigateway/internal/errors"
)

// Fixed client identification headers the internal endpoint expects.
const (
	cloudCodeUserAgent  = "google-api-nodejs-client/9.15.1"
	cloudCodeAPIClient  = "gl-node/22.17.0"
	cloudCodeClientMeta = `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`
)

// cloudCodeStrategy calls the OAuth-authenticated internal endpoint. It is
// the last strategy in the chain, so every response it gets is terminal.
type cloudCodeStrategy struct {
	baseURL    string
	region     string
	httpClient *http.Client
}

func (s *cloudCodeStrategy) Name() string { return SourceCloudCode }

func (s *cloudCodeStrategy) Applicable(creds Credentials) bool {
	return creds.BearerToken != ""
}

func (s *cloudCodeStrategy) Attempt(ctx context.Context, req *Request, creds Credentials) (*Outcome, error) {
	projectID := creds.ProjectID
	if req.ProjectIDHint != "" {
		projectID = req.ProjectIDHint
	}

	envelope, err := s.buildEnvelope(req, projectID)
	if err != nil {
		return nil, apperrors.NewUpstreamTransient(0, "build internal API envelope", err)
	}

	endpoint := s.baseURL + "/v1internal:generateContent"
	if req.Stream {
		endpoint = s.baseURL + "/v1internal:streamGenerateContent?alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, apperrors.NewUpstreamTransient(0, "build internal API request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	httpReq.Header.Set("User-Agent", cloudCodeUserAgent)
	httpReq.Header.Set("X-Goog-Api-Client", cloudCodeAPIClient)
	httpReq.Header.Set("Client-Metadata", cloudCodeClientMeta)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamTransient(0, "internal API request failed", err)
	}

	return &Outcome{Source: SourceCloudCode, Response: resp}, nil
}

// buildEnvelope wraps the provider-native payload in the internal endpoint
// shape: {model, project, request:{...}}.
func (s *cloudCodeStrategy) buildEnvelope(req *Request, projectID string) ([]byte, error) {
	envelope := []byte(`{}`)

	envelope, err := sjson.SetBytes(envelope, "model", InternalModelName(req.Model, projectID, s.region))
	if err != nil {
		return nil, fmt.Errorf("set model: %w", err)
	}
	envelope, err = sjson.SetBytes(envelope, "project", projectID)
	if err != nil {
		return nil, fmt.Errorf("set project: %w", err)
	}
	envelope, err = sjson.SetRawBytes(envelope, "request", upstreamPayload(req.Body))
	if err != nil {
		return nil, fmt.Errorf("set request: %w", err)
	}
	return envelope, nil
}
