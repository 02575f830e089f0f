package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/taskdeck/aigateway/internal/auth/session"
	apperrors "github.com/taskdeck/aigateway/internal/errors"
	"github.com/taskdeck/aigateway/internal/relay"
	"github.com/taskdeck/aigateway/internal/router"
)

// maxRequestBody caps inbound generation payloads at 16 MiB.
const maxRequestBody = 16 << 20

// handleAuthLogin starts a browser authorization flow and returns the URL
// to open plus the id to poll.
func (s *Server) handleAuthLogin(c *gin.Context) {
	result, err := s.registry.StartAuth(c.Request.Context())
	if err != nil {
		log.Errorf("start auth failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleAuthStatus is the bounded long-poll for an authorization outcome.
func (s *Server) handleAuthStatus(c *gin.Context) {
	requestID := c.Param("requestId")

	poll := s.registry.PollStatus(c.Request.Context(), requestID)
	switch poll.Status {
	case session.StatusCompleted:
		c.JSON(http.StatusOK, poll.Tokens)
	case session.StatusPending:
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	case session.StatusNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown request id"})
	case session.StatusFailed:
		s.writeAuthFailure(c, poll.Err)
	}
}

// writeAuthFailure surfaces the taxonomy code and any upstream body from a
// failed authorization.
func (s *Server) writeAuthFailure(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload := gin.H{"code": appErr.Code, "error": appErr.Message}
	if len(appErr.UpstreamBody) > 0 {
		payload["upstream"] = string(appErr.UpstreamBody)
	}
	c.JSON(appErr.HTTPStatusCode, payload)
}

// handleGenerate routes a generation request through the strategy chain
// and relays the winning response, streaming when asked to.
func (s *Server) handleGenerate(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "error": "unreadable request body"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "error": "request body is not valid JSON"})
		return
	}

	req := &router.Request{
		Model:         gjson.GetBytes(body, "model").String(),
		Stream:        gjson.GetBytes(body, "stream").Bool(),
		Body:          body,
		ProjectIDHint: c.GetHeader("X-Project-Id"),
	}
	creds := s.resolveCredentials(c)

	outcome, err := s.router.Generate(c.Request.Context(), req, creds)
	if err != nil {
		s.writeRouterError(c, err)
		return
	}
	defer func() { _ = outcome.Response.Body.Close() }()

	if req.Stream && isSuccess(outcome.StatusCode()) {
		s.relayStream(c, outcome)
		return
	}
	s.relayUnary(c, outcome)
}

// resolveCredentials collects per-request credentials: API key from header
// or server config, bearer token from the Authorization header. The IDE
// store fallback lives in the router.
func (s *Server) resolveCredentials(c *gin.Context) router.Credentials {
	creds := router.Credentials{
		APIKey:    c.GetHeader("x-goog-api-key"),
		ProjectID: s.cfg.OAuth.DefaultProjectID,
	}
	if creds.APIKey == "" {
		creds.APIKey = s.cfg.GeminiAPIKey
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		creds.BearerToken = strings.TrimPrefix(auth, "Bearer ")
	}
	return creds
}

// relayUnary forwards the upstream response body. Successful JSON bodies
// are tagged with the winning strategy; everything else passes verbatim.
func (s *Server) relayUnary(c *gin.Context, outcome *router.Outcome) {
	upstreamBody, err := io.ReadAll(outcome.Response.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": apperrors.CodeUpstreamTransient, "error": "reading upstream response failed"})
		return
	}

	contentType := outcome.Response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	if isSuccess(outcome.StatusCode()) && gjson.ValidBytes(upstreamBody) {
		if tagged, errTag := sjson.SetBytes(upstreamBody, "source", outcome.Source); errTag == nil {
			upstreamBody = tagged
		}
	}
	c.Data(outcome.StatusCode(), contentType, upstreamBody)
}

// relayStream pipes the upstream event stream directly to the client.
func (s *Server) relayStream(c *gin.Context, outcome *router.Outcome) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Generation-Source", outcome.Source)
	c.Status(outcome.StatusCode())

	relay.PipeSSE(c.Writer, outcome.Response.Body)
}

// writeRouterError maps taxonomy errors to HTTP responses, relaying any
// captured upstream body verbatim.
func (s *Server) writeRouterError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if appErr.Code == apperrors.CodeUpstreamTerminal && len(appErr.UpstreamBody) > 0 {
		contentType := "application/json"
		if !gjson.ValidBytes(appErr.UpstreamBody) {
			contentType = "text/plain"
		}
		c.Data(appErr.HTTPStatusCode, contentType, appErr.UpstreamBody)
		return
	}
	c.JSON(appErr.HTTPStatusCode, gin.H{"code": appErr.Code, "error": appErr.Message})
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
