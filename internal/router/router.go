package router

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/taskdeck/aigateway/internal/config"
	apperrors "github.com/taskdeck/aigateway/internal/errors"
	"github.com/taskdeck/aigateway/internal/idestore"
	"github.com/taskdeck/aigateway/internal/metrics"
	"github.com/taskdeck/aigateway/internal/util"
)

// Router attempts the configured strategies in priority order and returns
// the first terminal outcome. The attempt pipeline is straight-line: each
// strategy runs at most once per request.
type Router struct {
	strategies []Strategy
	ideTokens  idestore.TokenSource
}

// New builds the production strategy chain: API key first, then the
// OAuth-backed internal endpoint.
func New(cfg *config.Config, ideTokens idestore.TokenSource) *Router {
	httpClient := util.NewHTTPClient(cfg.ProxyURL, cfg.Generation.RequestTimeout())
	return &Router{
		strategies: []Strategy{
			&apiKeyStrategy{baseURL: cfg.Generation.GeminiBaseURL, httpClient: httpClient},
			&cloudCodeStrategy{baseURL: cfg.Generation.CloudCodeBaseURL, region: cfg.Generation.Region, httpClient: httpClient},
		},
		ideTokens: ideTokens,
	}
}

// NewWithStrategies builds a router over an explicit chain. Used by tests.
func NewWithStrategies(ideTokens idestore.TokenSource, strategies ...Strategy) *Router {
	return &Router{strategies: strategies, ideTokens: ideTokens}
}

// Generate routes one generation request. It validates before any network
// activity, resolves missing bearer credentials from the IDE store, and
// walks the strategy chain until an outcome is terminal.
func (r *Router) Generate(ctx context.Context, req *Request, creds Credentials) (*Outcome, error) {
	if req.Model == "" {
		return nil, apperrors.NewValidation("model is required")
	}

	// Best-effort recovery of a bearer token from the local IDE install.
	// Failure here can never fail the request.
	if creds.BearerToken == "" && r.ideTokens != nil {
		if token, ok := r.ideTokens.Token(); ok {
			creds.BearerToken = token
		}
	}

	var (
		anyApplicable bool
		lastErr       error
	)
	for _, strategy := range r.strategies {
		if !strategy.Applicable(creds) {
			continue
		}
		anyApplicable = true

		outcome, err := strategy.Attempt(ctx, req, creds)
		if err != nil {
			lastErr = err
			if apperrors.CodeOf(err) == apperrors.CodeUpstreamTransient {
				log.WithFields(log.Fields{"strategy": strategy.Name(), "model": req.Model}).
					Debugf("strategy failed, trying next: %v", err)
				continue
			}
			return nil, err
		}

		metrics.RecordGeneration(outcome.Source, req.Model)
		return outcome, nil
	}

	if !anyApplicable {
		return nil, apperrors.NewAuthRequired("no API key or OAuth token available")
	}
	return nil, apperrors.NewUpstreamTransient(http.StatusServiceUnavailable, "all generation strategies failed", lastErr)
}
