package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// LLMMatchRequest is the payload sent to the external resolver service
// (spec.md §4.D step 2).
type LLMMatchRequest struct {
	Model            string   `json:"model"`
	NewEntityName    string   `json:"new_entity_name"`
	CandidateNames   []string `json:"candidate_names"`
}

// LLMMatchResponse is the documented reply shape.
type LLMMatchResponse struct {
	Matched                bool    `json:"matched"`
	Confidence             float64 `json:"confidence"`
	SuggestedCanonicalName string  `json:"suggested_canonical_name"`
}

// LLMResolverClient is implemented by anything that can answer an
// LLM-assisted match request.
type LLMResolverClient interface {
	Match(ctx context.Context, req LLMMatchRequest) (LLMMatchResponse, error)
}

// HTTPLLMResolverClient posts a JSON match request to a configured
// base URL, matching the plain net/http + encoding/json idiom used
// for the teacher's webhook dispatcher and scanner client.
type HTTPLLMResolverClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPLLMResolverClient creates a client with a 5s default timeout.
func NewHTTPLLMResolverClient(baseURL, model string) *HTTPLLMResolverClient {
	return &HTTPLLMResolverClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPLLMResolverClient) Match(ctx context.Context, req LLMMatchRequest) (LLMMatchResponse, error) {
	req.Model = c.model
	body, err := json.Marshal(req)
	if err != nil {
		return LLMMatchResponse{}, fmt.Errorf("resolver: marshal match request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/resolve", bytes.NewReader(body))
	if err != nil {
		return LLMMatchResponse{}, fmt.Errorf("resolver: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return LLMMatchResponse{}, fmt.Errorf("resolver: llm call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return LLMMatchResponse{}, fmt.Errorf("resolver: llm returned HTTP %d", resp.StatusCode)
	}

	var out LLMMatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LLMMatchResponse{}, fmt.Errorf("resolver: decode llm response: %w", err)
	}
	return out, nil
}

// HealthGate tracks whether the LLM resolver tier is currently
// considered healthy. A transient error demotes it to unhealthy for
// the current and subsequent calls until a background probe flips it
// back (spec.md §4.D "Failure mode").
type HealthGate struct {
	healthy int32
}

func NewHealthGate() *HealthGate {
	h := &HealthGate{}
	atomic.StoreInt32(&h.healthy, 1)
	return h
}

func (h *HealthGate) IsHealthy() bool { return atomic.LoadInt32(&h.healthy) == 1 }
func (h *HealthGate) demote()         { atomic.StoreInt32(&h.healthy, 0) }
func (h *HealthGate) restore()        { atomic.StoreInt32(&h.healthy, 1) }

// Probe runs fn (a lightweight liveness check against the resolver
// service) every interval until ctx is cancelled, restoring health on
// success, for as long as ctx lives. Neither the Orchestrator nor
// cmd/cortex starts Probe, so a gate demoted by a failed call stays
// unhealthy unless some caller runs Probe.
func (h *HealthGate) Probe(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.IsHealthy() {
				continue
			}
			if err := fn(ctx); err == nil {
				h.restore()
			}
		}
	}
}
