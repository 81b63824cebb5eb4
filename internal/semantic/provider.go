// Package semantic talks to the external embeddings collaborator and turns
// message content into a similarity score against the configured set of
// high-risk reference vectors.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"concord/internal/config"
	"concord/pkg/circuitbreaker"
	"concord/pkg/errors"
)

// Provider produces an embedding for a piece of content.
type Provider interface {
	Embed(ctx context.Context, content string) ([]float64, error)
	Breaker() *circuitbreaker.Wrapper
}

type HTTPProvider struct {
	endpoint string
	client   *http.Client
	cb       *circuitbreaker.Wrapper
}

type embedRequest struct {
	Content string `json:"content"`
}

type embedResponse struct {
	Vector []float64 `json:"vector"`
}

func NewHTTPProvider(cfg config.SemanticConfig, cbCfg config.CircuitBreakerConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}

	breakerCfg := circuitbreaker.DefaultConfig("semantic")
	if cbCfg.ConsecutiveFailures > 0 {
		breakerCfg.ReadyToTrip = circuitbreaker.ConsecutiveFailures(cbCfg.ConsecutiveFailures)
	}
	if cbCfg.Timeout > 0 {
		breakerCfg.Timeout = cbCfg.Timeout
	}
	if cbCfg.MaxRequests > 0 {
		breakerCfg.MaxRequests = cbCfg.MaxRequests
	}

	return &HTTPProvider{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		cb:       circuitbreaker.NewWrapper(breakerCfg),
	}
}

func (p *HTTPProvider) Breaker() *circuitbreaker.Wrapper {
	return p.cb
}

// Embed calls the embeddings endpoint through the circuit breaker. The HTTP
// client timeout doubles as the fast-path latency budget: a slow provider is
// a failed call, never an indefinite wait.
func (p *HTTPProvider) Embed(ctx context.Context, content string) ([]float64, error) {
	result, err := p.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return p.embed(ctx, content)
	})
	p.cb.RecordRequest(err == nil)
	if err != nil {
		return nil, errors.ErrDependencyUnavailable.
			WithCause(err).
			WithDetail("dependency", "semantic")
	}
	return result.([]float64), nil
}

func (p *HTTPProvider) embed(ctx context.Context, content string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("embed response carried an empty vector")
	}

	return out.Vector, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [0,1]. Mismatched lengths score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// MaxSimilarity scores content against every reference vector and returns the
// highest similarity found.
func MaxSimilarity(vector []float64, references []config.ReferenceVector) float64 {
	var max float64
	for _, ref := range references {
		if sim := CosineSimilarity(vector, ref.Vector); sim > max {
			max = sim
		}
	}
	return max
}
