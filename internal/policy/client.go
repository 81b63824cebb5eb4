// Package policy evaluates deliberation-path messages against the external
// policy engine. The engine is a collaborator, not part of this service; the
// client's only local judgment is fail-closed: any evaluation failure reads
// as a denial.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"concord/internal/config"
	"concord/pkg/circuitbreaker"
	"concord/pkg/errors"
	"concord/pkg/models"
)

// Evaluator renders an allow or deny verdict for a message.
type Evaluator interface {
	Evaluate(ctx context.Context, msg *models.MessageEnvelope) (*models.PolicyResult, error)
	Breaker() *circuitbreaker.Wrapper
}

type HTTPClient struct {
	endpoint string
	client   *http.Client
	cb       *circuitbreaker.Wrapper
	clock    func() time.Time
}

type evaluateRequest struct {
	MessageID      string                 `json:"message_id"`
	Sender         string                 `json:"sender"`
	Recipient      string                 `json:"recipient"`
	TenantID       string                 `json:"tenant_id"`
	Action         string                 `json:"action"`
	RequestedTier  string                 `json:"requested_tier"`
	Content        map[string]interface{} `json:"content"`
	CompositeScore float64                `json:"composite_score"`
}

type evaluateResponse struct {
	Allow   *bool    `json:"allow"`
	Reasons []string `json:"reasons"`
}

func NewHTTPClient(cfg config.PolicyConfig, cbCfg config.CircuitBreakerConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig("policy")
	if cbCfg.ConsecutiveFailures > 0 {
		breakerCfg.ReadyToTrip = circuitbreaker.ConsecutiveFailures(cbCfg.ConsecutiveFailures)
	}
	if cbCfg.Timeout > 0 {
		breakerCfg.Timeout = cbCfg.Timeout
	}
	if cbCfg.MaxRequests > 0 {
		breakerCfg.MaxRequests = cbCfg.MaxRequests
	}

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		cb:       circuitbreaker.NewWrapper(breakerCfg),
		clock:    time.Now,
	}
}

func (c *HTTPClient) Breaker() *circuitbreaker.Wrapper {
	return c.cb
}

// Evaluate asks the policy engine for a verdict. A reachable engine that says
// deny yields POLICY_DENIED; an unreachable engine, a malformed response, or
// an open breaker all yield POLICY_EVALUATION_ERROR. Both are denials, but
// the reason codes stay distinct for audit.
func (c *HTTPClient) Evaluate(ctx context.Context, msg *models.MessageEnvelope) (*models.PolicyResult, error) {
	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.evaluate(ctx, msg)
	})
	c.cb.RecordRequest(err == nil)
	if err != nil {
		return nil, errors.ErrPolicyEvaluation.
			WithCause(err).
			WithDetail("message_id", msg.ID)
	}

	verdict := result.(*models.PolicyResult)
	if !verdict.Allow {
		return verdict, errors.ErrPolicyDenied.
			WithDetail("message_id", msg.ID).
			WithDetail("reasons", verdict.Reasons)
	}
	return verdict, nil
}

func (c *HTTPClient) evaluate(ctx context.Context, msg *models.MessageEnvelope) (*models.PolicyResult, error) {
	var composite float64
	if msg.Metadata.Score != nil {
		composite = msg.Metadata.Score.Composite
	}

	body, err := json.Marshal(evaluateRequest{
		MessageID:      msg.ID,
		Sender:         msg.Sender,
		Recipient:      msg.Recipient,
		TenantID:       msg.TenantID,
		Action:         msg.Action,
		RequestedTier:  string(msg.RequestedTier),
		Content:        msg.Content,
		CompositeScore: composite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy engine returned status %d", resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode policy response: %w", err)
	}

	// A response without an explicit verdict is malformed, not a default
	// allow.
	if out.Allow == nil {
		return nil, fmt.Errorf("policy response carried no verdict")
	}

	return &models.PolicyResult{
		Allow:       *out.Allow,
		Reasons:     out.Reasons,
		EvaluatedAt: c.clock(),
	}, nil
}
