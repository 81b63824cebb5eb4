package models

import "time"

// Decision is the deliberation state machine. PENDING is the only non-terminal
// state; there are no transitions out of a terminal state.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionTimedOut Decision = "TIMED_OUT"
)

func (d Decision) Terminal() bool {
	return d == DecisionApproved || d == DecisionRejected || d == DecisionTimedOut
}

// PolicyResult is the outcome of the external policy evaluation.
type PolicyResult struct {
	Allow       bool      `json:"allow"`
	Reasons     []string  `json:"reasons,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ScopedToken is a minimal-privilege, single-use, time-boxed credential issued
// when a deliberation is approved. Scope is exactly the requested action.
type ScopedToken struct {
	Token     string    `json:"token"`
	AgentID   string    `json:"agent_id"`
	TenantID  string    `json:"tenant_id"`
	Action    Action    `json:"action"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeliberationRequest tracks one message through the deliberation path.
type DeliberationRequest struct {
	ID        string          `json:"id"`
	Message   MessageEnvelope `json:"message"`
	Decision  Decision        `json:"decision"`
	Policy    *PolicyResult   `json:"policy,omitempty"`
	Token     *ScopedToken    `json:"token,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	DecidedAt time.Time       `json:"decided_at,omitempty"`
}
