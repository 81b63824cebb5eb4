package models

import "time"

// EscalationRule decides whether a policy-allowed deliberation still needs a
// human or consensus decision. Expressions are CEL, validated at write time.
type EscalationRule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Priority   int       `json:"priority"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
