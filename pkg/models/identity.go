package models

import (
	"fmt"
	"time"
)

// Role is the closed set of MACI roles. Roles are modeled as a fixed
// enumeration, never free-form strings, so capabilities cannot drift silently.
type Role string

const (
	RoleExecutive   Role = "EXECUTIVE"
	RoleLegislative Role = "LEGISLATIVE"
	RoleJudicial    Role = "JUDICIAL"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleExecutive, RoleLegislative, RoleJudicial:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Action is the closed set of operations an agent may request on the bus.
type Action string

const (
	ActionPropose      Action = "PROPOSE"
	ActionSynthesize   Action = "SYNTHESIZE"
	ActionQuery        Action = "QUERY"
	ActionExtractRules Action = "EXTRACT_RULES"
	ActionValidate     Action = "VALIDATE"
	ActionAudit        Action = "AUDIT"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionPropose, ActionSynthesize, ActionQuery,
		ActionExtractRules, ActionValidate, ActionAudit:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action: %q", s)
	}
}

// AgentIdentity is the current identity binding for an agent. The bus never
// stores long-lived credentials, only the binding in force right now.
type AgentIdentity struct {
	AgentID      string    `json:"agent_id"`
	TenantID     string    `json:"tenant_id"`
	Role         Role      `json:"role"`
	Capabilities []Action  `json:"capabilities"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (a *AgentIdentity) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

func (a *AgentIdentity) HasCapability(action Action) bool {
	for _, c := range a.Capabilities {
		if c == action {
			return true
		}
	}
	return false
}
