// Package maci enforces role separation between agents, modeled on
// separation of powers: no single role may both propose and validate the same
// class of action. The capability table is immutable; roles are a closed set.
package maci

import (
	"time"

	"concord/pkg/errors"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// capabilities is the static capability table, one row per role. It is
// populated once at package init and never mutated afterwards; collapsing
// roles here would break the security property the bus exists to provide.
var capabilities = map[models.Role]map[models.Action]struct{}{
	models.RoleExecutive: actionSet(
		models.ActionPropose,
		models.ActionSynthesize,
		models.ActionQuery,
	),
	models.RoleLegislative: actionSet(
		models.ActionExtractRules,
		models.ActionSynthesize,
		models.ActionQuery,
	),
	models.RoleJudicial: actionSet(
		models.ActionValidate,
		models.ActionAudit,
		models.ActionQuery,
	),
}

func actionSet(actions ...models.Action) map[models.Action]struct{} {
	set := make(map[models.Action]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Permitted reports whether the role's capability row contains the action.
func Permitted(role models.Role, action models.Action) bool {
	row, ok := capabilities[role]
	if !ok {
		return false
	}
	_, ok = row[action]
	return ok
}

// RoleActions returns the permitted actions for a role, for the registry API.
func RoleActions(role models.Role) []models.Action {
	row, ok := capabilities[role]
	if !ok {
		return nil
	}
	actions := make([]models.Action, 0, len(row))
	for a := range row {
		actions = append(actions, a)
	}
	return actions
}

type Enforcer struct {
	now func() time.Time
}

func NewEnforcer() *Enforcer {
	return &Enforcer{now: time.Now}
}

// Authorize validates that the requested action is permitted for the agent's
// assigned role and that the identity binding has not expired. Denials are
// fatal for the message, never for the pipeline.
func (e *Enforcer) Authorize(identity *models.AgentIdentity, requested models.Action) error {
	if identity == nil {
		return errors.ErrRoleViolation.WithDetail("reason", "no identity binding")
	}

	if identity.Expired(e.now()) {
		return errors.ErrRoleViolation.
			WithDetail("agent_id", identity.AgentID).
			WithDetail("reason", "identity binding expired")
	}

	if !Permitted(identity.Role, requested) {
		metrics.RoleDenialsTotal.WithLabelValues(string(identity.Role), string(requested)).Inc()
		return errors.ErrRoleViolation.
			WithDetail("agent_id", identity.AgentID).
			WithDetail("role", string(identity.Role)).
			WithDetail("action", string(requested))
	}

	return nil
}
