package registry

import (
	"fmt"

	"concord/internal/maci"
	"concord/pkg/cel"
	"concord/pkg/models"
)

func ValidateIdentity(req CreateIdentityRequest) error {
	role, err := models.ParseRole(req.Role)
	if err != nil {
		return err
	}
	if req.ExpiresInSeconds < 0 {
		return fmt.Errorf("expires_in_seconds must be non-negative")
	}
	return validateCapabilities(role, req.Capabilities)
}

func ValidateUpdateIdentity(current *models.AgentIdentity, req UpdateIdentityRequest) error {
	role := current.Role
	if req.Role != nil {
		parsed, err := models.ParseRole(*req.Role)
		if err != nil {
			return err
		}
		role = parsed
	}
	if req.ExpiresInSeconds != nil && *req.ExpiresInSeconds < 0 {
		return fmt.Errorf("expires_in_seconds must be non-negative")
	}
	if req.Capabilities != nil {
		return validateCapabilities(role, *req.Capabilities)
	}

	// A role change alone still has to leave the existing capability set
	// inside the new role's bounds.
	if req.Role != nil {
		for _, c := range current.Capabilities {
			if !maci.Permitted(role, c) {
				return fmt.Errorf("capability %q is outside role %s", c, role)
			}
		}
	}
	return nil
}

// validateCapabilities rejects any grant the role separation does not allow.
// The registry refuses to mint a binding the enforcer would deny anyway.
func validateCapabilities(role models.Role, capabilities []string) error {
	for _, c := range capabilities {
		action, err := models.ParseAction(c)
		if err != nil {
			return err
		}
		if !maci.Permitted(role, action) {
			return fmt.Errorf("capability %q is outside role %s", action, role)
		}
	}
	return nil
}

func ValidateEscalationRule(req CreateEscalationRuleRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Expression == "" {
		return fmt.Errorf("expression is required")
	}
	return validateExpression(req.Expression)
}

func ValidateUpdateEscalationRule(req UpdateEscalationRuleRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.Expression != nil {
		if *req.Expression == "" {
			return fmt.Errorf("expression cannot be empty")
		}
		return validateExpression(*req.Expression)
	}
	return nil
}

func validateExpression(expression string) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	if err := evaluator.ValidateRuleExpression(expression); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}
