package registry

type CreateIdentityRequest struct {
	AgentID          string   `json:"agent_id" binding:"required"`
	TenantID         string   `json:"tenant_id" binding:"required"`
	Role             string   `json:"role" binding:"required"`
	Capabilities     []string `json:"capabilities"`
	ExpiresInSeconds int      `json:"expires_in_seconds"`
}

type UpdateIdentityRequest struct {
	Role             *string   `json:"role"`
	Capabilities     *[]string `json:"capabilities"`
	ExpiresInSeconds *int      `json:"expires_in_seconds"`
}

type CreateEscalationRuleRequest struct {
	Name       string `json:"name" binding:"required"`
	Expression string `json:"expression" binding:"required"`
	Priority   int    `json:"priority"`
	Enabled    *bool  `json:"enabled"`
}

type UpdateEscalationRuleRequest struct {
	Name       *string `json:"name"`
	Expression *string `json:"expression"`
	Priority   *int    `json:"priority"`
	Enabled    *bool   `json:"enabled"`
}
