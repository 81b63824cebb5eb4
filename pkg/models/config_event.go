package models

import "time"

// ConfigUpdateEvent is published by the registry service whenever identity
// bindings or escalation rules change, so bus workers can reload without
// waiting for the periodic refresh.
type ConfigUpdateEvent struct {
	EventType string                 `json:"event_type"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	SubjectID string                 `json:"subject_id,omitempty"`
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	ChangedBy string                 `json:"changed_by,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeIdentityUpdated       = "identity_updated"
	EventTypeEscalationRuleUpdated = "escalation_rule_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReload = "reload"
)
