package models

import "time"

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// MessageEnvelope is the wire format for every inter-agent message on the bus.
// Envelopes are immutable once built; pipeline stages attach their results to
// Metadata and hand ownership downstream.
type MessageEnvelope struct {
	ID                 string                 `json:"id"`
	Sender             string                 `json:"sender"`
	Recipient          string                 `json:"recipient"`
	TenantID           string                 `json:"tenant_id"`
	ConversationID     string                 `json:"conversation_id"`
	Priority           Priority               `json:"priority"`
	ConstitutionalHash string                 `json:"constitutional_hash"`
	Action             string                 `json:"action"`
	RequestedTier      CapabilityTier         `json:"requested_tier,omitempty"`
	Content            map[string]interface{} `json:"content"`
	Timestamp          time.Time              `json:"timestamp"`
	Metadata           Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID      string                 `json:"trace_id,omitempty"`
	Score        *ImpactScore           `json:"score,omitempty"`
	Routing      *RoutingInfo           `json:"routing,omitempty"`
	Deliberation *DeliberationInfo      `json:"deliberation,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

type RoutingInfo struct {
	Path      string    `json:"path"`
	DecidedAt time.Time `json:"decided_at"`
}

type DeliberationInfo struct {
	RequestID string    `json:"request_id"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// PartitionKey returns the key all ordering guarantees hang off. Messages in
// one conversation always serialize through the same partition.
func (m *MessageEnvelope) PartitionKey() string {
	return m.ConversationID
}
