package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"concord/internal/broker"
	"concord/pkg/models"
)

// ConfigEventProducer announces registry writes on the config update topic so
// bus workers refresh their identity and escalation snapshots immediately
// instead of waiting out the reload interval.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *ConfigEventProducer) PublishIdentityEvent(ctx context.Context, action, tenantID, agentID, changedBy string) error {
	event := models.ConfigUpdateEvent{
		EventType: models.EventTypeIdentityUpdated,
		TenantID:  tenantID,
		SubjectID: agentID,
		Action:    action,
		Timestamp: time.Now(),
		ChangedBy: changedBy,
	}
	return p.publishEvent(ctx, event)
}

func (p *ConfigEventProducer) PublishEscalationRuleEvent(ctx context.Context, action, ruleID, changedBy string) error {
	event := models.ConfigUpdateEvent{
		EventType: models.EventTypeEscalationRuleUpdated,
		SubjectID: ruleID,
		Action:    action,
		Timestamp: time.Now(),
		ChangedBy: changedBy,
	}
	return p.publishEvent(ctx, event)
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config event: %w", err)
	}

	var eventData map[string]interface{}
	if err := json.Unmarshal(eventJSON, &eventData); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	envelope := models.MessageEnvelope{
		ID:        uuid.New().String(),
		Sender:    "registry-service",
		TenantID:  event.TenantID,
		Timestamp: time.Now(),
		Content:   eventData,
		Metadata: models.Metadata{
			Extra: map[string]interface{}{
				"event_type": event.EventType,
			},
		},
	}

	return p.producer.Publish(ctx, p.topic, event.EventType, envelope)
}
