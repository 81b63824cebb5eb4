// Package config_handler reacts to registry config update events. The bus
// keeps identity bindings and escalation rules in periodically refreshed
// snapshots; events on the config update topic collapse the staleness window
// to one consume cycle.
package config_handler

import (
	"context"

	"concord/internal/logger"
	"concord/pkg/models"
)

// Reloader refreshes a cached snapshot from its backing store. The identity
// resolver and the escalation rule cache both implement it.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Handler struct {
	identities Reloader
	rules      Reloader
	logger     logger.Logger
}

func NewHandler(identities, rules Reloader, log logger.Logger) *Handler {
	return &Handler{
		identities: identities,
		rules:      rules,
		logger:     log,
	}
}

// HandleConfigUpdateEvent is the consumer handler for the config update
// topic. Unknown event types are ignored, not errors; the topic is shared.
func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope *models.MessageEnvelope) error {
	eventType := extractEventType(envelope)
	if eventType == "" {
		h.logger.Warnw("Config event missing event_type", "id", envelope.ID)
		return nil
	}

	var target Reloader
	switch eventType {
	case models.EventTypeIdentityUpdated:
		target = h.identities
	case models.EventTypeEscalationRuleUpdated:
		target = h.rules
	default:
		return nil
	}

	if target == nil {
		return nil
	}

	if err := target.Reload(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload after config update",
			"event_type", eventType,
			"error", err,
		)
		return err
	}

	h.logger.InfowCtx(ctx, "Reloaded after config update", "event_type", eventType)
	return nil
}

func extractEventType(envelope *models.MessageEnvelope) string {
	if eventType, ok := envelope.Metadata.Extra["event_type"].(string); ok {
		return eventType
	}
	if eventType, ok := envelope.Content["event_type"].(string); ok {
		return eventType
	}
	return ""
}
