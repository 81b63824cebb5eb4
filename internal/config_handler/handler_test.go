package config_handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/logger"
	"concord/pkg/models"
)

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) Reload(ctx context.Context) error {
	r.calls++
	return r.err
}

func configEvent(eventType string) *models.MessageEnvelope {
	return &models.MessageEnvelope{
		ID: "evt-1",
		Metadata: models.Metadata{
			Extra: map[string]interface{}{"event_type": eventType},
		},
	}
}

func TestIdentityEventReloadsIdentities(t *testing.T) {
	identities := &countingReloader{}
	rules := &countingReloader{}
	h := NewHandler(identities, rules, logger.NopLogger())

	require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), configEvent(models.EventTypeIdentityUpdated)))

	assert.Equal(t, 1, identities.calls)
	assert.Zero(t, rules.calls)
}

func TestEscalationRuleEventReloadsRules(t *testing.T) {
	identities := &countingReloader{}
	rules := &countingReloader{}
	h := NewHandler(identities, rules, logger.NopLogger())

	require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), configEvent(models.EventTypeEscalationRuleUpdated)))

	assert.Zero(t, identities.calls)
	assert.Equal(t, 1, rules.calls)
}

func TestUnknownEventIgnored(t *testing.T) {
	identities := &countingReloader{}
	h := NewHandler(identities, nil, logger.NopLogger())

	require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), configEvent("something_else")))
	require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), &models.MessageEnvelope{ID: "no-type"}))

	assert.Zero(t, identities.calls)
}

func TestEventTypeFromContent(t *testing.T) {
	rules := &countingReloader{}
	h := NewHandler(nil, rules, logger.NopLogger())

	envelope := &models.MessageEnvelope{
		ID:      "evt-2",
		Content: map[string]interface{}{"event_type": models.EventTypeEscalationRuleUpdated},
	}
	require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), envelope))
	assert.Equal(t, 1, rules.calls)
}

func TestReloadFailurePropagates(t *testing.T) {
	identities := &countingReloader{err: assert.AnError}
	h := NewHandler(identities, nil, logger.NopLogger())

	err := h.HandleConfigUpdateEvent(context.Background(), configEvent(models.EventTypeIdentityUpdated))
	require.Error(t, err)
}
