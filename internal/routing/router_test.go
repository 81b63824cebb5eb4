package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/constants"
	"concord/internal/logger"
	"concord/pkg/errors"
	"concord/pkg/models"
)

type fakeFastPath struct {
	delivered []*models.MessageEnvelope
	err       error
}

func (f *fakeFastPath) Deliver(ctx context.Context, msg *models.MessageEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

type fakeDeliberationPath struct {
	enqueued []*models.MessageEnvelope
	err      error
}

func (f *fakeDeliberationPath) Enqueue(ctx context.Context, msg *models.MessageEnvelope) (*models.DeliberationRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, msg)
	return &models.DeliberationRequest{ID: "req-" + msg.ID, Message: *msg, Decision: models.DecisionPending}, nil
}

func scoredMessage(composite float64) *models.MessageEnvelope {
	msg := models.NewMessageEnvelopeBuilder().
		WithID("m1").
		WithSender("a1").
		WithRecipient("a2").
		WithTenant("t1").
		WithConversation("c1").
		WithConstitutionalHash("hash").
		WithAction("query").
		Build()
	msg.Metadata.Score = &models.ImpactScore{
		Composite: composite,
		ScoredAt:  time.Unix(1700000000, 0),
	}
	return msg
}

func TestDecideThresholdBoundary(t *testing.T) {
	r := NewRouter(0.8, &fakeFastPath{}, &fakeDeliberationPath{}, logger.NopLogger())

	tests := []struct {
		name      string
		composite float64
		want      string
	}{
		{"well below threshold", 0.1, constants.PathFast},
		{"just below threshold", 0.7999, constants.PathFast},
		{"exactly at threshold", 0.8, constants.PathDeliberation},
		{"above threshold", 0.95, constants.PathDeliberation},
		{"maximum score", 1.0, constants.PathDeliberation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Decide(tt.composite))
		})
	}
}

func TestRouteFastPathDelivers(t *testing.T) {
	fast := &fakeFastPath{}
	delib := &fakeDeliberationPath{}
	r := NewRouter(0.8, fast, delib, logger.NopLogger())

	msg := scoredMessage(0.3)
	path, err := r.Route(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, constants.PathFast, path)
	assert.Len(t, fast.delivered, 1)
	assert.Empty(t, delib.enqueued)
	require.NotNil(t, msg.Metadata.Routing)
	assert.Equal(t, constants.PathFast, msg.Metadata.Routing.Path)
}

func TestRouteDeliberationPathEnqueues(t *testing.T) {
	fast := &fakeFastPath{}
	delib := &fakeDeliberationPath{}
	r := NewRouter(0.8, fast, delib, logger.NopLogger())

	msg := scoredMessage(0.8)
	path, err := r.Route(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, constants.PathDeliberation, path)
	assert.Empty(t, fast.delivered)
	assert.Len(t, delib.enqueued, 1)
	require.NotNil(t, msg.Metadata.Routing)
	assert.Equal(t, constants.PathDeliberation, msg.Metadata.Routing.Path)
}

func TestRouteRefusesUnscoredMessage(t *testing.T) {
	fast := &fakeFastPath{}
	delib := &fakeDeliberationPath{}
	r := NewRouter(0.8, fast, delib, logger.NopLogger())

	msg := scoredMessage(0)
	msg.Metadata.Score = nil

	_, err := r.Route(context.Background(), msg)

	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, fast.delivered)
	assert.Empty(t, delib.enqueued)
}

func TestRoutePropagatesPathErrors(t *testing.T) {
	fast := &fakeFastPath{err: errors.ErrDependencyUnavailable}
	delib := &fakeDeliberationPath{err: errors.ErrDependencyUnavailable}
	r := NewRouter(0.8, fast, delib, logger.NopLogger())

	_, err := r.Route(context.Background(), scoredMessage(0.2))
	require.Error(t, err)

	_, err = r.Route(context.Background(), scoredMessage(0.9))
	require.Error(t, err)
}
