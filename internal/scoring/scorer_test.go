package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/circuitbreaker"
	"concord/pkg/models"
)

type stubProvider struct {
	vector []float64
	err    error
	calls  int
	cb     *circuitbreaker.Wrapper
}

func (p *stubProvider) Embed(ctx context.Context, content string) ([]float64, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.vector, nil
}

func (p *stubProvider) Breaker() *circuitbreaker.Wrapper {
	if p.cb == nil {
		p.cb = circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("stub"))
	}
	return p.cb
}

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: config.ScoreWeights{
			Semantic:   0.4,
			Permission: 0.3,
			Volume:     0.15,
			Context:    0.15,
		},
		PermissionTiers: config.PermissionTiers{
			Low:    0.2,
			Medium: 0.5,
			High:   0.9,
		},
		Volume: config.VolumeConfig{
			WindowSeconds:    60,
			DefaultThreshold: 100,
		},
		Context: config.ContextScoreConfig{
			BaselineWindowSeconds: 900,
			DeviationCap:          3.0,
		},
	}
}

func testSemanticConfig() config.SemanticConfig {
	return config.SemanticConfig{
		References: []config.ReferenceVector{
			{Label: "high-risk", Vector: []float64{1, 0, 0}},
		},
	}
}

func testMessage() *models.MessageEnvelope {
	return models.NewMessageEnvelopeBuilder().
		WithID("m1").
		WithSender("a1").
		WithRecipient("a2").
		WithTenant("t1").
		WithConversation("c1").
		WithConstitutionalHash("hash").
		WithAction("transfer_funds").
		WithTimestamp(time.Unix(1700000000, 0)).
		Build()
}

func TestScoreCompositeInRange(t *testing.T) {
	provider := &stubProvider{vector: []float64{1, 0, 0}}
	s := NewScorer(testScoringConfig(), testSemanticConfig(), provider, logger.NopLogger())

	msg := testMessage()
	msg.RequestedTier = models.TierHigh

	score := s.Score(context.Background(), msg)

	assert.GreaterOrEqual(t, score.Composite, 0.0)
	assert.LessOrEqual(t, score.Composite, 1.0)
	for _, sub := range []float64{score.Semantic, score.Permission, score.Volume, score.Context} {
		assert.GreaterOrEqual(t, sub, 0.0)
		assert.LessOrEqual(t, sub, 1.0)
	}
}

func TestScoreIdempotentPerMessage(t *testing.T) {
	provider := &stubProvider{vector: []float64{1, 0, 0}}
	s := NewScorer(testScoringConfig(), testSemanticConfig(), provider, logger.NopLogger())

	msg := testMessage()
	attached := models.ImpactScore{Composite: 0.42, ScoredAt: time.Unix(1700000000, 0)}
	msg.Metadata.Score = &attached

	got := s.Score(context.Background(), msg)

	assert.Equal(t, attached, got)
	assert.Zero(t, provider.calls, "attached score must never be recomputed")
}

func TestCombineDeterministic(t *testing.T) {
	s := NewScorer(testScoringConfig(), testSemanticConfig(), &stubProvider{}, logger.NopLogger())

	score := models.ImpactScore{Semantic: 0.9, Permission: 0.9, Volume: 0.3, Context: 0.1}
	first := s.Combine(score)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Combine(score))
	}
}

func TestCombineMonotonicAndSaturating(t *testing.T) {
	s := NewScorer(testScoringConfig(), testSemanticConfig(), &stubProvider{}, logger.NopLogger())

	low := s.Combine(models.ImpactScore{Semantic: 0.1, Permission: 0.2, Volume: 0.1, Context: 0.1})
	higher := s.Combine(models.ImpactScore{Semantic: 0.9, Permission: 0.2, Volume: 0.1, Context: 0.1})
	assert.Greater(t, higher, low)

	max := s.Combine(models.ImpactScore{Semantic: 1, Permission: 1, Volume: 1, Context: 1})
	assert.LessOrEqual(t, max, 1.0)
}

func TestScoreDegradedOnProviderFailure(t *testing.T) {
	provider := &stubProvider{err: assert.AnError}
	s := NewScorer(testScoringConfig(), testSemanticConfig(), provider, logger.NopLogger())

	score := s.Score(context.Background(), testMessage())

	assert.True(t, score.Degraded)
	assert.Zero(t, score.Semantic)
	assert.GreaterOrEqual(t, score.Composite, 0.0)
}

func TestScoreDegradedModeSkipsProvider(t *testing.T) {
	provider := &stubProvider{vector: []float64{1, 0, 0}}
	s := NewScorer(testScoringConfig(), testSemanticConfig(), provider, logger.NopLogger())
	s.SetDegraded(true)

	score := s.Score(context.Background(), testMessage())

	assert.True(t, score.Degraded)
	assert.Zero(t, provider.calls)
	assert.Zero(t, score.Semantic)
}

func TestPermissionScoreMapping(t *testing.T) {
	s := NewScorer(testScoringConfig(), testSemanticConfig(), &stubProvider{}, logger.NopLogger())

	assert.Equal(t, 0.2, s.permissionScore(models.TierLow))
	assert.Equal(t, 0.5, s.permissionScore(models.TierMedium))
	assert.Equal(t, 0.9, s.permissionScore(models.TierHigh))
	assert.Equal(t, 0.5, s.permissionScore(""), "unknown tier reads as medium")
}

func TestHighRiskMessageCrossesThreshold(t *testing.T) {
	provider := &stubProvider{vector: []float64{1, 0, 0}}
	s := NewScorer(testScoringConfig(), testSemanticConfig(), provider, logger.NopLogger())

	// Saturate the sender's volume window so every sub-score is high.
	cfg := testScoringConfig()
	for i := 0; i < int(cfg.Volume.DefaultThreshold)*2; i++ {
		s.volume.Record("t1", "a1")
	}

	msg := testMessage()
	msg.RequestedTier = models.TierHigh

	score := s.Score(context.Background(), msg)
	require.GreaterOrEqual(t, score.Composite, 0.8)
}
