// Package scoring computes the composite risk score that drives dual-path
// routing. Four independent sub-scores (semantic, permission, volume,
// context) combine into a weighted sum; the combination is deterministic for
// a fixed message and historical window, which replay-based tests depend on.
package scoring

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/internal/semantic"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

type Scorer struct {
	cfg        config.ScoringConfig
	references []config.ReferenceVector
	provider   semantic.Provider
	volume     *VolumeTracker
	baseline   *Baseline
	logger     logger.Logger

	// degraded is flipped by the recovery orchestrator when the semantic
	// provider is unhealthy. Scoring downgrades rather than blocks.
	degraded atomic.Bool

	clock func() time.Time
}

func NewScorer(cfg config.ScoringConfig, semCfg config.SemanticConfig, provider semantic.Provider, log logger.Logger) *Scorer {
	return &Scorer{
		cfg:        cfg,
		references: semCfg.References,
		provider:   provider,
		volume:     NewVolumeTracker(cfg.Volume.WindowSeconds),
		baseline:   NewBaseline(cfg.Context.BaselineWindowSeconds, cfg.Context.DeviationCap),
		logger:     log,
		clock:      time.Now,
	}
}

func (s *Scorer) SetDegraded(degraded bool) {
	s.degraded.Store(degraded)
}

func (s *Scorer) Degraded() bool {
	return s.degraded.Load()
}

// Score computes the impact score for a message. Scores are idempotent per
// message id: a message that already carries a score is returned unchanged,
// never recomputed.
func (s *Scorer) Score(ctx context.Context, msg *models.MessageEnvelope) models.ImpactScore {
	if msg.Metadata.Score != nil {
		return *msg.Metadata.Score
	}

	start := s.clock()

	semScore, degraded := s.semanticScore(ctx, msg)
	permScore := s.permissionScore(msg.RequestedTier)

	s.volume.Record(msg.TenantID, msg.Sender)
	volScore := s.volumeScore(msg.TenantID, msg.Sender)

	ctxScore := s.baseline.Observe(msg.TenantID, msg.Sender)

	score := models.ImpactScore{
		Semantic:   semScore,
		Permission: permScore,
		Volume:     volScore,
		Context:    ctxScore,
		Degraded:   degraded,
		ScoredAt:   start,
	}
	score.Composite = s.Combine(score)

	metrics.ObserveScoringDuration(s.clock().Sub(start))
	if degraded {
		metrics.ScoringDegradedTotal.Inc()
	}

	return score
}

// Combine folds the sub-scores into the composite using the configured
// weighted sum, normalized by the total weight and saturating at 1.0. The
// combination is monotonic in every sub-score.
func (s *Scorer) Combine(score models.ImpactScore) float64 {
	w := s.cfg.Weights
	total := w.Semantic + w.Permission + w.Volume + w.Context
	if total <= 0 {
		return 0
	}

	sum := w.Semantic*score.Semantic +
		w.Permission*score.Permission +
		w.Volume*score.Volume +
		w.Context*score.Context

	composite := sum / total
	if composite > 1 {
		return 1
	}
	if composite < 0 {
		return 0
	}
	return composite
}

func (s *Scorer) semanticScore(ctx context.Context, msg *models.MessageEnvelope) (float64, bool) {
	if s.degraded.Load() {
		return 0, true
	}

	vector, err := s.provider.Embed(ctx, semanticContent(msg))
	if err != nil {
		// Provider failure downgrades scoring; the breaker and health
		// aggregator see the failure through the provider itself.
		s.logger.WarnwCtx(ctx, "Semantic provider unavailable, scoring degraded",
			"error", err,
		)
		return 0, true
	}

	return semantic.MaxSimilarity(vector, s.references), false
}

func (s *Scorer) permissionScore(tier models.CapabilityTier) float64 {
	switch tier {
	case models.TierHigh:
		return s.cfg.PermissionTiers.High
	case models.TierMedium:
		return s.cfg.PermissionTiers.Medium
	case models.TierLow:
		return s.cfg.PermissionTiers.Low
	default:
		// Unknown tier reads as medium: unclassified is not a free pass.
		return s.cfg.PermissionTiers.Medium
	}
}

func (s *Scorer) volumeScore(tenantID, agentID string) float64 {
	threshold := s.cfg.Volume.DefaultThreshold
	if t, ok := s.cfg.Volume.TenantThresholds[tenantID]; ok && t > 0 {
		threshold = t
	}
	if threshold <= 0 {
		return 0
	}

	rate := s.volume.Rate(tenantID, agentID)
	score := rate / threshold
	if score > 1 {
		return 1
	}
	return score
}

func semanticContent(msg *models.MessageEnvelope) string {
	payload := struct {
		Action  string                 `json:"action"`
		Content map[string]interface{} `json:"content"`
	}{
		Action:  msg.Action,
		Content: msg.Content,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return msg.Action
	}
	return string(body)
}
