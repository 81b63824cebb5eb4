package recovery

import (
	"context"
	"sync"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/circuitbreaker"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// AdmissionController gates deliberation admissions.
type AdmissionController interface {
	SetShedding(shed bool)
}

// DegradableScorer can drop its semantic sub-score.
type DegradableScorer interface {
	SetDegraded(degraded bool)
}

// Orchestrator applies the selected strategy to the live components. It is
// the only writer of recovery state; the health aggregator feeds it through
// Observe.
type Orchestrator struct {
	cfg      config.RecoveryConfig
	queue    AdmissionController
	scorer   DegradableScorer
	breakers map[string]*circuitbreaker.Wrapper
	logger   logger.Logger

	mu     sync.Mutex
	active Strategy
}

func NewOrchestrator(
	cfg config.RecoveryConfig,
	queue AdmissionController,
	scorer DegradableScorer,
	breakers map[string]*circuitbreaker.Wrapper,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		queue:    queue,
		scorer:   scorer,
		breakers: breakers,
		logger:   log,
		active:   StrategyNone,
	}
}

// Active returns the strategy currently in force.
func (o *Orchestrator) Active() Strategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// RetryTransient reports whether transient dependency errors should be
// retried with backoff right now.
func (o *Orchestrator) RetryTransient() bool {
	return o.Active() == StrategyRetryBackoff
}

// Observe reacts to a fresh health snapshot. Strategy changes are applied
// transactionally: the previous strategy's measures are lifted before the new
// one takes effect.
func (o *Orchestrator) Observe(snapshot *models.HealthSnapshot) {
	strategy := SelectStrategy(snapshot, o.threshold())

	o.mu.Lock()
	previous := o.active
	if strategy == previous {
		o.mu.Unlock()
		return
	}
	o.active = strategy
	o.mu.Unlock()

	ctx := context.Background()
	o.lift(ctx, previous)
	o.apply(ctx, strategy, snapshot)

	if strategy != StrategyNone {
		metrics.IncRecoveryStrategy(string(strategy))
	}
	o.logger.InfowCtx(ctx, "Recovery strategy changed",
		"previous", string(previous),
		"active", string(strategy),
		"aggregate", snapshot.Aggregate,
	)
}

func (o *Orchestrator) apply(ctx context.Context, strategy Strategy, snapshot *models.HealthSnapshot) {
	switch strategy {
	case StrategyShedLoad:
		o.queue.SetShedding(true)
	case StrategyDegradeScorer:
		o.scorer.SetDegraded(true)
	case StrategyOpenBreakers:
		for name, dep := range snapshot.Dependencies {
			if dep.Status != models.DependencyUnhealthy {
				continue
			}
			if cb, ok := o.breakers[name]; ok {
				cb.ForceOpen()
				o.logger.WarnwCtx(ctx, "Breaker opened preemptively",
					"dependency", name,
				)
			}
		}
	case StrategyRetryBackoff, StrategyNone:
		// Retry gating is read through RetryTransient; nothing to flip here.
	}
}

func (o *Orchestrator) lift(ctx context.Context, strategy Strategy) {
	switch strategy {
	case StrategyShedLoad:
		o.queue.SetShedding(false)
	case StrategyDegradeScorer:
		o.scorer.SetDegraded(false)
	case StrategyOpenBreakers:
		for _, cb := range o.breakers {
			cb.Release()
		}
	case StrategyRetryBackoff, StrategyNone:
	}
}

func (o *Orchestrator) threshold() float64 {
	if o.cfg.HealthThreshold > 0 {
		return o.cfg.HealthThreshold
	}
	return 0.75
}
