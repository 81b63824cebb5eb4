// Package healthmon tracks dependency health and publishes the aggregate
// snapshot the recovery orchestrator keys off. The aggregator is the single
// writer of the snapshot; everyone else reads an immutable copy through an
// atomic pointer.
package healthmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/circuitbreaker"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

const probeTimeout = 2 * time.Second

// latencyAlpha smooths probe latency into the per-dependency EWMA.
const latencyAlpha = 0.3

// Dependency is one tracked external collaborator. Breaker and Check are
// both optional: passive dependencies contribute breaker state only, active
// ones add a probe.
type Dependency struct {
	Name    string
	Breaker *circuitbreaker.Wrapper
	Check   func(ctx context.Context) error
}

type Aggregator struct {
	cfg    config.HealthConfig
	logger logger.Logger
	clock  func() time.Time

	mu        sync.Mutex
	deps      []Dependency
	listeners []func(*models.HealthSnapshot)
	latency   map[string]float64

	snapshot atomic.Pointer[models.HealthSnapshot]
}

func NewAggregator(cfg config.HealthConfig, log logger.Logger) *Aggregator {
	a := &Aggregator{
		cfg:     cfg,
		logger:  log,
		clock:   time.Now,
		latency: make(map[string]float64),
	}
	a.snapshot.Store(&models.HealthSnapshot{
		Aggregate:    1.0,
		Dependencies: map[string]models.DependencyHealth{},
		TakenAt:      time.Now(),
	})
	return a
}

// Track registers a dependency. Call before Run; tracking is not meant to
// change while sampling is live.
func (a *Aggregator) Track(dep Dependency) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deps = append(a.deps, dep)
}

// Subscribe registers a callback invoked with every fresh snapshot.
func (a *Aggregator) Subscribe(fn func(*models.HealthSnapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Snapshot returns the latest published snapshot. Never nil.
func (a *Aggregator) Snapshot() *models.HealthSnapshot {
	return a.snapshot.Load()
}

// Sample probes every dependency, recomputes the aggregate and publishes a
// new snapshot.
func (a *Aggregator) Sample(ctx context.Context) *models.HealthSnapshot {
	a.mu.Lock()
	deps := a.deps
	listeners := a.listeners
	a.mu.Unlock()

	dependencies := make(map[string]models.DependencyHealth, len(deps))
	var weighted, totalWeight float64

	for _, dep := range deps {
		health := a.sampleDependency(ctx, dep)
		dependencies[dep.Name] = health

		weight := a.weightFor(dep.Name)
		weighted += weight * a.scoreFor(health)
		totalWeight += weight
	}

	aggregate := 1.0
	if totalWeight > 0 {
		aggregate = weighted / totalWeight
	}

	snapshot := &models.HealthSnapshot{
		Aggregate:    aggregate,
		Dependencies: dependencies,
		TakenAt:      a.clock(),
	}
	a.snapshot.Store(snapshot)
	metrics.SetAggregateHealth(aggregate)

	for _, fn := range listeners {
		fn(snapshot)
	}

	return snapshot
}

// Run samples on the configured interval until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	interval := time.Duration(a.cfg.SampleIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshot := a.Sample(ctx)
			if snapshot.Aggregate < a.degradedThreshold() {
				a.logger.WarnwCtx(ctx, "Aggregate health below degraded threshold",
					"aggregate", snapshot.Aggregate,
				)
			}
		}
	}
}

func (a *Aggregator) sampleDependency(ctx context.Context, dep Dependency) models.DependencyHealth {
	health := models.DependencyHealth{
		Name:    dep.Name,
		Breaker: models.BreakerClosed,
	}

	if dep.Breaker != nil {
		health.Breaker = dep.Breaker.BreakerState()
		counts := dep.Breaker.Counts()
		if counts.Requests > 0 {
			health.ErrorRate = float64(counts.TotalFailures) / float64(counts.Requests)
		}
	}

	probeFailed := false
	if dep.Check != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		start := a.clock()
		err := dep.Check(probeCtx)
		elapsed := float64(a.clock().Sub(start).Microseconds()) / 1000.0
		cancel()

		a.mu.Lock()
		prev, ok := a.latency[dep.Name]
		if !ok {
			a.latency[dep.Name] = elapsed
		} else {
			a.latency[dep.Name] = prev + latencyAlpha*(elapsed-prev)
		}
		health.LatencyEWMAMs = a.latency[dep.Name]
		a.mu.Unlock()

		if err != nil {
			probeFailed = true
			a.logger.WarnwCtx(ctx, "Dependency probe failed",
				"dependency", dep.Name,
				"error", err,
			)
		}
	}

	switch {
	case probeFailed || health.Breaker == models.BreakerOpen:
		health.Status = models.DependencyUnhealthy
	case health.Breaker == models.BreakerHalfOpen || health.ErrorRate > 0.25:
		health.Status = models.DependencyDegraded
	default:
		health.Status = models.DependencyHealthy
	}

	return health
}

// scoreFor maps a dependency's sampled state onto [0,1]: the breaker state
// sets the base and the recent error rate scales it down.
func (a *Aggregator) scoreFor(health models.DependencyHealth) float64 {
	var base float64
	switch health.Breaker {
	case models.BreakerOpen:
		base = 0
	case models.BreakerHalfOpen:
		base = 0.5
	default:
		base = 1.0
	}

	if health.Status == models.DependencyUnhealthy {
		return 0
	}

	score := base * (1 - health.ErrorRate)
	if score < 0 {
		return 0
	}
	return score
}

func (a *Aggregator) weightFor(name string) float64 {
	if w, ok := a.cfg.DependencyWeights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}

func (a *Aggregator) degradedThreshold() float64 {
	if a.cfg.DegradedThreshold > 0 {
		return a.cfg.DegradedThreshold
	}
	return 0.75
}
