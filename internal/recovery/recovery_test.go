package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/circuitbreaker"
	"concord/pkg/models"
)

func snapshotWith(aggregate float64, deps map[string]models.DependencyHealth) *models.HealthSnapshot {
	return &models.HealthSnapshot{
		Aggregate:    aggregate,
		Dependencies: deps,
		TakenAt:      time.Now(),
	}
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *models.HealthSnapshot
		want     Strategy
	}{
		{
			"healthy aggregate selects nothing",
			snapshotWith(0.95, nil),
			StrategyNone,
		},
		{
			"nil snapshot selects nothing",
			nil,
			StrategyNone,
		},
		{
			"collapsed aggregate sheds load",
			snapshotWith(0.2, map[string]models.DependencyHealth{
				"semantic": {Name: "semantic", Status: models.DependencyUnhealthy},
			}),
			StrategyShedLoad,
		},
		{
			"unhealthy semantic provider degrades the scorer",
			snapshotWith(0.6, map[string]models.DependencyHealth{
				"semantic": {Name: "semantic", Status: models.DependencyUnhealthy},
				"redis":    {Name: "redis", Status: models.DependencyHealthy},
			}),
			StrategyDegradeScorer,
		},
		{
			"other unhealthy dependency opens breakers",
			snapshotWith(0.6, map[string]models.DependencyHealth{
				"semantic": {Name: "semantic", Status: models.DependencyHealthy},
				"policy":   {Name: "policy", Status: models.DependencyUnhealthy},
			}),
			StrategyOpenBreakers,
		},
		{
			"merely degraded dependencies retry with backoff",
			snapshotWith(0.6, map[string]models.DependencyHealth{
				"redis": {Name: "redis", Status: models.DependencyDegraded},
			}),
			StrategyRetryBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.snapshot, 0.75))
		})
	}
}

func TestSelectStrategyDeterministic(t *testing.T) {
	snapshot := snapshotWith(0.6, map[string]models.DependencyHealth{
		"semantic": {Name: "semantic", Status: models.DependencyUnhealthy},
	})

	first := SelectStrategy(snapshot, 0.75)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SelectStrategy(snapshot, 0.75))
	}
}

type fakeAdmission struct {
	shedding bool
}

func (f *fakeAdmission) SetShedding(shed bool) { f.shedding = shed }

type fakeScorer struct {
	degraded bool
}

func (f *fakeScorer) SetDegraded(degraded bool) { f.degraded = degraded }

func newTestOrchestrator() (*Orchestrator, *fakeAdmission, *fakeScorer, map[string]*circuitbreaker.Wrapper) {
	queue := &fakeAdmission{}
	scorer := &fakeScorer{}
	breakers := map[string]*circuitbreaker.Wrapper{
		"policy": circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("policy")),
	}
	o := NewOrchestrator(config.RecoveryConfig{HealthThreshold: 0.75}, queue, scorer, breakers, logger.NopLogger())
	return o, queue, scorer, breakers
}

func TestObserveShedsAndRecovers(t *testing.T) {
	o, queue, _, _ := newTestOrchestrator()

	o.Observe(snapshotWith(0.2, nil))
	assert.Equal(t, StrategyShedLoad, o.Active())
	assert.True(t, queue.shedding)

	o.Observe(snapshotWith(0.95, nil))
	assert.Equal(t, StrategyNone, o.Active())
	assert.False(t, queue.shedding, "recovery lifts shedding")
}

func TestObserveDegradesScorer(t *testing.T) {
	o, _, scorer, _ := newTestOrchestrator()

	o.Observe(snapshotWith(0.6, map[string]models.DependencyHealth{
		"semantic": {Name: "semantic", Status: models.DependencyUnhealthy},
	}))
	assert.Equal(t, StrategyDegradeScorer, o.Active())
	assert.True(t, scorer.degraded)

	o.Observe(snapshotWith(0.95, nil))
	assert.False(t, scorer.degraded)
}

func TestObserveOpensAndReleasesBreakers(t *testing.T) {
	o, _, _, breakers := newTestOrchestrator()

	o.Observe(snapshotWith(0.6, map[string]models.DependencyHealth{
		"policy": {Name: "policy", Status: models.DependencyUnhealthy},
	}))
	assert.Equal(t, StrategyOpenBreakers, o.Active())
	assert.True(t, breakers["policy"].IsOpen())

	o.Observe(snapshotWith(0.95, nil))
	assert.False(t, breakers["policy"].IsOpen())
}

func TestObserveRetryGate(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()

	assert.False(t, o.RetryTransient())

	o.Observe(snapshotWith(0.6, map[string]models.DependencyHealth{
		"redis": {Name: "redis", Status: models.DependencyDegraded},
	}))
	assert.True(t, o.RetryTransient())
}

func TestObserveIdempotentPerStrategy(t *testing.T) {
	o, queue, _, _ := newTestOrchestrator()

	low := snapshotWith(0.2, nil)
	o.Observe(low)
	queue.shedding = false // simulate out-of-band reset

	// Same strategy again is a no-op; Observe only acts on transitions.
	o.Observe(low)
	assert.False(t, queue.shedding)
}
