package healthmon

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

func failingBreaker(t *testing.T, name string, failures int) *circuitbreaker.Wrapper {
	t.Helper()
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.ReadyToTrip = circuitbreaker.ConsecutiveFailures(3)
	cb := circuitbreaker.NewWrapper(cfg)

	for i := 0; i < failures; i++ {
		cb.Execute(func() (interface{}, error) { return nil, assert.AnError })
	}
	return cb
}

func TestSampleAllHealthy(t *testing.T) {
	a := NewAggregator(config.HealthConfig{}, logger.NopLogger())
	a.Track(Dependency{
		Name:    "redis",
		Breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("redis")),
		Check:   func(ctx context.Context) error { return nil },
	})
	a.Track(Dependency{
		Name:  "kafka",
		Check: func(ctx context.Context) error { return nil },
	})

	snapshot := a.Sample(context.Background())

	assert.Equal(t, 1.0, snapshot.Aggregate)
	assert.Equal(t, models.DependencyHealthy, snapshot.Dependencies["redis"].Status)
	assert.Equal(t, models.DependencyHealthy, snapshot.Dependencies["kafka"].Status)
}

func TestSampleOpenBreakerIsUnhealthy(t *testing.T) {
	a := NewAggregator(config.HealthConfig{}, logger.NopLogger())
	a.Track(Dependency{Name: "policy", Breaker: failingBreaker(t, "policy", 3)})
	a.Track(Dependency{Name: "redis", Check: func(ctx context.Context) error { return nil }})

	snapshot := a.Sample(context.Background())

	policy := snapshot.Dependencies["policy"]
	assert.Equal(t, models.BreakerOpen, policy.Breaker)
	assert.Equal(t, models.DependencyUnhealthy, policy.Status)
	assert.Equal(t, 0.5, snapshot.Aggregate, "one dead dependency out of two equally weighted")
}

func TestSampleProbeFailureIsUnhealthy(t *testing.T) {
	a := NewAggregator(config.HealthConfig{}, logger.NopLogger())
	a.Track(Dependency{
		Name:  "archive",
		Check: func(ctx context.Context) error { return assert.AnError },
	})

	snapshot := a.Sample(context.Background())

	assert.Equal(t, models.DependencyUnhealthy, snapshot.Dependencies["archive"].Status)
	assert.Zero(t, snapshot.Aggregate)
}

func TestSampleDependencyWeights(t *testing.T) {
	a := NewAggregator(config.HealthConfig{
		DependencyWeights: map[string]float64{"kafka": 3, "semantic": 1},
	}, logger.NopLogger())
	a.Track(Dependency{Name: "kafka", Check: func(ctx context.Context) error { return nil }})
	a.Track(Dependency{Name: "semantic", Check: func(ctx context.Context) error { return assert.AnError }})

	snapshot := a.Sample(context.Background())

	assert.InDelta(t, 0.75, snapshot.Aggregate, 1e-9,
		"a heavy healthy dependency outweighs a light unhealthy one")
}

func TestSnapshotSingleWriter(t *testing.T) {
	a := NewAggregator(config.HealthConfig{}, logger.NopLogger())
	a.Track(Dependency{Name: "redis", Check: func(ctx context.Context) error { return nil }})

	before := a.Snapshot()
	after := a.Sample(context.Background())

	assert.NotSame(t, before, after, "sampling publishes a fresh snapshot, never mutates the old one")
	assert.Same(t, after, a.Snapshot())
}

func TestSubscribersSeeEverySample(t *testing.T) {
	a := NewAggregator(config.HealthConfig{}, logger.NopLogger())
	a.Track(Dependency{Name: "redis", Check: func(ctx context.Context) error { return nil }})

	var seen []*models.HealthSnapshot
	a.Subscribe(func(s *models.HealthSnapshot) { seen = append(seen, s) })

	a.Sample(context.Background())
	a.Sample(context.Background())

	require.Len(t, seen, 2)
	assert.Equal(t, 1.0, seen[1].Aggregate)
}

func TestBreakerLifecycle(t *testing.T) {
	cfg := circuitbreaker.Config{
		Name:        "lifecycle",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: circuitbreaker.ConsecutiveFailures(3),
	}
	cb := circuitbreaker.NewWrapper(cfg)

	require.True(t, cb.IsClosed())

	// N consecutive failures trip the breaker open.
	for i := 0; i < 3; i++ {
		cb.Execute(func() (interface{}, error) { return nil, assert.AnError })
	}
	require.True(t, cb.IsOpen())

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.Error(t, err, "open breaker rejects without calling through")

	// After the cool-down, M consecutive successes close it again.
	time.Sleep(60 * time.Millisecond)
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
		require.NoError(t, err)
	}
	assert.True(t, cb.IsClosed())
}
