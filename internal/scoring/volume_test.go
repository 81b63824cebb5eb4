package scoring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVolumeTrackerRate(t *testing.T) {
	tr := NewVolumeTracker(60)
	now := time.Unix(1700000000, 0)
	tr.clock = func() time.Time { return now }

	assert.Zero(t, tr.Rate("t1", "a1"))

	for i := 0; i < 5; i++ {
		tr.Record("t1", "a1")
	}
	assert.Equal(t, 5.0, tr.Rate("t1", "a1"))

	// A different tenant with the same agent id keeps its own counter.
	tr.Record("t2", "a1")
	assert.Equal(t, 1.0, tr.Rate("t2", "a1"))
	assert.Equal(t, 5.0, tr.Rate("t1", "a1"))
}

func TestVolumeTrackerWindowExpiry(t *testing.T) {
	tr := NewVolumeTracker(60)
	now := time.Unix(1700000000, 0)
	tr.clock = func() time.Time { return now }

	tr.Record("t1", "a1")
	tr.Record("t1", "a1")
	assert.Equal(t, 2.0, tr.Rate("t1", "a1"))

	// Advance past the trailing window; old buckets no longer count.
	now = now.Add(61 * time.Second)
	assert.Zero(t, tr.Rate("t1", "a1"))

	tr.Record("t1", "a1")
	assert.Equal(t, 1.0, tr.Rate("t1", "a1"))
}

func TestVolumeTrackerConcurrentRecord(t *testing.T) {
	tr := NewVolumeTracker(60)
	now := time.Unix(1700000000, 0)
	tr.clock = func() time.Time { return now }

	const goroutines = 16
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				tr.Record("t1", "a1")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(goroutines*perGoroutine), tr.Rate("t1", "a1"))
}

func TestBaselineFirstObservation(t *testing.T) {
	b := NewBaseline(900, 3.0)
	assert.Equal(t, 0.5, b.Observe("t1", "a1"))
}

func TestBaselineSteadyCadenceScoresLow(t *testing.T) {
	// Short half-life so the average converges inside the test.
	b := NewBaseline(5, 3.0)
	now := time.Unix(1700000000, 0)
	b.clock = func() time.Time { return now }

	b.Observe("t1", "a1")

	var last float64
	for i := 0; i < 50; i++ {
		now = now.Add(time.Second)
		last = b.Observe("t1", "a1")
	}

	assert.Less(t, last, 0.5, "steady cadence should read as near-baseline")
}
