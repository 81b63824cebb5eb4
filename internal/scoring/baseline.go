package scoring

import (
	"math"
	"sync"
	"time"
)

// baselineEntry is the rolling action-frequency baseline for one sender. An
// exponentially weighted average of the arrival rate stands in for "normal"
// behavior; the context sub-score measures distance from it.
type baselineEntry struct {
	mu       sync.Mutex
	rate     float64
	lastSeen time.Time
}

type Baseline struct {
	halfLife time.Duration
	cap      float64
	entries  sync.Map // senderKey -> *baselineEntry
	clock    func() time.Time
}

func NewBaseline(windowSeconds int, deviationCap float64) *Baseline {
	if windowSeconds <= 0 {
		windowSeconds = 900
	}
	if deviationCap <= 0 {
		deviationCap = 3.0
	}
	return &Baseline{
		halfLife: time.Duration(windowSeconds) * time.Second,
		cap:      deviationCap,
		clock:    time.Now,
	}
}

// Observe folds one arrival into the sender's baseline and returns the
// deviation score in [0,1]. A sender moving at its usual cadence scores near
// zero; a sender suddenly bursting (or an unseen sender) scores higher.
func (b *Baseline) Observe(tenantID, agentID string) float64 {
	key := senderKey(tenantID, agentID)

	v, _ := b.entries.LoadOrStore(key, &baselineEntry{})
	entry := v.(*baselineEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := b.clock()

	if entry.lastSeen.IsZero() {
		// First observation: no baseline yet, mildly anomalous by definition.
		entry.lastSeen = now
		entry.rate = 0
		return 0.5
	}

	elapsed := now.Sub(entry.lastSeen)
	entry.lastSeen = now
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	instant := 1.0 / elapsed.Seconds()

	alpha := 1.0 - math.Exp(-elapsed.Seconds()/b.halfLife.Seconds())
	prior := entry.rate
	entry.rate = prior + alpha*(instant-prior)

	if prior <= 0 {
		return 0.5
	}

	deviation := math.Abs(instant-prior) / prior
	score := deviation / b.cap
	if score > 1 {
		return 1
	}
	return score
}
