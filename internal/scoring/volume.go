package scoring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"concord/pkg/metrics"
)

// senderKey scopes volume counters per (tenant, agent). Tenants never share
// a counter.
func senderKey(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s", tenantID, agentID)
}

// bucket is one second of the trailing window. stamp holds the unix second
// the slot currently represents; count holds messages seen in that second.
type bucket struct {
	stamp atomic.Int64
	count atomic.Int64
}

type senderWindow struct {
	buckets []bucket
}

// VolumeTracker maintains a trailing per-second ring for every active
// (tenant, agent) pair. Counters are updated with atomics only; there is no
// global lock on the hot path. A stale bucket being reset concurrently can at
// worst drop a single increment, which is acceptable for a rate signal.
type VolumeTracker struct {
	windowSeconds int
	senders       sync.Map // senderKey -> *senderWindow
	size          atomic.Int64
	clock         func() time.Time
}

func NewVolumeTracker(windowSeconds int) *VolumeTracker {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &VolumeTracker{
		windowSeconds: windowSeconds,
		clock:         time.Now,
	}
}

func (t *VolumeTracker) window(key string) *senderWindow {
	if w, ok := t.senders.Load(key); ok {
		return w.(*senderWindow)
	}

	w := &senderWindow{buckets: make([]bucket, t.windowSeconds)}
	actual, loaded := t.senders.LoadOrStore(key, w)
	if !loaded {
		metrics.SetVolumeTrackedSenders(int(t.size.Add(1)))
	}
	return actual.(*senderWindow)
}

// Record counts one message for the sender at the current second.
func (t *VolumeTracker) Record(tenantID, agentID string) {
	w := t.window(senderKey(tenantID, agentID))
	sec := t.clock().Unix()
	b := &w.buckets[int(sec)%len(w.buckets)]

	for {
		old := b.stamp.Load()
		if old == sec {
			break
		}
		if b.stamp.CompareAndSwap(old, sec) {
			b.count.Store(0)
			break
		}
	}
	b.count.Add(1)
}

// Rate returns the number of messages the sender produced inside the trailing
// window.
func (t *VolumeTracker) Rate(tenantID, agentID string) float64 {
	w, ok := t.senders.Load(senderKey(tenantID, agentID))
	if !ok {
		return 0
	}

	sw := w.(*senderWindow)
	now := t.clock().Unix()
	cutoff := now - int64(t.windowSeconds)

	var total int64
	for i := range sw.buckets {
		stamp := sw.buckets[i].stamp.Load()
		if stamp > cutoff && stamp <= now {
			total += sw.buckets[i].count.Load()
		}
	}
	return float64(total)
}
