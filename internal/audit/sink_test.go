package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/logger"
)

type fakeProducer struct {
	mu      sync.Mutex
	written []Event
	err     error
}

func (f *fakeProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if event, ok := value.(Event); ok {
		f.written = append(f.written, event)
	}
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestEmitNeverBlocks(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewSink(producer, "bus_audit", 2, logger.NopLogger())

	// No Run loop draining; the buffer fills and further emits drop.
	assert.True(t, sink.Emit(Event{MessageID: "m1", Outcome: "message.delivered"}))
	assert.True(t, sink.Emit(Event{MessageID: "m2", Outcome: "message.delivered"}))

	done := make(chan bool, 1)
	go func() {
		done <- sink.Emit(Event{MessageID: "m3", Outcome: "message.delivered"})
	}()

	select {
	case dropped := <-done:
		assert.False(t, dropped, "a full sink drops instead of blocking")
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full sink")
	}
}

func TestRunDrainsEvents(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewSink(producer, "bus_audit", 16, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Emit(Event{MessageID: "m1", Outcome: "message.delivered"})
	sink.Emit(Event{MessageID: "m2", Outcome: "message.rejected", ReasonCode: "POLICY_DENIED"})

	require.Eventually(t, func() bool {
		return producer.count() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewSink(producer, "bus_audit", 16, logger.NopLogger())

	sink.Emit(Event{MessageID: "m1", Outcome: "message.delivered"})
	sink.Emit(Event{MessageID: "m2", Outcome: "message.delivered"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)

	assert.Equal(t, 2, producer.count(), "buffered events flush on shutdown")
}

func TestProducerFailureDoesNotPropagate(t *testing.T) {
	producer := &fakeProducer{err: assert.AnError}
	sink := NewSink(producer, "bus_audit", 16, logger.NopLogger())

	assert.True(t, sink.Emit(Event{MessageID: "m1", Outcome: "message.delivered"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)
}
