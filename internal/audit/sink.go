// Package audit emits fire-and-forget audit events. The pipeline never waits
// on the sink: enqueue is a non-blocking channel send, and a full sink drops
// the event and counts the drop rather than stalling a routing decision.
package audit

import (
	"context"
	"time"

	"concord/internal/broker"
	"concord/internal/logger"
	"concord/pkg/metrics"
)

const defaultBuffer = 1024

// Event is one audit record. Outcome is the pipeline disposition; ReasonCode
// is set for rejections only.
type Event struct {
	MessageID      string    `json:"message_id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	ReasonCode     string    `json:"reason_code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CompositeScore float64   `json:"composite_score,omitempty"`
	Path           string    `json:"path,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Sink struct {
	producer broker.Producer
	topic    string
	logger   logger.Logger
	events   chan Event
}

func NewSink(producer broker.Producer, topic string, buffer int, log logger.Logger) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Sink{
		producer: producer,
		topic:    topic,
		logger:   log,
		events:   make(chan Event, buffer),
	}
}

// Emit enqueues an audit event without blocking. Returns false when the event
// was dropped.
func (s *Sink) Emit(event Event) bool {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	select {
	case s.events <- event:
		metrics.AuditEventsTotal.WithLabelValues(event.Outcome).Inc()
		return true
	default:
		metrics.AuditEventsDroppedTotal.Inc()
		return false
	}
}

// Run drains the sink until the context is cancelled, then flushes whatever
// is still buffered.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case event := <-s.events:
			s.write(event)
		}
	}
}

func (s *Sink) flush() {
	for {
		select {
		case event := <-s.events:
			s.write(event)
		default:
			return
		}
	}
}

func (s *Sink) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.producer.Publish(ctx, s.topic, event.MessageID, event); err != nil {
		// Audit is best-effort by contract. Log and move on.
		s.logger.ErrorwCtx(ctx, "Failed to write audit event",
			"message_id", event.MessageID,
			"outcome", event.Outcome,
			"error", err,
		)
	}
}
