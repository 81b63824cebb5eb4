// Package publisher is the tenant-isolated, ordered publication boundary.
// Every outcome the pipeline reaches leaves through here: delivered messages
// onto the tenant's event log, rejections and timeouts as their own event
// types, and an audit record for each.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"concord/internal/audit"
	"concord/internal/broker"
	"concord/internal/constants"
	"concord/internal/logger"
	"concord/pkg/errors"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// BusEvent is the published record. Sequence is the per-partition-key
// ordinal assigned at publish time; consumers can verify gap-free ordering
// per conversation with it.
type BusEvent struct {
	EventType   string                 `json:"event_type"`
	Sequence    uint64                 `json:"sequence"`
	Message     models.MessageEnvelope `json:"message"`
	ReasonCode  string                 `json:"reason_code,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	PublishedAt time.Time              `json:"published_at"`
}

type Publisher struct {
	producer  broker.Producer
	audit     *audit.Sink
	namespace string
	logger    logger.Logger
	clock     func() time.Time

	// mu guards the sequences map only. Each key carries its own lock, held
	// across assignment and the broker write, so one conversation's publish
	// never blocks another's.
	mu        sync.Mutex
	sequences map[string]*keySequence
}

type keySequence struct {
	mu   sync.Mutex
	next uint64
}

func New(producer broker.Producer, auditSink *audit.Sink, namespace string, log logger.Logger) *Publisher {
	return &Publisher{
		producer:  producer,
		audit:     auditSink,
		namespace: namespace,
		logger:    log,
		clock:     time.Now,
		sequences: make(map[string]*keySequence),
	}
}

// Topic builds the tenant-scoped topic name.
func (p *Publisher) Topic(tenantID, eventType string) string {
	return fmt.Sprintf("%s.tenant.%s.%s", p.namespace, tenantID, eventType)
}

// Deliver publishes a message as delivered. Implements the router's fast
// path; approved deliberations come through HandleDecision.
func (p *Publisher) Deliver(ctx context.Context, msg *models.MessageEnvelope) error {
	return p.publish(ctx, msg, constants.EventTypeDelivered, "", "")
}

// Reject publishes a terminal rejection with its machine-readable reason
// code. Distinct rejection reasons are never collapsed.
func (p *Publisher) Reject(ctx context.Context, msg *models.MessageEnvelope, reasonCode, reason string) error {
	return p.publish(ctx, msg, constants.EventTypeRejected, reasonCode, reason)
}

// HandleDecision publishes the outcome of a deliberation. Approved requests
// deliver; rejections and timeouts publish their own event types so a
// timeout never masquerades as an explicit denial.
func (p *Publisher) HandleDecision(ctx context.Context, req *models.DeliberationRequest) {
	msg := req.Message

	var err error
	switch req.Decision {
	case models.DecisionApproved:
		err = p.publish(ctx, &msg, constants.EventTypeDelivered, "", "")
	case models.DecisionTimedOut:
		err = p.publish(ctx, &msg, constants.EventTypeTimedOut, errors.ErrDeliberationTimeout.Code, req.Reason)
	case models.DecisionRejected:
		err = p.publish(ctx, &msg, constants.EventTypeRejected, req.Reason, reasonText(req))
	default:
		p.logger.ErrorwCtx(ctx, "Deliberation decision handler saw a non-terminal request",
			"request_id", req.ID,
			"decision", string(req.Decision),
		)
		return
	}

	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to publish deliberation outcome",
			"request_id", req.ID,
			"decision", string(req.Decision),
			"error", err,
		)
	}
}

func (p *Publisher) publish(ctx context.Context, msg *models.MessageEnvelope, eventType, reasonCode, reason string) error {
	key := msg.PartitionKey()
	topic := p.Topic(msg.TenantID, eventType)

	seq := p.seqFor(key)
	seq.mu.Lock()
	event := BusEvent{
		EventType:   eventType,
		Sequence:    seq.next + 1,
		Message:     *msg,
		ReasonCode:  reasonCode,
		Reason:      reason,
		PublishedAt: p.clock(),
	}
	err := p.producer.Publish(ctx, topic, key, event)
	if err == nil {
		// A failed write consumes no ordinal, so the redelivered message
		// publishes under the same sequence and the per-key stream stays
		// gap-free.
		seq.next++
	}
	seq.mu.Unlock()

	if err != nil {
		return errors.ErrDependencyUnavailable.
			WithCause(err).
			WithDetail("dependency", constants.DependencyKafka).
			WithDetail("topic", topic)
	}

	metrics.PublishedEventsTotal.WithLabelValues(eventType).Inc()

	outcome := eventType
	var composite float64
	var path string
	if msg.Metadata.Score != nil {
		composite = msg.Metadata.Score.Composite
	}
	if msg.Metadata.Routing != nil {
		path = msg.Metadata.Routing.Path
	}
	p.audit.Emit(audit.Event{
		MessageID:      msg.ID,
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Action:         msg.Action,
		Outcome:        outcome,
		ReasonCode:     reasonCode,
		Reason:         reason,
		CompositeScore: composite,
		Path:           path,
		OccurredAt:     event.PublishedAt,
	})

	return nil
}

func (p *Publisher) seqFor(key string) *keySequence {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq, ok := p.sequences[key]
	if !ok {
		seq = &keySequence{}
		p.sequences[key] = seq
	}
	return seq
}

func reasonText(req *models.DeliberationRequest) string {
	if req.Policy != nil && len(req.Policy.Reasons) > 0 {
		return req.Policy.Reasons[0]
	}
	return ""
}
