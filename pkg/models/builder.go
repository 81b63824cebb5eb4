package models

import "time"

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Content:  make(map[string]interface{}),
			Priority: PriorityMedium,
			Metadata: Metadata{},
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSender(sender string) *MessageEnvelopeBuilder {
	b.envelope.Sender = sender
	return b
}

func (b *MessageEnvelopeBuilder) WithRecipient(recipient string) *MessageEnvelopeBuilder {
	b.envelope.Recipient = recipient
	return b
}

func (b *MessageEnvelopeBuilder) WithTenant(tenantID string) *MessageEnvelopeBuilder {
	b.envelope.TenantID = tenantID
	return b
}

func (b *MessageEnvelopeBuilder) WithConversation(conversationID string) *MessageEnvelopeBuilder {
	b.envelope.ConversationID = conversationID
	return b
}

func (b *MessageEnvelopeBuilder) WithPriority(priority Priority) *MessageEnvelopeBuilder {
	b.envelope.Priority = priority
	return b
}

func (b *MessageEnvelopeBuilder) WithConstitutionalHash(hash string) *MessageEnvelopeBuilder {
	b.envelope.ConstitutionalHash = hash
	return b
}

func (b *MessageEnvelopeBuilder) WithAction(action string) *MessageEnvelopeBuilder {
	b.envelope.Action = action
	return b
}

func (b *MessageEnvelopeBuilder) WithContent(content map[string]interface{}) *MessageEnvelopeBuilder {
	b.envelope.Content = content
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now()
	}
	return b.envelope
}
