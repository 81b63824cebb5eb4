package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateMessageEnvelope checks the structural contract of an envelope. The
// constitutional hash is deliberately not checked here; that is the
// validator's job and has its own failure taxonomy.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "message envelope cannot be nil",
		}
	}

	if msg.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "message ID is required",
		}
	}

	if msg.Sender == "" {
		return &ValidationError{
			Field:   "sender",
			Message: "sender is required",
		}
	}

	if msg.Recipient == "" {
		return &ValidationError{
			Field:   "recipient",
			Message: "recipient is required",
		}
	}

	if msg.TenantID == "" {
		return &ValidationError{
			Field:   "tenant_id",
			Message: "tenant ID is required",
		}
	}

	if msg.ConversationID == "" {
		return &ValidationError{
			Field:   "conversation_id",
			Message: "conversation ID is required",
		}
	}

	switch msg.Priority {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return &ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("unknown priority: %q", msg.Priority),
		}
	}

	if msg.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "message timestamp is required",
		}
	}

	return nil
}
