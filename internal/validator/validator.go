package validator

import (
	"crypto/subtle"

	"concord/pkg/errors"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// Validator is the constitutional integrity gate. Every message entering the
// pipeline passes through here first; nothing downstream ever sees a message
// that failed or skipped this check.
type Validator struct {
	expectedHash string
}

// New builds a validator around the injected constitutional hash. The hash is
// process-wide configuration, never derived from the message being checked.
func New(expectedHash string) *Validator {
	return &Validator{expectedHash: expectedHash}
}

// Validate is fail-closed: a missing or malformed hash is a rejection, never a
// pass-through. The only side effect is the rejection counter.
func (v *Validator) Validate(msg *models.MessageEnvelope) error {
	if msg == nil || msg.ConstitutionalHash == "" {
		metrics.IntegrityRejectionsTotal.WithLabelValues("missing").Inc()
		return errors.ErrIntegrityMissing
	}

	if subtle.ConstantTimeCompare([]byte(msg.ConstitutionalHash), []byte(v.expectedHash)) != 1 {
		metrics.IntegrityRejectionsTotal.WithLabelValues("mismatch").Inc()
		return errors.ErrIntegrityMismatch.WithDetail("message_id", msg.ID)
	}

	return nil
}
