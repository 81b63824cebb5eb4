package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"concord/pkg/errors"
	"concord/pkg/models"
)

func TestValidate(t *testing.T) {
	v := New("cdd01ef066bc6cf2")

	tests := []struct {
		name     string
		msg      *models.MessageEnvelope
		wantCode string
	}{
		{
			name: "matching hash passes",
			msg:  &models.MessageEnvelope{ID: "m1", ConstitutionalHash: "cdd01ef066bc6cf2"},
		},
		{
			name:     "mismatched hash rejected",
			msg:      &models.MessageEnvelope{ID: "m2", ConstitutionalHash: "deadbeef"},
			wantCode: errors.ErrIntegrityMismatch.Code,
		},
		{
			name:     "missing hash rejected",
			msg:      &models.MessageEnvelope{ID: "m3"},
			wantCode: errors.ErrIntegrityMissing.Code,
		},
		{
			name:     "nil message rejected",
			msg:      nil,
			wantCode: errors.ErrIntegrityMissing.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.msg)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.ReasonCode(err))
		})
	}
}

func TestValidateDistinguishesMissingFromMismatch(t *testing.T) {
	v := New("expected")

	missing := v.Validate(&models.MessageEnvelope{ID: "a"})
	mismatch := v.Validate(&models.MessageEnvelope{ID: "b", ConstitutionalHash: "other"})

	assert.NotEqual(t, errors.ReasonCode(missing), errors.ReasonCode(mismatch))
	assert.True(t, errors.IsIntegrity(missing))
	assert.True(t, errors.IsIntegrity(mismatch))
}
