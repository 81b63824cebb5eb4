package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/pkg/models"
)

func celTestMessage() *models.MessageEnvelope {
	return &models.MessageEnvelope{
		ID:             "m1",
		Sender:         "exec-1",
		Recipient:      "jud-1",
		TenantID:       "t1",
		ConversationID: "c1",
		Priority:       models.PriorityHigh,
		Action:         "transfer_funds",
		RequestedTier:  models.TierHigh,
		Content: map[string]interface{}{
			"amount": 50000.0,
		},
		Timestamp: time.Unix(1700000000, 0),
		Metadata: models.Metadata{
			Score: &models.ImpactScore{Composite: 0.91},
		},
	}
}

func TestValidateRuleExpression(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"score threshold", `composite_score > 0.9`, false},
		{"tenant and action", `tenant_id == "t1" && action == "transfer_funds"`, false},
		{"content field", `has(content.amount) && content.amount > 10000.0`, false},
		{"priority in list", `priority in ["CRITICAL", "HIGH"]`, false},
		{"not bool", `tenant_id`, true},
		{"syntax error", `composite_score >`, true},
		{"unknown variable", `nonexistent > 1.0`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateRuleExpression(tt.expression)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateRule(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{"score matches", `composite_score >= 0.9`, true},
		{"score misses", `composite_score >= 0.95`, false},
		{"tier matches", `requested_tier == "HIGH"`, true},
		{"amount matches", `content.amount > 10000.0`, true},
		{"combined", `priority == "HIGH" && action == "transfer_funds"`, true},
		{"degraded false", `degraded`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateRule(context.Background(), tt.expression, celTestMessage())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateRuleErrors(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	_, err = e.EvaluateRule(context.Background(), `content.missing > 1.0`, celTestMessage())
	assert.Error(t, err, "reference to an absent content field is an evaluation error")
}
