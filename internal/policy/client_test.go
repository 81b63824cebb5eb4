package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/config"
	"concord/pkg/errors"
	"concord/pkg/models"
)

func policyTestMessage() *models.MessageEnvelope {
	msg := models.NewMessageEnvelopeBuilder().
		WithID("m1").
		WithSender("a1").
		WithRecipient("a2").
		WithTenant("t1").
		WithConversation("c1").
		WithConstitutionalHash("hash").
		WithAction("propose").
		Build()
	msg.Metadata.Score = &models.ImpactScore{Composite: 0.85}
	return msg
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(
		config.PolicyConfig{Endpoint: srv.URL, Timeout: time.Second},
		config.CircuitBreakerConfig{},
	)
	return client, srv
}

func TestEvaluateAllow(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"allow": true, "reasons": []}`))
	})

	verdict, err := client.Evaluate(context.Background(), policyTestMessage())

	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.True(t, verdict.Allow)
	assert.False(t, verdict.EvaluatedAt.IsZero())
}

func TestEvaluateDeny(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"allow": false, "reasons": ["tenant budget exceeded"]}`))
	})

	verdict, err := client.Evaluate(context.Background(), policyTestMessage())

	require.Error(t, err)
	assert.Equal(t, "POLICY_DENIED", errors.ReasonCode(err))
	require.NotNil(t, verdict)
	assert.False(t, verdict.Allow)
	assert.Equal(t, []string{"tenant budget exceeded"}, verdict.Reasons)
}

func TestEvaluateEngineErrorFailsClosed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	verdict, err := client.Evaluate(context.Background(), policyTestMessage())

	require.Error(t, err)
	assert.Nil(t, verdict)
	assert.Equal(t, "POLICY_EVALUATION_ERROR", errors.ReasonCode(err))
}

func TestEvaluateMalformedResponseFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "oops"},
		{"missing verdict", `{"reasons": ["x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			_, err := client.Evaluate(context.Background(), policyTestMessage())

			require.Error(t, err)
			assert.Equal(t, "POLICY_EVALUATION_ERROR", errors.ReasonCode(err))
		})
	}
}

func TestEvaluateUnreachableEngineFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewHTTPClient(
		config.PolicyConfig{Endpoint: srv.URL, Timeout: 200 * time.Millisecond},
		config.CircuitBreakerConfig{},
	)

	_, err := client.Evaluate(context.Background(), policyTestMessage())

	require.Error(t, err)
	assert.Equal(t, "POLICY_EVALUATION_ERROR", errors.ReasonCode(err))
}
