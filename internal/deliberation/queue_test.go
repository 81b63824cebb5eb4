package deliberation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/pkg/circuitbreaker"
	"concord/pkg/errors"
	"concord/pkg/models"
)

type stubPolicy struct {
	allow bool
	fail  bool
	slow  time.Duration
}

func (p *stubPolicy) Evaluate(ctx context.Context, msg *models.MessageEnvelope) (*models.PolicyResult, error) {
	if p.slow > 0 {
		select {
		case <-time.After(p.slow):
		case <-ctx.Done():
			return nil, errors.ErrPolicyEvaluation.WithCause(ctx.Err())
		}
	}
	if p.fail {
		return nil, errors.ErrPolicyEvaluation.WithDetail("message_id", msg.ID)
	}
	verdict := &models.PolicyResult{Allow: p.allow, EvaluatedAt: time.Now()}
	if !p.allow {
		verdict.Reasons = []string{"amount exceeds limit"}
		return verdict, errors.ErrPolicyDenied.WithDetail("message_id", msg.ID)
	}
	return verdict, nil
}

func (p *stubPolicy) Breaker() *circuitbreaker.Wrapper { return nil }

type stubMinter struct {
	fail bool
}

func (m *stubMinter) Mint(ctx context.Context, agentID, tenantID, action string) (*models.ScopedToken, error) {
	if m.fail {
		return nil, errors.ErrDependencyUnavailable
	}
	return &models.ScopedToken{
		Token:    "signed-token",
		AgentID:  agentID,
		TenantID: tenantID,
		Action:   models.Action(action),
	}, nil
}

type stubEscalation struct {
	escalate bool
}

func (e *stubEscalation) ShouldEscalate(ctx context.Context, msg *models.MessageEnvelope) bool {
	return e.escalate
}

type recordingHandler struct {
	decided chan *models.DeliberationRequest
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{decided: make(chan *models.DeliberationRequest, 8)}
}

func (h *recordingHandler) HandleDecision(ctx context.Context, req *models.DeliberationRequest) {
	h.decided <- req
}

func (h *recordingHandler) wait(t *testing.T) *models.DeliberationRequest {
	t.Helper()
	select {
	case req := <-h.decided:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a deliberation decision")
		return nil
	}
}

func deliberationMessage(conversation string) *models.MessageEnvelope {
	msg := models.NewMessageEnvelopeBuilder().
		WithID("m-" + conversation).
		WithSender("exec-1").
		WithRecipient("jud-1").
		WithTenant("t1").
		WithConversation(conversation).
		WithConstitutionalHash("hash").
		WithAction("PROPOSE").
		Build()
	msg.Metadata.Score = &models.ImpactScore{Composite: 0.9}
	return msg
}

func newTestQueue(t *testing.T, p *stubPolicy, minter *stubMinter, esc *stubEscalation, cfg config.DeliberationConfig) (*Queue, *recordingHandler) {
	t.Helper()
	handler := newRecordingHandler()
	q := NewQueue(cfg, p, minter, esc, nil, handler, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	return q, handler
}

func TestQueueApprovesWithoutEscalation(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{allow: true}, &stubMinter{}, &stubEscalation{},
		config.DeliberationConfig{DecisionWait: time.Second, MaxPending: 10},
	)

	req, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, req.Decision)

	decided := handler.wait(t)
	assert.Equal(t, models.DecisionApproved, decided.Decision)
	require.NotNil(t, decided.Token, "approval must carry a scoped token")
	assert.Equal(t, "exec-1", decided.Token.AgentID)
	assert.Equal(t, models.ActionPropose, decided.Token.Action)
	assert.Zero(t, q.PendingCount())
}

func TestQueuePolicyDenialRejects(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{allow: false}, &stubMinter{}, &stubEscalation{},
		config.DeliberationConfig{DecisionWait: time.Second, MaxPending: 10},
	)

	_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	decided := handler.wait(t)
	assert.Equal(t, models.DecisionRejected, decided.Decision)
	assert.Equal(t, "POLICY_DENIED", decided.Reason)
	require.NotNil(t, decided.Policy)
	assert.False(t, decided.Policy.Allow)
	assert.Nil(t, decided.Token)
}

func TestQueueEvaluationErrorRejectsDistinctly(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{fail: true}, &stubMinter{}, &stubEscalation{},
		config.DeliberationConfig{DecisionWait: time.Second, MaxPending: 10},
	)

	_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	decided := handler.wait(t)
	assert.Equal(t, models.DecisionRejected, decided.Decision)
	assert.Equal(t, "POLICY_EVALUATION_ERROR", decided.Reason)
}

func TestQueuePolicyTimeoutBecomesTimedOut(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{allow: true, slow: 500 * time.Millisecond}, &stubMinter{}, &stubEscalation{},
		config.DeliberationConfig{DecisionWait: 50 * time.Millisecond, MaxPending: 10},
	)

	_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	decided := handler.wait(t)
	assert.Equal(t, models.DecisionTimedOut, decided.Decision)
	assert.Equal(t, "DELIBERATION_TIMEOUT", decided.Reason)
}

func TestQueueEscalationTimeout(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{allow: true}, &stubMinter{}, &stubEscalation{escalate: true},
		config.DeliberationConfig{
			DecisionWait:   time.Second,
			EscalationWait: 50 * time.Millisecond,
			MaxPending:     10,
		},
	)

	_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	decided := handler.wait(t)
	assert.Equal(t, models.DecisionTimedOut, decided.Decision)
	assert.Equal(t, "DELIBERATION_TIMEOUT", decided.Reason)
	assert.Zero(t, q.PendingCount(), "timed-out request must not dangle")
}

func TestQueueEscalationDecisions(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		want     models.Decision
	}{
		{"reviewer approves", true, models.DecisionApproved},
		{"reviewer rejects", false, models.DecisionRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, handler := newTestQueue(t,
				&stubPolicy{allow: true}, &stubMinter{}, &stubEscalation{escalate: true},
				config.DeliberationConfig{
					DecisionWait:   time.Second,
					EscalationWait: 5 * time.Second,
					MaxPending:     10,
				},
			)

			req, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return q.Decide(context.Background(), req.ID, tt.approved, "reviewed") == nil
			}, 2*time.Second, 10*time.Millisecond)

			decided := handler.wait(t)
			assert.Equal(t, tt.want, decided.Decision)
		})
	}
}

func TestQueueSinglePendingPerConversation(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{allow: true}, &stubMinter{}, &stubEscalation{escalate: true},
		config.DeliberationConfig{
			DecisionWait:   time.Second,
			EscalationWait: 5 * time.Second,
			MaxPending:     10,
		},
	)

	first, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.Error(t, err, "one pending request per conversation")
	assert.True(t, errors.IsConflict(err))

	// A different conversation is unaffected.
	_, err = q.Enqueue(context.Background(), deliberationMessage("c2"))
	require.NoError(t, err)

	require.NoError(t, q.Decide(context.Background(), first.ID, true, ""))
	handler.wait(t)

	// Terminal decision frees the conversation slot.
	require.Eventually(t, func() bool {
		_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueAdmissionControl(t *testing.T) {
	q, _ := newTestQueue(t,
		&stubPolicy{allow: true}, &stubMinter{}, &stubEscalation{escalate: true},
		config.DeliberationConfig{
			DecisionWait:   time.Second,
			EscalationWait: 5 * time.Second,
			MaxPending:     1,
		},
	)

	_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), deliberationMessage("c2"))
	require.Error(t, err, "queue at capacity refuses admission")

	q.SetShedding(true)
	_, err = q.Enqueue(context.Background(), deliberationMessage("c3"))
	require.Error(t, err, "shedding refuses admission")
}

func TestQueueMintFailureRejects(t *testing.T) {
	q, handler := newTestQueue(t,
		&stubPolicy{allow: true}, &stubMinter{fail: true}, &stubEscalation{},
		config.DeliberationConfig{DecisionWait: time.Second, MaxPending: 10},
	)

	_, err := q.Enqueue(context.Background(), deliberationMessage("c1"))
	require.NoError(t, err)

	decided := handler.wait(t)
	assert.Equal(t, models.DecisionRejected, decided.Decision)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", decided.Reason)
	assert.Nil(t, decided.Token)
}
