// Package deliberation holds high-risk messages until a terminal decision is
// reached. Each admitted request runs its own state machine goroutine:
// policy evaluation, optional human/consensus escalation with a bounded
// wait, and scoped token issuance on approval. Terminal states are final.
package deliberation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"concord/internal/config"
	"concord/internal/logger"
	"concord/internal/policy"
	"concord/pkg/errors"
	"concord/pkg/logging"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// TokenMinter issues the scoped credential attached to approved requests.
type TokenMinter interface {
	Mint(ctx context.Context, agentID, tenantID, action string) (*models.ScopedToken, error)
}

// Escalation decides whether an allowed request still needs a human or
// consensus decision.
type Escalation interface {
	ShouldEscalate(ctx context.Context, msg *models.MessageEnvelope) bool
}

// DecisionHandler receives every terminally decided request. The pipeline
// wires this to the event publisher.
type DecisionHandler interface {
	HandleDecision(ctx context.Context, req *models.DeliberationRequest)
}

type externalDecision struct {
	approved bool
	reason   string
}

type pendingRequest struct {
	req        *models.DeliberationRequest
	decisionCh chan externalDecision
}

type Queue struct {
	cfg        config.DeliberationConfig
	policy     policy.Evaluator
	tokens     TokenMinter
	escalation Escalation
	archive    Archiver
	handler    DecisionHandler
	logger     logger.Logger
	clock      func() time.Time

	shedding atomic.Bool

	mu             sync.Mutex
	pending        map[string]*pendingRequest
	byConversation map[string]string

	runCtx context.Context
	wg     sync.WaitGroup
}

func NewQueue(
	cfg config.DeliberationConfig,
	evaluator policy.Evaluator,
	tokens TokenMinter,
	escalation Escalation,
	archive Archiver,
	handler DecisionHandler,
	log logger.Logger,
) *Queue {
	return &Queue{
		cfg:            cfg,
		policy:         evaluator,
		tokens:         tokens,
		escalation:     escalation,
		archive:        archive,
		handler:        handler,
		logger:         log,
		clock:          time.Now,
		pending:        make(map[string]*pendingRequest),
		byConversation: make(map[string]string),
	}
}

// Start binds the queue to its lifecycle context. Request goroutines inherit
// this context, not the per-message consumer context, so an in-flight wait
// survives the message handler returning.
func (q *Queue) Start(ctx context.Context) {
	q.runCtx = ctx
}

// Drain waits for every in-flight request goroutine to finish.
func (q *Queue) Drain() {
	q.wg.Wait()
}

// SetShedding toggles admission control. While shedding, new deliberation
// admissions are refused with a retryable error; in-flight requests drain
// normally.
func (q *Queue) SetShedding(shed bool) {
	q.shedding.Store(shed)
}

func (q *Queue) Shedding() bool {
	return q.shedding.Load()
}

func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue admits a message to deliberation. Admission fails retryably when
// the queue is shedding, full, or the conversation already has a pending
// request; redelivery preserves conversation order without the queue holding
// its own backlog.
func (q *Queue) Enqueue(ctx context.Context, msg *models.MessageEnvelope) (*models.DeliberationRequest, error) {
	if q.runCtx == nil {
		return nil, errors.ErrInternal.WithDetail("reason", "deliberation queue not started")
	}
	if q.shedding.Load() {
		return nil, errors.ErrDependencyUnavailable.AsRetryable().
			WithDetail("reason", "deliberation admissions shed")
	}

	q.mu.Lock()
	if q.cfg.MaxPending > 0 && len(q.pending) >= q.cfg.MaxPending {
		q.mu.Unlock()
		return nil, errors.ErrDependencyUnavailable.AsRetryable().
			WithDetail("reason", "deliberation queue full").
			WithDetail("max_pending", q.cfg.MaxPending)
	}
	if existing, ok := q.byConversation[msg.ConversationID]; ok {
		q.mu.Unlock()
		return nil, errors.ErrConflict.AsRetryable().
			WithDetail("reason", "conversation has a pending deliberation").
			WithDetail("pending_request_id", existing)
	}

	req := &models.DeliberationRequest{
		ID:        uuid.New().String(),
		Message:   *msg,
		Decision:  models.DecisionPending,
		CreatedAt: q.clock(),
	}
	pr := &pendingRequest{
		req:        req,
		decisionCh: make(chan externalDecision, 1),
	}
	q.pending[req.ID] = pr
	q.byConversation[msg.ConversationID] = req.ID
	q.mu.Unlock()

	msg.Metadata.Deliberation = &models.DeliberationInfo{
		RequestID: req.ID,
		Decision:  string(models.DecisionPending),
	}
	metrics.DeliberationPending.Inc()

	q.wg.Add(1)
	go q.process(pr)

	return req, nil
}

// Decide resolves an escalated request from outside: a reviewer verdict or a
// consensus outcome. Requests that are unknown or already terminal refuse
// the decision.
func (q *Queue) Decide(ctx context.Context, requestID string, approved bool, reason string) error {
	q.mu.Lock()
	pr, ok := q.pending[requestID]
	q.mu.Unlock()
	if !ok {
		return errors.ErrNotFound.WithDetail("request_id", requestID)
	}

	select {
	case pr.decisionCh <- externalDecision{approved: approved, reason: reason}:
		return nil
	default:
		return errors.ErrConflict.
			WithDetail("request_id", requestID).
			WithDetail("reason", "decision already submitted")
	}
}

func (q *Queue) process(pr *pendingRequest) {
	defer q.wg.Done()

	msg := &pr.req.Message
	ctx := logging.WithMessageID(q.runCtx, msg.ID)
	ctx = logging.WithTenantID(ctx, msg.TenantID)
	ctx = logging.WithConversationID(ctx, msg.ConversationID)

	policyCtx, cancel := context.WithTimeout(ctx, q.decisionWait())
	verdict, err := q.policy.Evaluate(policyCtx, msg)
	cancel()
	pr.req.Policy = verdict

	if err != nil {
		if policyCtx.Err() == context.DeadlineExceeded {
			q.finish(ctx, pr, models.DecisionTimedOut, errors.ErrDeliberationTimeout.Code)
			return
		}
		q.finish(ctx, pr, models.DecisionRejected, errors.ReasonCode(err))
		return
	}

	if q.escalation != nil && q.escalation.ShouldEscalate(ctx, msg) {
		q.awaitDecision(ctx, pr)
		return
	}

	q.approve(ctx, pr)
}

func (q *Queue) awaitDecision(ctx context.Context, pr *pendingRequest) {
	timer := time.NewTimer(q.escalationWait())
	defer timer.Stop()

	q.logger.InfowCtx(ctx, "Deliberation escalated, awaiting decision",
		"request_id", pr.req.ID,
		"wait_bound", q.escalationWait().String(),
	)

	select {
	case decision := <-pr.decisionCh:
		if decision.approved {
			q.approve(ctx, pr)
			return
		}
		reason := decision.reason
		if reason == "" {
			reason = errors.ErrPolicyDenied.Code
		}
		q.finish(ctx, pr, models.DecisionRejected, reason)
	case <-timer.C:
		q.finish(ctx, pr, models.DecisionTimedOut, errors.ErrDeliberationTimeout.Code)
	case <-ctx.Done():
		q.finish(ctx, pr, models.DecisionTimedOut, errors.ErrDeliberationTimeout.Code)
	}
}

func (q *Queue) approve(ctx context.Context, pr *pendingRequest) {
	msg := &pr.req.Message

	token, err := q.tokens.Mint(ctx, msg.Sender, msg.TenantID, msg.Action)
	if err != nil {
		// No token, no approval. An approval without its scoped credential
		// would let the action run unbounded.
		q.logger.ErrorwCtx(ctx, "Scoped token minting failed, rejecting request",
			"request_id", pr.req.ID,
			"error", err,
		)
		q.finish(ctx, pr, models.DecisionRejected, errors.ErrDependencyUnavailable.Code)
		return
	}

	pr.req.Token = token
	q.finish(ctx, pr, models.DecisionApproved, "")
}

func (q *Queue) finish(ctx context.Context, pr *pendingRequest, decision models.Decision, reason string) {
	q.mu.Lock()
	if pr.req.Decision.Terminal() {
		q.mu.Unlock()
		return
	}
	pr.req.Decision = decision
	pr.req.Reason = reason
	pr.req.DecidedAt = q.clock()
	delete(q.pending, pr.req.ID)
	delete(q.byConversation, pr.req.Message.ConversationID)
	q.mu.Unlock()

	pr.req.Message.Metadata.Deliberation = &models.DeliberationInfo{
		RequestID: pr.req.ID,
		Decision:  string(decision),
		Reason:    reason,
		DecidedAt: pr.req.DecidedAt,
	}

	wait := pr.req.DecidedAt.Sub(pr.req.CreatedAt)
	metrics.DeliberationPending.Dec()
	metrics.DeliberationRequestsTotal.WithLabelValues(string(decision)).Inc()
	metrics.ObserveDeliberationWait(string(decision), wait)

	q.logger.InfowCtx(ctx, "Deliberation request decided",
		"request_id", pr.req.ID,
		"decision", string(decision),
		"reason", reason,
		"wait", wait.String(),
	)

	if q.archive != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.archive.Store(archiveCtx, pr.req); err != nil {
			q.logger.ErrorwCtx(ctx, "Failed to archive deliberation request",
				"request_id", pr.req.ID,
				"error", err,
			)
		}
		cancel()
	}

	if q.handler != nil {
		q.handler.HandleDecision(ctx, pr.req)
	}
}

func (q *Queue) decisionWait() time.Duration {
	if q.cfg.DecisionWait > 0 {
		return q.cfg.DecisionWait
	}
	return 30 * time.Second
}

func (q *Queue) escalationWait() time.Duration {
	if q.cfg.EscalationWait > 0 {
		return q.cfg.EscalationWait
	}
	return 60 * time.Second
}
