// Package pipeline runs the validate, score, authorize, route flow. A pool
// of workers consumes submitted messages; the lane a message lands in is a
// hash of its conversation id, so messages sharing a conversation always
// serialize through the same worker while unrelated conversations proceed in
// parallel.
package pipeline

import (
	"context"
	stderrors "errors"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"

	"concord/internal/constants"
	"concord/internal/logger"
	"concord/internal/maci"
	"concord/internal/routing"
	"concord/internal/scoring"
	"concord/internal/validator"
	"concord/pkg/errors"
	"concord/pkg/logging"
	"concord/pkg/metrics"
	"concord/pkg/models"
	"concord/pkg/retry"
)

// IdentityResolver resolves a sender to its current identity binding.
type IdentityResolver interface {
	Resolve(tenantID, agentID string) *models.AgentIdentity
}

// RejectSink publishes terminal rejections.
type RejectSink interface {
	Reject(ctx context.Context, msg *models.MessageEnvelope, reasonCode, reason string) error
}

// RetryGate reports whether transient dependency errors should currently be
// retried. The recovery orchestrator implements it.
type RetryGate interface {
	RetryTransient() bool
}

type Config struct {
	WorkerCount int
	LaneDepth   int
	RetryPolicy retry.Policy
}

type job struct {
	ctx  context.Context
	msg  *models.MessageEnvelope
	done chan error
}

type Pipeline struct {
	cfg        Config
	validator  *validator.Validator
	scorer     *scoring.Scorer
	enforcer   *maci.Enforcer
	identities IdentityResolver
	router     *routing.Router
	rejects    RejectSink
	retryGate  RetryGate
	logger     logger.Logger
	clock      func() time.Time

	lanes []chan job
}

func New(
	cfg Config,
	v *validator.Validator,
	scorer *scoring.Scorer,
	enforcer *maci.Enforcer,
	identities IdentityResolver,
	router *routing.Router,
	rejects RejectSink,
	retryGate RetryGate,
	log logger.Logger,
) *Pipeline {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 64
	}

	lanes := make([]chan job, cfg.WorkerCount)
	for i := range lanes {
		lanes[i] = make(chan job, cfg.LaneDepth)
	}

	return &Pipeline{
		cfg:        cfg,
		validator:  v,
		scorer:     scorer,
		enforcer:   enforcer,
		identities: identities,
		router:     router,
		rejects:    rejects,
		retryGate:  retryGate,
		logger:     log,
		clock:      time.Now,
		lanes:      lanes,
	}
}

// Run starts the worker pool and blocks until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range p.lanes {
		lane := p.lanes[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j := <-lane:
					j.done <- p.runJob(j.ctx, j.msg)
				}
			}
		})
	}
	return g.Wait()
}

// runJob shields the lane worker from a panicking stage. The panic becomes
// the message's terminal error and the worker keeps draining its lane.
func (p *Pipeline) runJob(ctx context.Context, msg *models.MessageEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic recovered in pipeline worker",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()
	return p.process(ctx, msg)
}

// Handle is the broker consumer entrypoint. It parks the message on its
// conversation's lane and waits for the verdict, so broker offsets only
// advance once the pipeline is done with the message. The envelope stays
// shared with the caller, so a redelivered message keeps the score attached
// on an earlier attempt instead of being scored again.
func (p *Pipeline) Handle(ctx context.Context, msg *models.MessageEnvelope) error {
	j := job{ctx: ctx, msg: msg, done: make(chan error, 1)}
	lane := p.lanes[p.laneFor(msg.PartitionKey())]

	select {
	case lane <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) laneFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// process runs the full stage flow for one message. A nil return means the
// message reached a terminal outcome (delivered, deliberating, or rejected
// with a published reason); an error return asks the consumer to redeliver.
func (p *Pipeline) process(ctx context.Context, msg *models.MessageEnvelope) error {
	start := p.clock()
	ctx = logging.WithMessageID(ctx, msg.ID)
	ctx = logging.WithTenantID(ctx, msg.TenantID)
	ctx = logging.WithConversationID(ctx, msg.ConversationID)

	// Validate. Nothing is scored, authorized, or routed for a message that
	// fails here.
	stageStart := p.clock()
	if err := models.ValidateMessageEnvelope(msg); err != nil {
		return p.reject(ctx, msg, errors.ErrValidation.Code, err.Error(), start)
	}
	if err := p.validator.Validate(msg); err != nil {
		return p.reject(ctx, msg, errors.ReasonCode(err), "constitutional hash check failed", start)
	}
	metrics.ObserveStageDuration(constants.StageValidate, p.clock().Sub(stageStart))

	// Score.
	stageStart = p.clock()
	score := p.scorer.Score(ctx, msg)
	msg.Metadata.Score = &score
	metrics.ObserveStageDuration(constants.StageScore, p.clock().Sub(stageStart))

	// Authorize.
	stageStart = p.clock()
	action, err := models.ParseAction(msg.Action)
	if err != nil {
		return p.reject(ctx, msg, errors.ErrRoleViolation.Code, err.Error(), start)
	}
	identity := p.identities.Resolve(msg.TenantID, msg.Sender)
	if err := p.enforcer.Authorize(identity, action); err != nil {
		return p.reject(ctx, msg, errors.ReasonCode(err), "action not permitted for role", start)
	}
	metrics.ObserveStageDuration(constants.StageAuthorize, p.clock().Sub(stageStart))

	// Route.
	stageStart = p.clock()
	path, err := p.route(ctx, msg)
	if err != nil {
		if isRetryable(err) {
			// Redelivery preserves per-conversation order; the consumer's
			// retry policy owns the backoff.
			return err
		}
		return p.reject(ctx, msg, errors.ReasonCode(err), "routing failed", start)
	}
	metrics.ObserveStageDuration(constants.StageRoute, p.clock().Sub(stageStart))

	metrics.PipelineMessagesTotal.WithLabelValues("processed").Inc()
	metrics.ObservePipelineLatency(path, p.clock().Sub(start))
	return nil
}

func (p *Pipeline) route(ctx context.Context, msg *models.MessageEnvelope) (string, error) {
	path, err := p.router.Route(ctx, msg)
	if err == nil {
		return path, nil
	}

	// Transient fast-path failures get one bounded retry round when the
	// recovery orchestrator has enabled it. Never retried indefinitely.
	if p.retryGate != nil && p.retryGate.RetryTransient() && isRetryable(err) {
		retryErr := retry.Do(ctx, p.cfg.RetryPolicy, func() error {
			_, rerr := p.router.Route(ctx, msg)
			return rerr
		})
		if retryErr == nil {
			return path, nil
		}
		return path, retryErr
	}

	return path, err
}

func (p *Pipeline) reject(ctx context.Context, msg *models.MessageEnvelope, reasonCode, reason string, start time.Time) error {
	p.logger.InfowCtx(ctx, "Message rejected",
		"message_id", msg.ID,
		"reason_code", reasonCode,
		"reason", reason,
	)

	if err := p.rejects.Reject(ctx, msg, reasonCode, reason); err != nil {
		// The rejection itself could not be published; redeliver rather
		// than lose the outcome.
		return err
	}

	metrics.PipelineMessagesTotal.WithLabelValues("rejected").Inc()
	metrics.ObservePipelineLatency(constants.PathRejected, p.clock().Sub(start))
	return nil
}

func isRetryable(err error) bool {
	var retryable errors.RetryableError
	if stderrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}
