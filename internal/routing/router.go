// Package routing decides, per scored message, whether delivery proceeds
// immediately or detours through deliberation. The decision is a pure
// threshold comparison; all policy judgment lives downstream of it.
package routing

import (
	"context"
	"time"

	"concord/internal/constants"
	"concord/internal/logger"
	"concord/pkg/errors"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// FastPath delivers a message directly to its recipient's partition.
type FastPath interface {
	Deliver(ctx context.Context, msg *models.MessageEnvelope) error
}

// DeliberationPath parks a message pending an explicit decision.
type DeliberationPath interface {
	Enqueue(ctx context.Context, msg *models.MessageEnvelope) (*models.DeliberationRequest, error)
}

type Router struct {
	threshold float64
	fast      FastPath
	delib     DeliberationPath
	logger    logger.Logger
	clock     func() time.Time
}

func NewRouter(threshold float64, fast FastPath, delib DeliberationPath, log logger.Logger) *Router {
	return &Router{
		threshold: threshold,
		fast:      fast,
		delib:     delib,
		logger:    log,
		clock:     time.Now,
	}
}

// Decide maps a composite score onto a path. The boundary is inclusive: a
// score exactly at the threshold goes to deliberation.
func (r *Router) Decide(composite float64) string {
	if composite >= r.threshold {
		return constants.PathDeliberation
	}
	return constants.PathFast
}

// Route dispatches a scored message down its path. Messages without an
// attached score are refused outright; routing an unscored message would
// bypass the whole impact model.
func (r *Router) Route(ctx context.Context, msg *models.MessageEnvelope) (string, error) {
	if msg.Metadata.Score == nil {
		return "", errors.ErrValidation.WithDetail("message_id", msg.ID).
			WithDetail("reason", "message has no impact score")
	}

	path := r.Decide(msg.Metadata.Score.Composite)
	msg.Metadata.Routing = &models.RoutingInfo{
		Path:      path,
		DecidedAt: r.clock(),
	}
	metrics.IncRoutingDecision(path)

	switch path {
	case constants.PathDeliberation:
		req, err := r.delib.Enqueue(ctx, msg)
		if err != nil {
			return path, err
		}
		r.logger.InfowCtx(ctx, "Message routed to deliberation",
			"message_id", msg.ID,
			"request_id", req.ID,
			"composite", msg.Metadata.Score.Composite,
		)
		return path, nil
	default:
		if err := r.fast.Deliver(ctx, msg); err != nil {
			return path, err
		}
		r.logger.DebugwCtx(ctx, "Message routed fast path",
			"message_id", msg.ID,
			"composite", msg.Metadata.Score.Composite,
		)
		return path, nil
	}
}
