package deliberation

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"concord/internal/logger"
	"concord/pkg/cel"
	"concord/pkg/metrics"
	"concord/pkg/models"
)

// RuleSource supplies the current escalation rule set.
type RuleSource interface {
	ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error)
}

// Escalator evaluates escalation rules against a deliberation-path message.
// Rules are cached in an immutable snapshot and reloaded on an interval, same
// shape as the identity resolver.
type Escalator struct {
	source    RuleSource
	evaluator *cel.Evaluator
	interval  time.Duration
	logger    logger.Logger

	rules atomic.Pointer[[]models.EscalationRule]
}

func NewEscalator(source RuleSource, evaluator *cel.Evaluator, reloadSeconds int, log logger.Logger) *Escalator {
	interval := time.Duration(reloadSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	e := &Escalator{
		source:    source,
		evaluator: evaluator,
		interval:  interval,
		logger:    log,
	}
	empty := []models.EscalationRule{}
	e.rules.Store(&empty)
	return e
}

func (e *Escalator) Reload(ctx context.Context) error {
	rules, err := e.source.ListEscalationRules(ctx)
	if err != nil {
		return err
	}

	enabled := make([]models.EscalationRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	sort.Slice(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})

	e.rules.Store(&enabled)
	metrics.SetEscalationActiveRules(len(enabled))

	e.logger.InfowCtx(ctx, "Escalation rules reloaded",
		"count", len(enabled),
	)
	return nil
}

func (e *Escalator) Run(ctx context.Context) error {
	if err := e.Reload(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Reload(ctx); err != nil {
				e.logger.ErrorwCtx(ctx, "Escalation rule reload failed, keeping previous snapshot",
					"error", err,
				)
			}
		}
	}
}

// ShouldEscalate reports whether any active rule matches the message. A rule
// that fails to evaluate counts as a match; a broken rule must widen review,
// never narrow it.
func (e *Escalator) ShouldEscalate(ctx context.Context, msg *models.MessageEnvelope) bool {
	for _, rule := range *e.rules.Load() {
		matched, err := e.evaluator.EvaluateRule(ctx, rule.Expression, msg)
		if err != nil {
			e.logger.WarnwCtx(ctx, "Escalation rule evaluation failed, escalating",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			return true
		}
		if matched {
			return true
		}
	}
	return false
}

// ActiveRules returns the number of rules in the current snapshot.
func (e *Escalator) ActiveRules() int {
	return len(*e.rules.Load())
}
