// Package recovery turns health snapshots into recovery actions. Strategy
// selection is a pure function of the snapshot so every decision is
// reproducible from the snapshot that caused it.
package recovery

import (
	"concord/internal/constants"
	"concord/pkg/models"
)

type Strategy string

const (
	// StrategyNone means aggregate health is above the threshold; any prior
	// recovery measures are lifted.
	StrategyNone Strategy = "none"

	// StrategyShedLoad rejects new deliberation admissions while the fast
	// path keeps draining.
	StrategyShedLoad Strategy = "shed_load"

	// StrategyDegradeScorer drops the semantic sub-score while its provider
	// is unhealthy, downgrading rather than blocking.
	StrategyDegradeScorer Strategy = "degrade_scorer"

	// StrategyOpenBreakers preemptively opens the breakers of unhealthy
	// dependencies so callers fail fast instead of piling onto them.
	StrategyOpenBreakers Strategy = "open_breakers"

	// StrategyRetryBackoff retries transient dependency errors with bounded
	// backoff. Every retry path terminates in reject-with-diagnostic.
	StrategyRetryBackoff Strategy = "retry_backoff"
)

// SelectStrategy picks the recovery strategy for a snapshot. Severity wins:
// a collapsed aggregate sheds load before anything subtler is attempted.
func SelectStrategy(snapshot *models.HealthSnapshot, threshold float64) Strategy {
	if snapshot == nil || snapshot.Aggregate >= threshold {
		return StrategyNone
	}

	if snapshot.Aggregate < threshold/2 {
		return StrategyShedLoad
	}

	if dep, ok := snapshot.Dependencies[constants.DependencySemantic]; ok &&
		dep.Status == models.DependencyUnhealthy {
		return StrategyDegradeScorer
	}

	for name, dep := range snapshot.Dependencies {
		if name == constants.DependencySemantic {
			continue
		}
		if dep.Status == models.DependencyUnhealthy {
			return StrategyOpenBreakers
		}
	}

	return StrategyRetryBackoff
}
