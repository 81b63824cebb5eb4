package models

import "time"

type DependencyStatus string

const (
	DependencyHealthy   DependencyStatus = "healthy"
	DependencyDegraded  DependencyStatus = "degraded"
	DependencyUnhealthy DependencyStatus = "unhealthy"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half-open"
	BreakerOpen     BreakerState = "open"
)

type DependencyHealth struct {
	Name         string           `json:"name"`
	Status       DependencyStatus `json:"status"`
	Breaker      BreakerState     `json:"breaker"`
	ErrorRate    float64          `json:"error_rate"`
	LatencyEWMAMs float64         `json:"latency_ewma_ms"`
}

// HealthSnapshot is the read-only view published by the health aggregator.
// Only the aggregator mutates it; readers get an immutable copy via an atomic
// pointer swap.
type HealthSnapshot struct {
	Aggregate    float64                     `json:"aggregate"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	TakenAt      time.Time                   `json:"taken_at"`
}
