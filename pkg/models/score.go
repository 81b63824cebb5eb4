package models

import "time"

// CapabilityTier is the privilege tier an action requests.
type CapabilityTier string

const (
	TierLow    CapabilityTier = "LOW"
	TierMedium CapabilityTier = "MEDIUM"
	TierHigh   CapabilityTier = "HIGH"
)

// ImpactScore carries the four sub-scores and the composite risk value for a
// message. Scores are attached once at scoring time and never recomputed.
type ImpactScore struct {
	Semantic   float64   `json:"semantic"`
	Permission float64   `json:"permission"`
	Volume     float64   `json:"volume"`
	Context    float64   `json:"context"`
	Composite  float64   `json:"composite"`
	Degraded   bool      `json:"degraded,omitempty"`
	ScoredAt   time.Time `json:"scored_at"`
}
