package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"concord/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{"identical vectors", []float64{1, 0, 0}, []float64{1, 0, 0}, 1},
		{"orthogonal vectors", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite vectors clamp to zero", []float64{1, 0}, []float64{-1, 0}, 0},
		{"mismatched lengths", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMaxSimilarity(t *testing.T) {
	refs := []config.ReferenceVector{
		{Label: "exfiltration", Vector: []float64{1, 0, 0}},
		{Label: "escalation", Vector: []float64{0, 1, 0}},
	}

	got := MaxSimilarity([]float64{0.9, 0.1, 0}, refs)
	assert.Greater(t, got, 0.9)
	assert.LessOrEqual(t, got, 1.0)

	assert.Equal(t, 0.0, MaxSimilarity([]float64{0, 0, 1}, refs))
	assert.Equal(t, 0.0, MaxSimilarity([]float64{1, 0, 0}, nil))
}
