package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeep/retrieval/internal/config"
)

func defaultEvaluator() *Evaluator {
	return NewEvaluator(config.Default().Quality)
}

func TestEvaluate_Verdicts(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   Verdict
	}{
		{"top above high cutoff", []float64{0.76, 0.2}, VerdictHigh},
		{"high boundary is exclusive", []float64{0.75, 0.1}, VerdictLow},
		{"medium by average", []float64{0.6, 0.42}, VerdictMedium},
		{"medium boundary is exclusive", []float64{0.6, 0.4}, VerdictLow},
		{"low", []float64{0.3, 0.2, 0.1}, VerdictLow},
		{"empty list", nil, VerdictNoResults},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, _ := defaultEvaluator().Evaluate(tt.scores)
			assert.Equal(t, tt.want, verdict)
		})
	}
}

func TestEvaluate_Features(t *testing.T) {
	_, features := defaultEvaluator().Evaluate([]float64{0.6, 0.42})

	assert.InDelta(t, 0.6, features.TopScore, 1e-12)
	assert.InDelta(t, 0.51, features.AvgScore, 1e-12)
	assert.InDelta(t, 0.09, features.ScoreStd, 1e-12)
}

func TestEvaluate_MediumUsesAverage(t *testing.T) {
	// top_score 0.6 is not HIGH; avg 0.51 > 0.50 makes it MEDIUM.
	verdict, features := defaultEvaluator().Evaluate([]float64{0.6, 0.42})
	assert.Equal(t, VerdictMedium, verdict)
	assert.Greater(t, features.AvgScore, 0.50)
}
