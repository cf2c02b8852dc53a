package pipeline

import (
	"github.com/lorekeep/retrieval/internal/config"
)

// Evaluator classifies the quality of a final candidate list.
type Evaluator struct {
	cfg config.QualityConfig
}

// NewEvaluator creates an evaluator with the given cutoffs.
func NewEvaluator(cfg config.QualityConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate derives score statistics and a verdict from the final
// list's scores (rerank scores when reranking was applied, otherwise
// scale-normalized fused scores). Both cutoffs are exclusive: a top
// score exactly at the HIGH threshold is not HIGH.
func (e *Evaluator) Evaluate(scores []float64) (Verdict, QualityFeatures) {
	if len(scores) == 0 {
		return VerdictNoResults, QualityFeatures{}
	}

	features := QualityFeatures{
		TopScore: scores[0],
		ScoreStd: populationStd(scores),
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	features.AvgScore = sum / float64(len(scores))

	switch {
	case features.TopScore > e.cfg.HighThreshold:
		return VerdictHigh, features
	case features.AvgScore > e.cfg.MediumThreshold:
		return VerdictMedium, features
	default:
		return VerdictLow, features
	}
}
