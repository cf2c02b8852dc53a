package pipeline

import (
	"fmt"
	"math"

	"github.com/lorekeep/retrieval/internal/config"
)

// Gate reasons carried into explanations.
const (
	ReasonTooFewCandidates = "too few candidates"
	ReasonClearWinner      = "clear winner"
	ReasonLowVariance      = "low variance"
	ReasonHighConfidence   = "high confidence"
	ReasonAmbiguousRanking = "ambiguous ranking"
	ReasonGateDisabled     = "reranker disabled"
)

// Optimizer decides whether cross-encoder reranking is worth its cost
// for a given fused score distribution.
type Optimizer struct {
	cfg config.OptimizerConfig
}

// NewOptimizer creates an optimizer with the given gate thresholds.
func NewOptimizer(cfg config.OptimizerConfig) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Decide inspects the scale-normalized fused scores (sorted descending)
// and returns whether to apply reranking plus the human-readable reason.
//
// Reranking is skipped when the outcome is unlikely to change: a clear
// winner at the top, a near-flat distribution, an already-confident top
// score, or too few candidates to reorder.
func (o *Optimizer) Decide(scores []float64) GateDecision {
	if len(scores) < o.cfg.MinCandidates {
		return GateDecision{
			Apply:  false,
			Reason: fmt.Sprintf("%s (%d < %d)", ReasonTooFewCandidates, len(scores), o.cfg.MinCandidates),
		}
	}

	topGap := scores[0] - scores[1]
	if topGap > o.cfg.ClearWinnerGap {
		return GateDecision{
			Apply:  false,
			Reason: fmt.Sprintf("%s (gap %.3f > %.3f)", ReasonClearWinner, topGap, o.cfg.ClearWinnerGap),
		}
	}

	std := populationStd(scores)
	if std < o.cfg.LowVariance {
		return GateDecision{
			Apply:  false,
			Reason: fmt.Sprintf("%s (std %.4f < %.4f)", ReasonLowVariance, std, o.cfg.LowVariance),
		}
	}

	if scores[0] > o.cfg.HighConfidence {
		return GateDecision{
			Apply:  false,
			Reason: fmt.Sprintf("%s (top %.3f > %.3f)", ReasonHighConfidence, scores[0], o.cfg.HighConfidence),
		}
	}

	return GateDecision{Apply: true, Reason: ReasonAmbiguousRanking}
}

// populationStd computes the population standard deviation.
func populationStd(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(scores)))
}
