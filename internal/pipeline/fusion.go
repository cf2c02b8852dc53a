package pipeline

import (
	"sort"
)

// RankedList is one retriever's output entering fusion: IDs in rank
// order (position 0 is the best match) with that retriever's weight.
type RankedList struct {
	Name   string
	Weight float64
	IDs    []string
}

// FuseRRF combines ranked lists with reciprocal rank fusion.
//
// For a retriever with weight w, the item at 0-indexed position p
// contributes w * 1/(kRRF + p + 1); items absent from a list contribute
// nothing from it. Items are ordered by descending total score with
// ties broken by ascending ID, so the output is a strict total order
// for any input.
func FuseRRF(lists []RankedList, kRRF int) []ScoredID {
	scores := make(map[string]float64)

	for _, list := range lists {
		for p, id := range list.IDs {
			scores[id] += list.Weight / float64(kRRF+p+1)
		}
	}

	fused := make([]ScoredID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, ScoredID{ID: id, Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

// MaxAttainableRRF returns the score of a hypothetical item ranked
// first by every retriever. Dividing raw RRF totals by it yields
// scale-free scores in [0,1] for thresholding.
func MaxAttainableRRF(weights []float64, kRRF int) float64 {
	var max float64
	for _, w := range weights {
		max += w / float64(kRRF+1)
	}
	return max
}

// NormalizeScores divides raw RRF totals by the maximum attainable
// score. A zero maximum (no retrievers) yields zeros.
func NormalizeScores(fused []ScoredID, maxAttainable float64) []float64 {
	out := make([]float64, len(fused))
	if maxAttainable <= 0 {
		return out
	}
	for i, f := range fused {
		out[i] = f.Score / maxAttainable
	}
	return out
}
