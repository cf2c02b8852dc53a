package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// reranker runs cross-encoder scoring over the top fused candidates.
// Pair scoring is stateless but resource-heavy, so in-flight calls are
// capped by a semaphore shared across all requests.
type reranker struct {
	scorer  PairScorer
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newReranker(scorer PairScorer, concurrency int, timeout time.Duration) *reranker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &reranker{
		scorer:  scorer,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
	}
}

// rerank scores each candidate against the original (non-expanded)
// query and re-sorts by that score, ties broken by ascending ID.
//
// The second return is false when the stage degraded: no scorer is
// wired, or any pair call failed or timed out. The caller then keeps
// the fused order. Errors never propagate past this boundary.
func (r *reranker) rerank(ctx context.Context, logger *slog.Logger, query string, candidates []Candidate) ([]Candidate, bool) {
	if r == nil || r.scorer == nil || len(candidates) == 0 {
		return candidates, false
	}
	if logger == nil {
		logger = slog.Default()
	}

	rctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(rctx)

	for i := range candidates {
		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer r.sem.Release(1)

			score, err := r.scorer.Score(gctx, query, candidates[i].Text)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Warn("reranker_degraded", slog.String("error", err.Error()))
		return candidates, false
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		s := scores[i]
		out[i].RerankScore = &s
	}

	sort.Slice(out, func(i, j int) bool {
		if *out[i].RerankScore != *out[j].RerankScore {
			return *out[i].RerankScore > *out[j].RerankScore
		}
		return out[i].ID < out[j].ID
	})
	return out, true
}
