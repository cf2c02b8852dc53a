package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/retrieval/internal/config"
	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/telemetry"
)

// Pipeline orchestrates one retrieval request end to end:
// expand -> {sparse ∥ dense} -> fuse -> gate -> (rerank) -> evaluate ->
// (refine | fallback, at most once) -> explain.
type Pipeline struct {
	cfg       *config.Config
	sparse    SparseSearcher
	dense     DenseSearcher
	passages  passage.Store
	expander  *Expander
	optimizer *Optimizer
	evaluator *Evaluator
	reranker  *reranker
	refiner   Refiner
	fallback  FallbackRetriever
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithReranker wires the cross-encoder pair scorer.
func WithReranker(scorer PairScorer) Option {
	return func(p *Pipeline) {
		p.reranker = newReranker(scorer, p.cfg.Rerank.Concurrency, p.cfg.Rerank.Timeout)
	}
}

// WithRefiner wires the query refiner used on MEDIUM verdicts.
func WithRefiner(r Refiner) Option {
	return func(p *Pipeline) { p.refiner = r }
}

// WithFallback wires the fallback retriever used on LOW verdicts.
func WithFallback(f FallbackRetriever) Option {
	return func(p *Pipeline) { p.fallback = f }
}

// WithMetrics wires prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline over the given retrieval channels.
func New(cfg *config.Config, sparse SparseSearcher, dense DenseSearcher, passages passage.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		sparse:    sparse,
		dense:     dense,
		passages:  passages,
		expander:  NewExpander(cfg.Expansion),
		optimizer: NewOptimizer(cfg.Optimizer),
		evaluator: NewEvaluator(cfg.Quality),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// fusionWeights are the per-request effective RRF weights.
type fusionWeights struct {
	dense  float64
	sparse float64
}

// channelResults holds one retrieval fan-out's outcome.
type channelResults struct {
	sparseHits []ScoredID
	denseHits  []ScoredID
	sparseErr  error
	denseErr   error
}

// Run executes the pipeline for one request.
//
// Only two conditions surface as errors: both retrieval channels
// failing (RetrievalUnavailable) and a candidate set that is empty
// after all corrective paths even though candidates existed at some
// point (PipelineFailed). Everything else is recovered locally and
// reported through Result.Flags.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Query == "" {
		return nil, coreerrors.New(coreerrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}

	start := time.Now()
	requestID := uuid.NewString()
	logger := p.logger.With(
		slog.String("request_id", requestID),
		slog.String("scope", req.Scope))

	weights := fusionWeights{dense: p.cfg.Fusion.DenseWeight, sparse: p.cfg.Fusion.SparseWeight}
	if req.DenseWeight > 0 && req.SparseWeight > 0 {
		weights = fusionWeights{dense: req.DenseWeight, sparse: req.SparseWeight}
	}
	topKFinal := req.TopKFinal
	if topKFinal <= 0 {
		topKFinal = p.cfg.Rerank.TopKFinal
	}

	var flags []string

	// Expansion widens only the retrieval query; req.Query stays
	// untouched for reranking and explanation.
	expanded := p.expander.Expand(req.Query)
	if expanded != req.Query {
		logger.Debug("query_expanded",
			slog.String("original", req.Query),
			slog.String("expanded", expanded))
	}

	results, err := p.retrieve(ctx, req, expanded)
	if err != nil {
		return nil, err
	}
	if results.sparseErr != nil || results.denseErr != nil {
		flags = append(flags, FlagPartialRetrieval)
		if p.metrics != nil {
			p.metrics.RecordPartialRetrieval()
		}
	}

	fused := p.fuseChannels(results.sparseHits, results.denseHits, nil, nil, weights)
	everHadCandidates := len(fused) > 0

	// Reranking gate on scale-normalized scores.
	normalized := normalizedScores(fused, []float64{weights.dense, weights.sparse}, p.cfg.Fusion.KRRF)
	gate := p.optimizer.Decide(normalized)
	if p.metrics != nil {
		p.metrics.RecordGateDecision(gateMetricReason(gate))
	}

	final, finalScores, reranked := p.applyRerank(ctx, req, fused, normalized, gate, topKFinal, &flags, logger)

	// Stages degrade on their own failures, not on the caller hanging
	// up: a cancelled request gets no result at all, not a partial one.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	verdict, features := p.evaluator.Evaluate(finalScores)
	logger.Info("quality_evaluated",
		slog.String("verdict", string(verdict)),
		slog.Float64("top_score", features.TopScore),
		slog.Float64("avg_score", features.AvgScore),
		slog.Bool("reranked", reranked))

	corrective := PathAccept
	switch verdict {
	case VerdictMedium:
		final, finalScores, corrective = p.refineOnce(ctx, req, weights, topKFinal, final, finalScores, &flags, logger)
		if corrective == PathRefine {
			verdict, features = p.evaluator.Evaluate(finalScores)
			if verdict == VerdictNoResults {
				// Keep the triggering verdict when refine lost everything.
				verdict = VerdictMedium
			}
		}
	case VerdictLow:
		var fellBack bool
		final, finalScores, fellBack = p.fallbackMerge(ctx, req, results, weights, topKFinal, final, &flags, logger)
		if fellBack {
			corrective = PathFallback
			verdict, features = p.evaluator.Evaluate(finalScores)
		}
	case VerdictNoResults:
		// An empty candidate set follows the LOW path, but a missing
		// fallback collaborator is not a degradation here: there was
		// nothing to degrade from.
		if p.fallback != nil {
			var fellBack bool
			final, finalScores, fellBack = p.fallbackMerge(ctx, req, results, weights, topKFinal, final, &flags, logger)
			if fellBack {
				corrective = PathFallback
				everHadCandidates = everHadCandidates || len(final) > 0
				verdict, features = p.evaluator.Evaluate(finalScores)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordCorrective(corrective)
	}

	if len(final) == 0 {
		if !everHadCandidates {
			// No channel, including fallback, ever produced a candidate.
			result := &Result{
				RequestID:  requestID,
				Query:      req.Query,
				Scope:      req.Scope,
				Candidates: []Candidate{},
				Verdict:    VerdictNoResults,
				Corrective: corrective,
				RerankGate: gate,
				Flags:      flags,
				Elapsed:    time.Since(start),
			}
			p.observe(result, len(fused))
			return result, nil
		}
		return nil, coreerrors.New(coreerrors.ErrCodePipelineFailed,
			"candidate set empty after corrective paths", nil).
			WithDetail("request_id", requestID)
	}

	p.loadPassages(ctx, req.Scope, final)
	for i := range final {
		final[i].FinalRank = i
	}
	final = Explain(final, gate, corrective)

	result := &Result{
		RequestID:  requestID,
		Query:      req.Query,
		Scope:      req.Scope,
		Candidates: final,
		Verdict:    verdict,
		Features:   features,
		Corrective: corrective,
		RerankGate: gate,
		Flags:      flags,
		Elapsed:    time.Since(start),
	}
	p.observe(result, len(fused))

	logger.Info("retrieval_completed",
		slog.String("verdict", string(verdict)),
		slog.String("corrective_path", corrective),
		slog.Int("candidates", len(final)),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// retrieve fans out to both channels concurrently and joins before
// fusion. Single-channel failures are recovered; both failing is fatal.
func (p *Pipeline) retrieve(ctx context.Context, req Request, query string) (channelResults, error) {
	sparseK := p.cfg.Sparse.TopK
	denseK := p.cfg.Dense.TopK
	if req.TopKCandidates > 0 {
		sparseK = req.TopKCandidates
		denseK = req.TopKCandidates
	}

	var res channelResults
	stageStart := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.sparseHits, res.sparseErr = p.sparse.Search(gctx, req.Scope, query, sparseK)
		return nil
	})
	g.Go(func() error {
		dctx := gctx
		if p.cfg.Dense.Timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(gctx, p.cfg.Dense.Timeout)
			defer cancel()
		}
		res.denseHits, res.denseErr = p.dense.Search(dctx, req.Scope, query, denseK)
		return nil
	})
	_ = g.Wait()

	if p.metrics != nil {
		p.metrics.ObserveStage("retrieve", time.Since(stageStart))
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if res.sparseErr != nil && res.denseErr != nil {
		return res, coreerrors.New(coreerrors.ErrCodeRetrievalUnavailable,
			"both retrieval channels unavailable", nil).
			WithDetail("sparse_error", res.sparseErr.Error()).
			WithDetail("dense_error", res.denseErr.Error())
	}
	if res.sparseErr != nil {
		p.logger.Warn("sparse_channel_failed", slog.String("error", res.sparseErr.Error()))
	}
	if res.denseErr != nil {
		p.logger.Warn("dense_channel_failed", slog.String("error", res.denseErr.Error()))
	}
	return res, nil
}

// fuseChannels runs RRF over the available ranked lists and builds
// candidates carrying their per-channel raw scores. fallbackIDs, when
// present, join as a third list weighted like a unanimous retriever.
func (p *Pipeline) fuseChannels(sparseHits, denseHits []ScoredID, fallbackIDs []string, fallbackTexts map[string]FallbackPassage, weights fusionWeights) []Candidate {
	lists := []RankedList{
		{Name: "sparse", Weight: weights.sparse, IDs: idsOf(sparseHits)},
		{Name: "dense", Weight: weights.dense, IDs: idsOf(denseHits)},
	}
	if len(fallbackIDs) > 0 {
		lists = append(lists, RankedList{
			Name:   "fallback",
			Weight: weights.sparse + weights.dense,
			IDs:    fallbackIDs,
		})
	}

	fused := FuseRRF(lists, p.cfg.Fusion.KRRF)

	sparseByID := scoreMap(sparseHits)
	denseByID := scoreMap(denseHits)

	candidates := make([]Candidate, len(fused))
	for i, f := range fused {
		c := Candidate{ID: f.ID, FusedScore: f.Score}
		if s, ok := sparseByID[f.ID]; ok {
			c.SparseScore = &s
		}
		if d, ok := denseByID[f.ID]; ok {
			c.DenseScore = &d
		}
		if fb, ok := fallbackTexts[f.ID]; ok {
			c.Text = fb.Text
			c.Source = fb.Source
		}
		candidates[i] = c
	}
	return candidates
}

// applyRerank runs the cross-encoder stage when the gate applies and a
// scorer is wired, degrading to fused order on any failure. It returns
// the truncated final list plus the score series the evaluator should
// consume (rerank scores when applied, normalized fused otherwise).
func (p *Pipeline) applyRerank(ctx context.Context, req Request, fused []Candidate, normalized []float64, gate GateDecision, topKFinal int, flags *[]string, logger *slog.Logger) ([]Candidate, []float64, bool) {
	truncateFused := func() ([]Candidate, []float64) {
		n := min(topKFinal, len(fused))
		return append([]Candidate(nil), fused[:n]...), append([]float64(nil), normalized[:n]...)
	}

	if !gate.Apply {
		final, scores := truncateFused()
		return final, scores, false
	}
	if p.reranker == nil {
		*flags = append(*flags, FlagRerankerSkipped)
		if p.metrics != nil {
			p.metrics.RecordRerankSkip()
		}
		final, scores := truncateFused()
		return final, scores, false
	}

	stageStart := time.Now()
	topN := min(p.cfg.Rerank.TopN, len(fused))
	head := append([]Candidate(nil), fused[:topN]...)
	p.loadPassages(ctx, req.Scope, head)

	// The original query goes to the cross-encoder; expansion could
	// drift the pairwise scores off topic.
	reranked, ok := p.reranker.rerank(ctx, logger, req.Query, head)
	if p.metrics != nil {
		p.metrics.ObserveStage("rerank", time.Since(stageStart))
	}
	if !ok {
		*flags = append(*flags, FlagRerankerSkipped)
		if p.metrics != nil {
			p.metrics.RecordRerankSkip()
		}
		final, scores := truncateFused()
		return final, scores, false
	}

	n := min(topKFinal, len(reranked))
	final := reranked[:n]
	scores := make([]float64, n)
	for i := range final {
		scores[i] = *final[i].RerankScore
	}
	return final, scores, true
}

// refineOnce performs the single MEDIUM-verdict corrective step:
// ask the refiner for a reformulated query, re-run retrieval and
// fusion once with it (bypassing expansion), and accept whichever
// result is available. No recursion, no second refinement.
func (p *Pipeline) refineOnce(ctx context.Context, req Request, weights fusionWeights, topKFinal int, final []Candidate, finalScores []float64, flags *[]string, logger *slog.Logger) ([]Candidate, []float64, string) {
	if p.refiner == nil {
		return final, finalScores, PathAccept
	}

	refined, err := p.refiner.Refine(ctx, req.Query)
	if err != nil || refined == "" {
		if err != nil {
			logger.Warn("refinement_failed", slog.String("error", err.Error()))
		}
		*flags = append(*flags, FlagRefinementFailed)
		return final, finalScores, PathRefine
	}
	logger.Debug("query_refined", slog.String("refined", refined))

	retryReq := req
	retryReq.Query = refined
	results, err := p.retrieve(ctx, retryReq, refined)
	if err != nil {
		*flags = append(*flags, FlagRefinementFailed)
		return final, finalScores, PathRefine
	}

	fused := p.fuseChannels(results.sparseHits, results.denseHits, nil, nil, weights)
	if len(fused) == 0 {
		// Keep the pre-refine results rather than trade down to nothing.
		return final, finalScores, PathRefine
	}

	normalized := normalizedScores(fused, []float64{weights.dense, weights.sparse}, p.cfg.Fusion.KRRF)
	n := min(topKFinal, len(fused))
	return fused[:n], normalized[:n], PathRefine
}

// fallbackMerge performs the LOW-verdict corrective step: fetch
// passages from the fallback collaborator with the original query,
// merge them into the candidate set, and re-run fusion exactly once.
// The second return reports whether the fallback actually ran.
func (p *Pipeline) fallbackMerge(ctx context.Context, req Request, results channelResults, weights fusionWeights, topKFinal int, final []Candidate, flags *[]string, logger *slog.Logger) ([]Candidate, []float64, bool) {
	currentScores := func() []float64 {
		scores := make([]float64, len(final))
		norm := MaxAttainableRRF([]float64{weights.dense, weights.sparse}, p.cfg.Fusion.KRRF)
		for i, c := range final {
			if c.RerankScore != nil {
				scores[i] = *c.RerankScore
			} else if norm > 0 {
				scores[i] = c.FusedScore / norm
			}
		}
		return scores
	}

	if p.fallback == nil {
		*flags = append(*flags, FlagDegraded)
		return final, currentScores(), false
	}

	passages, err := p.fallback.Fetch(ctx, req.Query)
	if err != nil {
		logger.Warn("fallback_failed", slog.String("error", err.Error()))
		*flags = append(*flags, FlagDegraded)
		return final, currentScores(), false
	}

	fallbackIDs := make([]string, len(passages))
	fallbackTexts := make(map[string]FallbackPassage, len(passages))
	for i, fp := range passages {
		id := fmt.Sprintf("fallback-%03d", i+1)
		fallbackIDs[i] = id
		fallbackTexts[id] = fp
	}

	fused := p.fuseChannels(results.sparseHits, results.denseHits, fallbackIDs, fallbackTexts, weights)
	listWeights := []float64{weights.dense, weights.sparse}
	if len(fallbackIDs) > 0 {
		listWeights = append(listWeights, weights.dense+weights.sparse)
	}
	normalized := normalizedScores(fused, listWeights, p.cfg.Fusion.KRRF)

	n := min(topKFinal, len(fused))
	logger.Info("fallback_merged",
		slog.Int("fallback_passages", len(passages)),
		slog.Int("merged_candidates", len(fused)))
	return fused[:n], normalized[:n], true
}

// loadPassages fills candidate text and source from the passage store.
// Candidates that already carry text (fallback passages) are kept;
// missing passages are left empty rather than failing the request.
func (p *Pipeline) loadPassages(ctx context.Context, scope string, candidates []Candidate) {
	for i := range candidates {
		if candidates[i].Text != "" {
			continue
		}
		pass, found, err := p.passages.Get(ctx, scope, candidates[i].ID)
		if err != nil {
			p.logger.Warn("passage_lookup_failed",
				slog.String("passage_id", candidates[i].ID),
				slog.String("error", err.Error()))
			continue
		}
		if found {
			candidates[i].Text = pass.Text
			candidates[i].Source = pass.Source
		}
	}
}

func (p *Pipeline) observe(result *Result, fusedCount int) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveQuery(string(result.Verdict), fusedCount)
}

// normalizedScores maps raw fused totals onto [0,1] against the best
// score any single item could attain across the given lists.
func normalizedScores(candidates []Candidate, listWeights []float64, kRRF int) []float64 {
	max := MaxAttainableRRF(listWeights, kRRF)
	out := make([]float64, len(candidates))
	if max <= 0 {
		return out
	}
	for i, c := range candidates {
		out[i] = c.FusedScore / max
	}
	return out
}

// gateMetricReason collapses the formatted reason to its label.
func gateMetricReason(gate GateDecision) string {
	if gate.Apply {
		return "apply"
	}
	switch {
	case hasPrefix(gate.Reason, ReasonClearWinner):
		return "clear_winner"
	case hasPrefix(gate.Reason, ReasonLowVariance):
		return "low_variance"
	case hasPrefix(gate.Reason, ReasonHighConfidence):
		return "high_confidence"
	case hasPrefix(gate.Reason, ReasonTooFewCandidates):
		return "too_few_candidates"
	default:
		return "skip"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func idsOf(hits []ScoredID) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

func scoreMap(hits []ScoredID) map[string]float64 {
	m := make(map[string]float64, len(hits))
	for _, h := range hits {
		m[h.ID] = h.Score
	}
	return m
}
