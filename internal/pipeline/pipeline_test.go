package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/retrieval/internal/config"
	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/sparse"
)

// fakeChannel serves canned ranked lists and records the queries it saw.
type fakeChannel struct {
	mu      sync.Mutex
	byQuery map[string][]ScoredID
	hits    []ScoredID
	err     error
	queries []string
}

func (f *fakeChannel) Search(ctx context.Context, _, query string, _ int) ([]ScoredID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if hits, ok := f.byQuery[query]; ok {
		return hits, nil
	}
	return f.hits, nil
}

func (f *fakeChannel) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// fakeScorer scores pairs by passage text and records the query used.
type fakeScorer struct {
	mu      sync.Mutex
	scores  map[string]float64
	err     error
	calls   int
	queries []string
}

func (f *fakeScorer) Score(_ context.Context, query, text string) (float64, error) {
	f.mu.Lock()
	f.calls++
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	return f.scores[text], nil
}

type fakeRefiner struct {
	refined string
	err     error
	calls   int
}

func (f *fakeRefiner) Refine(context.Context, string) (string, error) {
	f.calls++
	return f.refined, f.err
}

type fakeFallback struct {
	passages []FallbackPassage
	err      error
	calls    int
}

func (f *fakeFallback) Fetch(context.Context, string) ([]FallbackPassage, error) {
	f.calls++
	return f.passages, f.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Expansion.Enabled = false
	return cfg
}

func storeWithTexts(t *testing.T, scope string, texts map[string]string) passage.Store {
	t.Helper()
	store := passage.NewMemoryStore()
	passages := make([]passage.Passage, 0, len(texts))
	for id, text := range texts {
		passages = append(passages, passage.Passage{ID: id, Scope: scope, Text: text, Source: "corpus.jsonl"})
	}
	require.NoError(t, store.Put(context.Background(), passages))
	return store
}

// workedExampleChannels reproduces the canonical fusion example:
// sparse ranks [A,B,C], dense ranks [B,A,D].
func workedExampleChannels() (*fakeChannel, *fakeChannel) {
	sparseCh := &fakeChannel{hits: []ScoredID{{"A", 3.0}, {"B", 2.0}, {"C", 1.0}}}
	denseCh := &fakeChannel{hits: []ScoredID{{"B", 0.9}, {"A", 0.8}, {"D", 0.7}}}
	return sparseCh, denseCh
}

func TestRun_EmptyQueryRejected(t *testing.T) {
	p := New(testConfig(), &fakeChannel{}, &fakeChannel{}, passage.NewMemoryStore())

	_, err := p.Run(context.Background(), Request{Scope: "tenant-1"})
	require.Error(t, err)
	assert.Equal(t, coreerrors.ErrCodeQueryEmpty, coreerrors.GetCode(err))
}

func TestRun_WorkedExampleFusedOrder(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	p := New(testConfig(), sparseCh, denseCh, passage.NewMemoryStore())

	result, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 4)

	assert.Equal(t, "B", result.Candidates[0].ID)
	assert.Equal(t, "A", result.Candidates[1].ID)
	assert.Equal(t, "D", result.Candidates[2].ID)
	assert.Equal(t, "C", result.Candidates[3].ID)

	assert.InDelta(t, 0.6*(1.0/61)+0.4*(1.0/62), result.Candidates[0].FusedScore, 1e-12)
	assert.InDelta(t, 0.6*(1.0/62)+0.4*(1.0/61), result.Candidates[1].FusedScore, 1e-12)

	// Raw channel scores travel with the candidates.
	require.NotNil(t, result.Candidates[0].SparseScore)
	assert.Equal(t, 2.0, *result.Candidates[0].SparseScore)
	require.NotNil(t, result.Candidates[0].DenseScore)
	assert.Equal(t, 0.9, *result.Candidates[0].DenseScore)
	assert.Nil(t, result.Candidates[2].SparseScore) // D is dense-only

	for i, c := range result.Candidates {
		assert.Equal(t, i, c.FinalRank)
		require.NotNil(t, c.Explanation)
		assert.Equal(t, PathAccept, c.Explanation.CorrectivePath)
	}

	assert.Equal(t, VerdictHigh, result.Verdict)
	assert.Equal(t, PathAccept, result.Corrective)
	assert.Empty(t, result.Flags)
	assert.NotEmpty(t, result.RequestID)
}

func TestRun_Deterministic(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	p := New(testConfig(), sparseCh, denseCh, passage.NewMemoryStore())

	first, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1"})
		require.NoError(t, err)
		assert.Equal(t, first.Candidates, again.Candidates)
		assert.Equal(t, first.Verdict, again.Verdict)
		assert.Equal(t, first.Features, again.Features)
		assert.Equal(t, first.RerankGate, again.RerankGate)
	}
}

func TestRun_PartialRetrievalFlagged(t *testing.T) {
	sparseCh := &fakeChannel{err: errors.New("index exploded")}
	denseCh := &fakeChannel{hits: []ScoredID{{"A", 0.9}}}
	p := New(testConfig(), sparseCh, denseCh, passage.NewMemoryStore())

	result, err := p.Run(context.Background(), Request{Query: "q", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Contains(t, result.Flags, FlagPartialRetrieval)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "A", result.Candidates[0].ID)
}

func TestRun_BothChannelsFailFatal(t *testing.T) {
	sparseCh := &fakeChannel{err: errors.New("sparse down")}
	denseCh := &fakeChannel{err: errors.New("dense down")}
	p := New(testConfig(), sparseCh, denseCh, passage.NewMemoryStore())

	_, err := p.Run(context.Background(), Request{Query: "q", Scope: "tenant-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrRetrievalUnavailable)
}

func TestRun_NoCandidatesIsEmptySuccess(t *testing.T) {
	p := New(testConfig(), &fakeChannel{}, &fakeChannel{}, passage.NewMemoryStore())

	result, err := p.Run(context.Background(), Request{Query: "nothing matches", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Equal(t, VerdictNoResults, result.Verdict)
	assert.Empty(t, result.Candidates)
	assert.NotContains(t, result.Flags, FlagDegraded)
}

func TestRun_CancelledContext(t *testing.T) {
	p := New(testConfig(), &fakeChannel{}, &fakeChannel{}, passage.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, Request{Query: "q", Scope: "tenant-1"})
	assert.Error(t, err)
}

// cancelScorer hangs up on the request mid-scoring, the way a caller
// abandoning the query would.
type cancelScorer struct{ cancel context.CancelFunc }

func (s *cancelScorer) Score(ctx context.Context, _, _ string) (float64, error) {
	s.cancel()
	<-ctx.Done()
	return 0, ctx.Err()
}

type cancelRefiner struct{ cancel context.CancelFunc }

func (r *cancelRefiner) Refine(ctx context.Context, _ string) (string, error) {
	r.cancel()
	return "", ctx.Err()
}

type cancelFallback struct{ cancel context.CancelFunc }

func (f *cancelFallback) Fetch(ctx context.Context, _ string) ([]FallbackPassage, error) {
	f.cancel()
	return nil, ctx.Err()
}

func TestRun_CancelDuringRerankIsNotDegradedSuccess(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	store := storeWithTexts(t, "tenant-1", map[string]string{
		"A": "text-A", "B": "text-B", "C": "text-C", "D": "text-D",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(rerankConfig(), sparseCh, denseCh, store, WithReranker(&cancelScorer{cancel: cancel}))

	result, err := p.Run(ctx, Request{Query: "anything", Scope: "tenant-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestRun_CancelDuringRefineIsNotDegradedSuccess(t *testing.T) {
	denseCh := &fakeChannel{hits: []ScoredID{{"A", 0.8}, {"B", 0.78}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(testConfig(), &fakeChannel{}, denseCh, passage.NewMemoryStore(),
		WithRefiner(&cancelRefiner{cancel: cancel}))

	result, err := p.Run(ctx, Request{Query: "vague question", Scope: "tenant-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestRun_CancelDuringFallbackIsNotDegradedSuccess(t *testing.T) {
	sparseCh := &fakeChannel{hits: []ScoredID{{"A", 1.2}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(testConfig(), sparseCh, &fakeChannel{}, passage.NewMemoryStore(),
		WithFallback(&cancelFallback{cancel: cancel}))

	result, err := p.Run(ctx, Request{Query: "obscure question", Scope: "tenant-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

// rerankConfig opens the confidence gate so the cross-encoder stage runs.
func rerankConfig() *config.Config {
	cfg := testConfig()
	cfg.Optimizer.HighConfidence = 0.999
	return cfg
}

func TestRun_RerankReordersAndTruncates(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	store := storeWithTexts(t, "tenant-1", map[string]string{
		"A": "text-A", "B": "text-B", "C": "text-C", "D": "text-D",
	})
	scorer := &fakeScorer{scores: map[string]float64{
		"text-A": 0.95, "text-B": 0.40, "text-C": 0.80, "text-D": 0.30,
	}}

	p := New(rerankConfig(), sparseCh, denseCh, store, WithReranker(scorer))

	result, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1", TopKFinal: 2})
	require.NoError(t, err)

	assert.True(t, result.RerankGate.Apply)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "A", result.Candidates[0].ID)
	assert.Equal(t, "C", result.Candidates[1].ID)

	require.NotNil(t, result.Candidates[0].RerankScore)
	assert.Equal(t, 0.95, *result.Candidates[0].RerankScore)

	// Rerank scores drive the verdict.
	assert.Equal(t, VerdictHigh, result.Verdict)
	assert.InDelta(t, 0.95, result.Features.TopScore, 1e-12)
	assert.Empty(t, result.Flags)
}

func TestRun_RerankerUsesOriginalQuery(t *testing.T) {
	cfg := rerankConfig()
	cfg.Expansion.Enabled = true

	sparseCh, denseCh := workedExampleChannels()
	store := storeWithTexts(t, "tenant-1", map[string]string{
		"A": "text-A", "B": "text-B", "C": "text-C", "D": "text-D",
	})
	scorer := &fakeScorer{scores: map[string]float64{"text-A": 0.9}}

	p := New(cfg, sparseCh, denseCh, store, WithReranker(scorer))

	_, err := p.Run(context.Background(), Request{Query: "cat", Scope: "tenant-1"})
	require.NoError(t, err)

	// Retrieval saw the expanded query, the cross-encoder the original.
	retrieved := sparseCh.seenQueries()
	require.NotEmpty(t, retrieved)
	assert.Contains(t, retrieved[0], "feline")
	require.NotEmpty(t, scorer.queries)
	for _, q := range scorer.queries {
		assert.Equal(t, "cat", q)
	}
}

func TestRun_RerankerFailureDegradesToFusedOrder(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	store := storeWithTexts(t, "tenant-1", map[string]string{
		"A": "text-A", "B": "text-B", "C": "text-C", "D": "text-D",
	})
	scorer := &fakeScorer{err: errors.New("model server down")}

	p := New(rerankConfig(), sparseCh, denseCh, store, WithReranker(scorer))

	result, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Contains(t, result.Flags, FlagRerankerSkipped)
	require.Len(t, result.Candidates, 4)
	assert.Equal(t, "B", result.Candidates[0].ID)
	for _, c := range result.Candidates {
		assert.Nil(t, c.RerankScore)
	}
}

func TestRun_RerankerDegradationLogsRequestContext(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	store := storeWithTexts(t, "tenant-1", map[string]string{
		"A": "text-A", "B": "text-B", "C": "text-C", "D": "text-D",
	})
	scorer := &fakeScorer{err: errors.New("model server down")}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := New(rerankConfig(), sparseCh, denseCh, store, WithReranker(scorer), WithLogger(logger))

	result, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1"})
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "reranker_degraded")
	assert.Contains(t, logs, "request_id="+result.RequestID)
}

func TestRun_GateSkipKeepsRerankerIdle(t *testing.T) {
	sparseCh, denseCh := workedExampleChannels()
	scorer := &fakeScorer{scores: map[string]float64{}}

	// Default thresholds: the confident fused top score skips the gate.
	p := New(testConfig(), sparseCh, denseCh, passage.NewMemoryStore(), WithReranker(scorer))

	result, err := p.Run(context.Background(), Request{Query: "anything", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.False(t, result.RerankGate.Apply)
	assert.Zero(t, scorer.calls)
	assert.NotContains(t, result.Flags, FlagRerankerSkipped)
}

func TestRun_MediumVerdictRefinesOnce(t *testing.T) {
	denseCh := &fakeChannel{
		hits: []ScoredID{{"A", 0.8}, {"B", 0.78}},
		byQuery: map[string][]ScoredID{
			"refined query text": {{"C", 0.95}, {"A", 0.8}},
		},
	}
	refiner := &fakeRefiner{refined: "refined query text"}

	p := New(testConfig(), &fakeChannel{}, denseCh, passage.NewMemoryStore(), WithRefiner(refiner))

	result, err := p.Run(context.Background(), Request{Query: "vague question", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, refiner.calls)
	assert.Equal(t, PathRefine, result.Corrective)
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "C", result.Candidates[0].ID)

	// The retry ran with the refined text verbatim, bypassing expansion.
	assert.Contains(t, denseCh.seenQueries(), "refined query text")
}

func TestRun_RefinerFailureKeepsPreRefineResults(t *testing.T) {
	denseCh := &fakeChannel{hits: []ScoredID{{"A", 0.8}, {"B", 0.78}}}
	refiner := &fakeRefiner{err: errors.New("refiner down")}

	p := New(testConfig(), &fakeChannel{}, denseCh, passage.NewMemoryStore(), WithRefiner(refiner))

	result, err := p.Run(context.Background(), Request{Query: "vague question", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Contains(t, result.Flags, FlagRefinementFailed)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "A", result.Candidates[0].ID)
}

func TestRun_LowVerdictInvokesFallbackExactlyOnce(t *testing.T) {
	// A lone sparse hit normalizes to 0.4: LOW.
	sparseCh := &fakeChannel{hits: []ScoredID{{"A", 1.2}}}
	store := storeWithTexts(t, "tenant-1", map[string]string{"A": "text-A"})
	fallback := &fakeFallback{passages: []FallbackPassage{
		{Text: "external passage one", Source: "web"},
		{Text: "external passage two", Source: "web"},
	}}

	p := New(testConfig(), sparseCh, &fakeChannel{}, store, WithFallback(fallback))

	result, err := p.Run(context.Background(), Request{Query: "obscure question", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, PathFallback, result.Corrective)

	ids := make([]string, len(result.Candidates))
	texts := make([]string, len(result.Candidates))
	for i, c := range result.Candidates {
		ids[i] = c.ID
		texts[i] = c.Text
	}
	assert.Contains(t, ids, "fallback-001")
	assert.Contains(t, ids, "fallback-002")
	assert.Contains(t, ids, "A")
	assert.Contains(t, texts, "external passage one")

	// Fallback passages outrank the weak local hit after re-fusion.
	assert.Equal(t, "fallback-001", result.Candidates[0].ID)
}

func TestRun_FallbackUnavailableReturnsBestEffort(t *testing.T) {
	sparseCh := &fakeChannel{hits: []ScoredID{{"A", 1.2}}}
	fallback := &fakeFallback{err: errors.New("fallback service down")}

	p := New(testConfig(), sparseCh, &fakeChannel{}, passage.NewMemoryStore(), WithFallback(fallback))

	result, err := p.Run(context.Background(), Request{Query: "obscure question", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, fallback.calls)
	assert.Contains(t, result.Flags, FlagDegraded)
	assert.Equal(t, VerdictLow, result.Verdict)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "A", result.Candidates[0].ID)
}

func TestRun_EmptyChannelsStillTryFallback(t *testing.T) {
	fallback := &fakeFallback{passages: []FallbackPassage{{Text: "rescued", Source: "web"}}}
	p := New(testConfig(), &fakeChannel{}, &fakeChannel{}, passage.NewMemoryStore(), WithFallback(fallback))

	result, err := p.Run(context.Background(), Request{Query: "nothing local", Scope: "tenant-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, PathFallback, result.Corrective)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "rescued", result.Candidates[0].Text)
}

// Scenario: "feline pets" shares no tokens with the cats document, but
// the dense channel must surface it top-ranked through fusion.
func TestRun_SemanticOnlyMatchSurfacesViaDense(t *testing.T) {
	reg := sparse.NewRegistry()
	reg.Swap("tenant-1", sparse.Build([]sparse.Document{
		{ID: "cats", Text: "Cats are independent domestic animals."},
		{ID: "dogs", Text: "Dogs are loyal pets for families."},
		{ID: "cars", Text: "Cars need regular oil changes."},
	}, sparse.DefaultParams(), sparse.NewStandardTokenizer()))

	denseCh := &fakeChannel{hits: []ScoredID{{"cats", 0.92}, {"cars", 0.41}}}

	p := New(testConfig(), NewRegistrySearcher(reg), denseCh, passage.NewMemoryStore())

	result, err := p.Run(context.Background(), Request{Query: "feline pets", Scope: "tenant-1"})
	require.NoError(t, err)

	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "cats", result.Candidates[0].ID)
	assert.Nil(t, result.Candidates[0].SparseScore)
	require.NotNil(t, result.Candidates[0].DenseScore)
}

// Scenario: an exact keyword match the dense channel underrates is
// surfaced by sparse and promoted by fusion above pure-dense favorites.
func TestRun_KeywordMatchPromotedOverDenseFavorites(t *testing.T) {
	reg := sparse.NewRegistry()
	reg.Swap("tenant-1", sparse.Build([]sparse.Document{
		{ID: "goldfish", Text: "Goldfish bowls must be cleaned weekly."},
		{ID: "cats", Text: "Cats are independent domestic animals."},
		{ID: "dogs", Text: "Dogs are loyal companions."},
	}, sparse.DefaultParams(), sparse.NewStandardTokenizer()))

	// Dense ranks the keyword match last among its favorites.
	denseCh := &fakeChannel{hits: []ScoredID{{"cats", 0.9}, {"dogs", 0.85}, {"goldfish", 0.2}}}

	p := New(testConfig(), NewRegistrySearcher(reg), denseCh, passage.NewMemoryStore())

	result, err := p.Run(context.Background(), Request{Query: "goldfish", Scope: "tenant-1"})
	require.NoError(t, err)

	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "goldfish", result.Candidates[0].ID)
}
