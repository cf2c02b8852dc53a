// Package pipeline implements the hybrid retrieval-and-reranking core:
// query expansion, parallel sparse+dense retrieval, reciprocal rank
// fusion, the reranking gate, cross-encoder reranking, quality
// evaluation with a single bounded corrective step, and per-candidate
// explanations.
package pipeline

import (
	"context"
	"time"
)

// Verdict classifies the quality of a final candidate list.
type Verdict string

const (
	VerdictHigh      Verdict = "HIGH"
	VerdictMedium    Verdict = "MEDIUM"
	VerdictLow       Verdict = "LOW"
	VerdictNoResults Verdict = "NO_RESULTS"
)

// Corrective paths taken after quality evaluation.
const (
	PathAccept   = "accept"
	PathRefine   = "refine"
	PathFallback = "fallback"
)

// Explanation flags surfaced on recovered failures.
const (
	FlagPartialRetrieval = "partial_retrieval"
	FlagRerankerSkipped  = "reranker_skipped: unavailable"
	FlagRefinementFailed = "refinement_failed"
	FlagDegraded         = "degraded"
)

// ScoredID is one entry of a retriever's ranked list.
type ScoredID struct {
	ID    string
	Score float64
}

// Request is the pipeline's sole external input.
type Request struct {
	// Query is the natural-language query text.
	Query string
	// Scope selects the tenant/project corpus partition.
	Scope string
	// TopKCandidates overrides the per-channel candidate pool size.
	// Zero uses the configured defaults.
	TopKCandidates int
	// TopKFinal overrides the final result set size. Zero uses the
	// configured default.
	TopKFinal int
	// DenseWeight and SparseWeight override the fusion weights when
	// both are set; they must sum to 1.0.
	DenseWeight  float64
	SparseWeight float64
}

// Candidate is one passage under consideration, created fresh per
// request and discarded with the response.
type Candidate struct {
	ID          string       `json:"candidate_id"`
	Text        string       `json:"text,omitempty"`
	Source      string       `json:"source,omitempty"`
	SparseScore *float64     `json:"sparse_score,omitempty"`
	DenseScore  *float64     `json:"dense_score,omitempty"`
	FusedScore  float64      `json:"fused_score"`
	RerankScore *float64     `json:"rerank_score,omitempty"`
	FinalRank   int          `json:"final_rank"`
	Explanation *Explanation `json:"explanation,omitempty"`
}

// Explanation is the per-candidate score breakdown.
type Explanation struct {
	SparseScore    *float64 `json:"sparse_score,omitempty"`
	DenseScore     *float64 `json:"dense_score,omitempty"`
	FusedScore     float64  `json:"fused_score"`
	RerankScore    *float64 `json:"rerank_score,omitempty"`
	RerankDecision string   `json:"rerank_decision"`
	CorrectivePath string   `json:"corrective_path"`
}

// QualityFeatures are the evaluator's derived score statistics.
type QualityFeatures struct {
	TopScore float64 `json:"top_score"`
	AvgScore float64 `json:"avg_score"`
	ScoreStd float64 `json:"score_std"`
}

// GateDecision is the reranking optimizer's output.
type GateDecision struct {
	Apply  bool   `json:"apply"`
	Reason string `json:"reason"`
}

// Result is the pipeline's response for one query.
type Result struct {
	RequestID  string          `json:"request_id"`
	Query      string          `json:"query"`
	Scope      string          `json:"scope"`
	Candidates []Candidate     `json:"candidates"`
	Verdict    Verdict         `json:"verdict"`
	Features   QualityFeatures `json:"features"`
	Corrective string          `json:"corrective_path"`
	RerankGate GateDecision    `json:"rerank_gate"`
	Flags      []string        `json:"flags,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// SparseSearcher is the lexical retrieval channel contract.
type SparseSearcher interface {
	Search(ctx context.Context, scope, query string, topK int) ([]ScoredID, error)
}

// DenseSearcher is the semantic retrieval channel contract.
type DenseSearcher interface {
	Search(ctx context.Context, scope, query string, topK int) ([]ScoredID, error)
}

// PairScorer is the cross-encoder contract: jointly score one
// (query, passage) pair. Scores are in [0,1], higher is better.
type PairScorer interface {
	Score(ctx context.Context, query, text string) (float64, error)
}

// Refiner reformulates a query whose results were mediocre.
type Refiner interface {
	Refine(ctx context.Context, query string) (string, error)
}

// FallbackPassage is one passage returned by the fallback collaborator.
type FallbackPassage struct {
	Text   string
	Source string
}

// FallbackRetriever fetches passages from an external source of last
// resort when local retrieval quality is LOW.
type FallbackRetriever interface {
	Fetch(ctx context.Context, query string) ([]FallbackPassage, error)
}
