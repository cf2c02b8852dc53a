// Package sparse implements the in-memory BM25 keyword index.
//
// An index is an immutable Snapshot built from a full corpus pass.
// Rebuilds construct a fresh snapshot off to the side and swap it in
// atomically through the Registry, so searches never observe a
// half-built index.
package sparse

import (
	"log/slog"
	"math"
	"sort"
	"time"
)

// Document is one indexable passage.
type Document struct {
	ID     string
	Text   string
	Source string
}

// Hit is a scored match from a sparse search.
type Hit struct {
	ID    string
	Score float64
}

// Params are the BM25 tuning parameters.
type Params struct {
	// K1 controls term-frequency saturation.
	K1 float64
	// B controls document-length normalization.
	B float64
}

// DefaultParams returns the standard BM25 parameters.
func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75}
}

type posting struct {
	doc int // index into docIDs
	tf  int
}

// Snapshot is an immutable BM25 index over one corpus version.
// All fields are written once during Build and never mutated, so a
// snapshot is safe for concurrent searches without locking.
type Snapshot struct {
	params    Params
	tokenizer Tokenizer

	docIDs    []string
	docLens   []int
	avgDocLen float64
	postings  map[string][]posting

	builtAt time.Time
}

// Build constructs a snapshot from the given documents.
// Document order is preserved internally so that equal-score results
// tie-break deterministically by ID. An empty corpus yields a valid
// snapshot whose searches return no hits.
func Build(docs []Document, params Params, tokenizer Tokenizer) *Snapshot {
	s := &Snapshot{
		params:    params,
		tokenizer: tokenizer,
		docIDs:    make([]string, 0, len(docs)),
		docLens:   make([]int, 0, len(docs)),
		postings:  make(map[string][]posting),
		builtAt:   time.Now(),
	}

	totalLen := 0
	for _, doc := range docs {
		tokens := tokenizer.Tokenize(doc.Text)
		idx := len(s.docIDs)
		s.docIDs = append(s.docIDs, doc.ID)
		s.docLens = append(s.docLens, len(tokens))
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term, count := range tf {
			s.postings[term] = append(s.postings[term], posting{doc: idx, tf: count})
		}
	}

	if len(docs) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(docs))
	}

	slog.Debug("sparse_snapshot_built",
		slog.Int("documents", len(s.docIDs)),
		slog.Int("terms", len(s.postings)))

	return s
}

// DocCount returns the number of indexed documents.
func (s *Snapshot) DocCount() int {
	return len(s.docIDs)
}

// TermCount returns the number of distinct index terms.
func (s *Snapshot) TermCount() int {
	return len(s.postings)
}

// BuiltAt returns the snapshot construction time.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Search scores the query against the snapshot and returns up to topK
// hits ordered by descending score, ties broken by ascending ID.
// Queries with no matching terms (and empty snapshots) return an empty
// slice, never an error.
func (s *Snapshot) Search(query string, topK int) []Hit {
	if topK <= 0 || len(s.docIDs) == 0 {
		return []Hit{}
	}

	terms := s.tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return []Hit{}
	}

	n := float64(len(s.docIDs))
	scores := make(map[int]float64)

	for _, term := range terms {
		plist, ok := s.postings[term]
		if !ok {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for _, p := range plist {
			tf := float64(p.tf)
			norm := 1 - s.params.B + s.params.B*float64(s.docLens[p.doc])/s.avgDocLen
			scores[p.doc] += idf * tf * (s.params.K1 + 1) / (tf + s.params.K1*norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, score := range scores {
		hits = append(hits, Hit{ID: s.docIDs[doc], Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
