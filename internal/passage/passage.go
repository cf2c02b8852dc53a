// Package passage stores the text and metadata behind candidate IDs.
// Retrieval channels work on IDs; the final response and the reranker
// need the underlying text, which lives here.
package passage

import (
	"context"
)

// Passage is one stored knowledge-base entry.
type Passage struct {
	ID     string
	Scope  string
	Text   string
	Source string
}

// Store looks up passages by scope and ID.
type Store interface {
	// Get returns a passage. The second return is false when the
	// passage does not exist in the scope.
	Get(ctx context.Context, scope, id string) (Passage, bool, error)

	// Put upserts passages for a scope.
	Put(ctx context.Context, passages []Passage) error

	// Replace swaps a scope's passages wholesale: anything not in the
	// new set is removed. An empty set clears the scope.
	Replace(ctx context.Context, scope string, passages []Passage) error

	// Count returns the number of passages stored for a scope.
	Count(ctx context.Context, scope string) (int, error)
}
