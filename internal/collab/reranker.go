package collab

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/pipeline"
)

// pairRequest is the payload for one cross-encoder scoring call.
type pairRequest struct {
	Query   string `json:"query"`
	Passage string `json:"passage"`
	Model   string `json:"model,omitempty"`
}

// pairResponse is the cross-encoder's answer for one pair.
type pairResponse struct {
	Score float64 `json:"score"`
	Model string  `json:"model,omitempty"`
}

// CrossEncoderClient scores (query, passage) pairs against a remote
// cross-encoder service. Scores are relevance probabilities in [0,1].
type CrossEncoderClient struct {
	httpClient
	model string
}

var _ pipeline.PairScorer = (*CrossEncoderClient)(nil)

// NewCrossEncoderClient builds a client for the given base URL, e.g.
// http://reranker:8001. model names the cross-encoder to use; empty
// lets the service pick its default.
func NewCrossEncoderClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *CrossEncoderClient {
	return &CrossEncoderClient{
		httpClient: newHTTPClient(baseURL, timeout, logger),
		model:      model,
	}
}

// Score implements pipeline.PairScorer.
func (c *CrossEncoderClient) Score(ctx context.Context, query, text string) (float64, error) {
	start := time.Now()

	resp, err := coreerrors.RetryWithResult(ctx, c.retry, func() (pairResponse, error) {
		var out pairResponse
		err := c.postJSON(ctx, "/v1/rerank", pairRequest{Query: query, Passage: text, Model: c.model}, &out)
		return out, err
	})
	if err != nil {
		c.logger.Warn("pair_scoring_failed",
			slog.String("query", truncate(query, 100)),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return 0, err
	}

	if resp.Score < 0 || resp.Score > 1 {
		return 0, coreerrors.CollaboratorError("cross-encoder score out of range", nil).
			WithDetail("score", strconv.FormatFloat(resp.Score, 'f', -1, 64))
	}
	return resp.Score, nil
}

// ModelName reports the configured cross-encoder model.
func (c *CrossEncoderClient) ModelName() string {
	return c.model
}
