package collab

import (
	"context"
	"log/slog"
	"time"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/pipeline"
)

type refineRequest struct {
	Query string `json:"query"`
}

type refineResponse struct {
	RefinedQuery string `json:"refined_query"`
}

// RefinerClient asks a remote service to reformulate a query whose
// first retrieval round was mediocre.
type RefinerClient struct {
	httpClient
}

var _ pipeline.Refiner = (*RefinerClient)(nil)

// NewRefinerClient builds a client for the refine endpoint.
func NewRefinerClient(baseURL string, timeout time.Duration, logger *slog.Logger) *RefinerClient {
	return &RefinerClient{httpClient: newHTTPClient(baseURL, timeout, logger)}
}

// Refine implements pipeline.Refiner.
func (c *RefinerClient) Refine(ctx context.Context, query string) (string, error) {
	start := time.Now()

	resp, err := coreerrors.RetryWithResult(ctx, c.retry, func() (refineResponse, error) {
		var out refineResponse
		err := c.postJSON(ctx, "/v1/refine", refineRequest{Query: query}, &out)
		return out, err
	})
	if err != nil {
		return "", err
	}
	if resp.RefinedQuery == "" {
		return "", coreerrors.CollaboratorError("refiner returned an empty query", nil)
	}

	c.logger.Debug("query_refinement_completed",
		slog.String("original", truncate(query, 100)),
		slog.String("refined", truncate(resp.RefinedQuery, 100)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return resp.RefinedQuery, nil
}
