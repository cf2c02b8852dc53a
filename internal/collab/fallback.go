package collab

import (
	"context"
	"log/slog"
	"time"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/pipeline"
)

type fallbackRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type fallbackResponse struct {
	Passages []fallbackPassage `json:"passages"`
}

type fallbackPassage struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// FallbackClient fetches passages from an external source of last
// resort when local retrieval quality is LOW.
type FallbackClient struct {
	httpClient
	limit int
}

var _ pipeline.FallbackRetriever = (*FallbackClient)(nil)

// NewFallbackClient builds a client for the fallback endpoint. limit
// caps how many passages are requested per call; zero leaves it to the
// service.
func NewFallbackClient(baseURL string, limit int, timeout time.Duration, logger *slog.Logger) *FallbackClient {
	return &FallbackClient{
		httpClient: newHTTPClient(baseURL, timeout, logger),
		limit:      limit,
	}
}

// Fetch implements pipeline.FallbackRetriever.
func (c *FallbackClient) Fetch(ctx context.Context, query string) ([]pipeline.FallbackPassage, error) {
	start := time.Now()

	resp, err := coreerrors.RetryWithResult(ctx, c.retry, func() (fallbackResponse, error) {
		var out fallbackResponse
		err := c.postJSON(ctx, "/v1/fallback", fallbackRequest{Query: query, Limit: c.limit}, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}

	passages := make([]pipeline.FallbackPassage, 0, len(resp.Passages))
	for _, p := range resp.Passages {
		if p.Text == "" {
			continue
		}
		passages = append(passages, pipeline.FallbackPassage{Text: p.Text, Source: p.Source})
	}

	c.logger.Info("fallback_fetch_completed",
		slog.Int("passages", len(passages)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return passages, nil
}
