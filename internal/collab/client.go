// Package collab implements HTTP clients for the pipeline's external
// collaborators: the cross-encoder reranker, the query refiner, and
// the fallback retriever. Each client maps onto one of the pipeline's
// collaborator contracts and reports failures as retryable
// collaborator errors so callers can degrade instead of aborting.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
)

// maxErrorBodyBytes bounds how much of an error response is kept for
// the error message and logs.
const maxErrorBodyBytes = 512

// httpClient is the shared plumbing for all collaborator clients.
type httpClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	retry   coreerrors.RetryConfig
}

func newHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) httpClient {
	if logger == nil {
		logger = slog.Default()
	}
	return httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		retry:   coreerrors.DefaultRetryConfig(),
	}
}

// postJSON sends one JSON request and decodes the JSON response into
// out. Transport failures and 5xx responses come back as retryable
// collaborator errors; other statuses are terminal.
func (c httpClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return coreerrors.InternalError("marshal collaborator request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return coreerrors.InternalError("build collaborator request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return coreerrors.CollaboratorError(fmt.Sprintf("call %s", path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return coreerrors.CollaboratorError(msg, nil)
		}
		return coreerrors.New(coreerrors.ErrCodeInvalidInput, msg, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return coreerrors.CollaboratorError(fmt.Sprintf("decode %s response", path), err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
