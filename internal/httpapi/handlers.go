package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/pipeline"
	"github.com/lorekeep/retrieval/pkg/version"
)

// retrieveRequest is the retrieve endpoint's JSON body.
type retrieveRequest struct {
	Query          string  `json:"query"`
	Scope          string  `json:"scope"`
	TopKCandidates int     `json:"top_k_candidates,omitempty"`
	TopKFinal      int     `json:"top_k_final,omitempty"`
	DenseWeight    float64 `json:"dense_weight,omitempty"`
	SparseWeight   float64 `json:"sparse_weight,omitempty"`
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// scopeStatus is one entry of the scopes listing.
type scopeStatus struct {
	Scope    string `json:"scope"`
	Passages int    `json:"passages"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, coreerrors.ErrCodeInvalidInput, "invalid JSON body", nil)
		return
	}
	if req.Scope == "" {
		writeError(w, http.StatusBadRequest, coreerrors.ErrCodeInvalidInput, "scope is required", nil)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.runner.Run(ctx, pipeline.Request{
		Query:          req.Query,
		Scope:          req.Scope,
		TopKCandidates: req.TopKCandidates,
		TopKFinal:      req.TopKFinal,
		DenseWeight:    req.DenseWeight,
		SparseWeight:   req.SparseWeight,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	scopes := s.registry.Scopes()
	statuses := make([]scopeStatus, 0, len(scopes))
	for _, scope := range scopes {
		count, err := s.passages.Count(r.Context(), scope)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		statuses = append(statuses, scopeStatus{Scope: scope, Passages: count})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scopes": statuses})
}

// handleReindex rebuilds every scope from the corpus directory. The
// request timeout is deliberately not applied; a rebuild outlives it.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	count, err := s.reindexer.ReindexDir(r.Context(), s.corpusDir)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"scopes_indexed": count})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}

// handleReady reports ready once at least one scope is indexed, so a
// load balancer does not route queries at an instance still loading
// its corpus.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if len(s.registry.Scopes()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no scopes indexed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeCoreError maps structured pipeline errors onto HTTP statuses.
func writeCoreError(w http.ResponseWriter, err error) {
	code := coreerrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case coreerrors.ErrCodeQueryEmpty, coreerrors.ErrCodeInvalidInput, coreerrors.ErrCodeUnknownScope:
		status = http.StatusBadRequest
	case coreerrors.ErrCodeRetrievalUnavailable, coreerrors.ErrCodeCollaboratorUnavailable, coreerrors.ErrCodeCollaboratorTimeout:
		status = http.StatusServiceUnavailable
	case coreerrors.ErrCodeReindexLocked:
		status = http.StatusConflict
	}

	var ce *coreerrors.CoreError
	if errors.As(err, &ce) {
		writeError(w, status, ce.Code, ce.Message, ce.Details)
		return
	}
	writeError(w, status, coreerrors.ErrCodeInternal, err.Error(), nil)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
