// Package mcp exposes the retrieval pipeline over the Model Context
// Protocol so AI clients can query tenant knowledge bases as a tool.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/pipeline"
	"github.com/lorekeep/retrieval/internal/sparse"
	"github.com/lorekeep/retrieval/pkg/version"
)

// Runner is the pipeline surface the MCP tools call into.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Reindexer rebuilds retrieval state from a corpus directory.
type Reindexer interface {
	ReindexDir(ctx context.Context, dir string) (int, error)
}

// Server bridges MCP clients with the retrieval pipeline.
type Server struct {
	mcp       *mcp.Server
	runner    Runner
	registry  *sparse.Registry
	passages  passage.Store
	reindexer Reindexer
	corpusDir string
	logger    *slog.Logger
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithReindexer enables the reindex tool, rebuilding from dir.
func WithReindexer(r Reindexer, dir string) Option {
	return func(s *Server) {
		s.reindexer = r
		s.corpusDir = dir
	}
}

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query     string `json:"query" jsonschema:"the natural-language query to answer"`
	Scope     string `json:"scope" jsonschema:"the tenant scope to search in"`
	TopKFinal int    `json:"top_k_final,omitempty" jsonschema:"maximum number of passages to return"`
}

// RetrievedPassage is one passage in the retrieve tool's output.
type RetrievedPassage struct {
	ID         string  `json:"candidate_id" jsonschema:"stable passage identifier"`
	Text       string  `json:"text" jsonschema:"passage text"`
	Source     string  `json:"source,omitempty" jsonschema:"origin of the passage"`
	FusedScore float64 `json:"fused_score" jsonschema:"reciprocal-rank-fusion score"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Passages   []RetrievedPassage `json:"passages" jsonschema:"ranked passages, best first"`
	Verdict    string             `json:"verdict" jsonschema:"quality verdict: HIGH, MEDIUM, LOW or NO_RESULTS"`
	Corrective string             `json:"corrective_path" jsonschema:"corrective path taken: accept, refine or fallback"`
	Flags      []string           `json:"flags,omitempty" jsonschema:"degradation flags, empty on a clean run"`
}

// IndexStatusInput is the (empty) input schema for index_status.
type IndexStatusInput struct{}

// ScopeStatus is one scope's index state.
type ScopeStatus struct {
	Scope    string `json:"scope" jsonschema:"tenant scope name"`
	Passages int    `json:"passages" jsonschema:"number of indexed passages"`
}

// IndexStatusOutput is the output schema for index_status.
type IndexStatusOutput struct {
	Scopes  []ScopeStatus `json:"scopes" jsonschema:"indexed scopes with passage counts"`
	Version string        `json:"version" jsonschema:"service version"`
}

// ReindexInput is the (empty) input schema for reindex.
type ReindexInput struct{}

// ReindexOutput is the output schema for reindex.
type ReindexOutput struct {
	ScopesIndexed int `json:"scopes_indexed" jsonschema:"number of scopes rebuilt"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(runner Runner, registry *sparse.Registry, passages passage.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		runner:   runner,
		registry: registry,
		passages: passages,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "retrievald",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Search a tenant knowledge base with hybrid retrieval (keyword + semantic) and return the best passages with a quality verdict. Use the verdict to decide how much to trust the passages.",
	}, s.retrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "List the indexed tenant scopes and their passage counts. Use before retrieving to confirm the scope exists.",
	}, s.indexStatusHandler)

	count := 2
	if s.reindexer != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "reindex",
			Description: "Rebuild the retrieval index from the corpus directory. Use after corpus files changed and automatic watching is disabled.",
		}, s.reindexHandler)
		count++
	}

	s.logger.Info("mcp_tools_registered", slog.Int("count", count))
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) retrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	if input.Query == "" {
		return nil, RetrieveOutput{}, coreerrors.New(coreerrors.ErrCodeQueryEmpty, "query parameter is required", nil)
	}
	if input.Scope == "" {
		return nil, RetrieveOutput{}, coreerrors.ValidationError("scope parameter is required", nil)
	}

	result, err := s.runner.Run(ctx, pipeline.Request{
		Query:     input.Query,
		Scope:     input.Scope,
		TopKFinal: input.TopKFinal,
	})
	if err != nil {
		return nil, RetrieveOutput{}, err
	}

	output := RetrieveOutput{
		Passages:   make([]RetrievedPassage, 0, len(result.Candidates)),
		Verdict:    string(result.Verdict),
		Corrective: result.Corrective,
		Flags:      result.Flags,
	}
	for _, c := range result.Candidates {
		output.Passages = append(output.Passages, RetrievedPassage{
			ID:         c.ID,
			Text:       c.Text,
			Source:     c.Source,
			FusedScore: c.FusedScore,
		})
	}
	return nil, output, nil
}

func (s *Server) reindexHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ReindexInput) (
	*mcp.CallToolResult,
	ReindexOutput,
	error,
) {
	count, err := s.reindexer.ReindexDir(ctx, s.corpusDir)
	if err != nil {
		return nil, ReindexOutput{}, err
	}
	return nil, ReindexOutput{ScopesIndexed: count}, nil
}

func (s *Server) indexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	scopes := s.registry.Scopes()
	output := IndexStatusOutput{
		Scopes:  make([]ScopeStatus, 0, len(scopes)),
		Version: version.Version,
	}
	for _, scope := range scopes {
		count, err := s.passages.Count(ctx, scope)
		if err != nil {
			return nil, IndexStatusOutput{}, err
		}
		output.Scopes = append(output.Scopes, ScopeStatus{Scope: scope, Passages: count})
	}
	return nil, output, nil
}
