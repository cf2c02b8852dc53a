// Package httpapi exposes the retrieval pipeline over HTTP: the
// retrieve endpoint, per-scope index status, health probes, and the
// prometheus scrape endpoint.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/lorekeep/retrieval/internal/config"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/pipeline"
	"github.com/lorekeep/retrieval/internal/sparse"
	"github.com/lorekeep/retrieval/internal/telemetry"
)

// Runner is the pipeline surface the API serves.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Reindexer rebuilds retrieval state from a corpus directory.
type Reindexer interface {
	ReindexDir(ctx context.Context, dir string) (int, error)
}

// Server is the HTTP front of the retrieval service.
type Server struct {
	server    *http.Server
	router    *chi.Mux
	runner    Runner
	registry  *sparse.Registry
	passages  passage.Store
	reindexer Reindexer
	corpusDir string
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithReindexer enables the reindex endpoint, rebuilding from dir.
func WithReindexer(r Reindexer, dir string) Option {
	return func(s *Server) {
		s.reindexer = r
		s.corpusDir = dir
	}
}

// New builds the server and its routes. metrics may be nil, which
// drops the /metrics endpoint and request instrumentation.
func New(cfg config.ServerConfig, runner Runner, registry *sparse.Registry, passages passage.Store, metrics *telemetry.Metrics, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		runner:   runner,
		registry: registry,
		passages: passages,
		timeout:  cfg.RequestTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)
	if metrics != nil {
		router.Use(metrics.Middleware)
	}

	router.Get("/healthz", s.handleHealth)
	router.Get("/readyz", s.handleReady)
	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	router.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v1/retrieve", s.handleRetrieve)
		r.Get("/v1/scopes", s.handleScopes)
		if s.reindexer != nil {
			r.Post("/v1/reindex", s.handleReindex)
		}
	})

	s.router = router
	s.server = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http_server_started", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http_server_stopping")
	return s.server.Shutdown(ctx)
}

// rateLimit rejects requests beyond the configured sustained rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "request rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
