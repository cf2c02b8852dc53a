// Package config loads and validates the retrieval service configuration.
//
// Precedence, lowest to highest:
//  1. Embedded defaults (default.yaml)
//  2. Config file (retrieval.yaml, or the path given explicitly)
//  3. Environment variables (RETRIEVAL_*)
//
// Every tuning parameter of the pipeline is a config field. Nothing in the
// pipeline hardcodes a threshold or weight.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
)

//go:embed default.yaml
var defaultYAML []byte

// Config is the complete retrieval service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Sparse     SparseConfig     `yaml:"sparse"`
	Dense      DenseConfig      `yaml:"dense"`
	Expansion  ExpansionConfig  `yaml:"expansion"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Quality    QualityConfig    `yaml:"quality"`
	Corrective CorrectiveConfig `yaml:"corrective"`
	Passage    PassageConfig    `yaml:"passage"`
}

// ServerConfig configures the HTTP and MCP surfaces.
type ServerConfig struct {
	// HTTPAddr is the listen address for the HTTP API.
	HTTPAddr string `yaml:"http_addr" env:"RETRIEVAL_HTTP_ADDR"`
	// MCPTransport selects the MCP transport ("stdio" or "none").
	MCPTransport string `yaml:"mcp_transport" env:"RETRIEVAL_MCP_TRANSPORT"`
	// RequestTimeout bounds a full retrieval request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"RETRIEVAL_REQUEST_TIMEOUT"`
	// RateLimit is the sustained requests/second allowed per instance.
	RateLimit float64 `yaml:"rate_limit" env:"RETRIEVAL_RATE_LIMIT"`
	// RateBurst is the burst size for the rate limiter.
	RateBurst int `yaml:"rate_burst" env:"RETRIEVAL_RATE_BURST"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `yaml:"level" env:"RETRIEVAL_LOG_LEVEL"`
	FilePath      string `yaml:"file_path" env:"RETRIEVAL_LOG_FILE"`
	MaxSizeMB     int    `yaml:"max_size_mb" env:"RETRIEVAL_LOG_MAX_SIZE_MB"`
	MaxFiles      int    `yaml:"max_files" env:"RETRIEVAL_LOG_MAX_FILES"`
	WriteToStderr bool   `yaml:"write_to_stderr" env:"RETRIEVAL_LOG_STDERR"`
}

// CorpusConfig configures corpus loading and reindexing.
type CorpusConfig struct {
	// Dir holds one JSONL file per tenant scope (<scope>.jsonl).
	Dir string `yaml:"dir" env:"RETRIEVAL_CORPUS_DIR"`
	// Watch enables automatic reindex when corpus files change.
	Watch bool `yaml:"watch" env:"RETRIEVAL_CORPUS_WATCH"`
	// WatchDebounce coalesces bursts of file events into one rebuild.
	WatchDebounce time.Duration `yaml:"watch_debounce" env:"RETRIEVAL_CORPUS_DEBOUNCE"`
	// LockPath is the cross-process reindex lock file.
	LockPath string `yaml:"lock_path" env:"RETRIEVAL_CORPUS_LOCK"`
}

// SparseConfig configures the BM25 index.
type SparseConfig struct {
	// K1 controls term-frequency saturation.
	K1 float64 `yaml:"k1" env:"RETRIEVAL_BM25_K1"`
	// B controls document-length normalization.
	B float64 `yaml:"b" env:"RETRIEVAL_BM25_B"`
	// TopK is how many candidates the sparse channel returns per query.
	TopK int `yaml:"top_k" env:"RETRIEVAL_SPARSE_TOP_K"`
}

// DenseConfig configures the dense retrieval channel.
type DenseConfig struct {
	// Mode selects the backend: "local" (embedded HNSW) or "qdrant".
	Mode string `yaml:"mode" env:"RETRIEVAL_DENSE_MODE"`
	// QdrantAddr is the qdrant gRPC address (host:port) for remote mode.
	QdrantAddr string `yaml:"qdrant_addr" env:"RETRIEVAL_QDRANT_ADDR"`
	// CollectionPrefix prefixes per-tenant qdrant collection names.
	CollectionPrefix string `yaml:"collection_prefix" env:"RETRIEVAL_QDRANT_PREFIX"`
	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions" env:"RETRIEVAL_DENSE_DIMENSIONS"`
	// TopK is how many candidates the dense channel returns per query.
	TopK int `yaml:"top_k" env:"RETRIEVAL_DENSE_TOP_K"`
	// Timeout bounds a single dense search call.
	Timeout time.Duration `yaml:"timeout" env:"RETRIEVAL_DENSE_TIMEOUT"`
	// EmbedCacheSize is the LRU size for cached query embeddings.
	EmbedCacheSize int `yaml:"embed_cache_size" env:"RETRIEVAL_EMBED_CACHE_SIZE"`
}

// ExpansionConfig configures query expansion.
type ExpansionConfig struct {
	// Enabled toggles expansion; disabled queries retrieve verbatim.
	Enabled bool `yaml:"enabled" env:"RETRIEVAL_EXPANSION_ENABLED"`
	// MaxSynonyms caps synonym substitutions per query term.
	MaxSynonyms int `yaml:"max_synonyms" env:"RETRIEVAL_EXPANSION_MAX_SYNONYMS"`
	// SynonymsPath optionally points at a custom synonyms YAML file.
	SynonymsPath string `yaml:"synonyms_path" env:"RETRIEVAL_SYNONYMS_PATH"`
}

// FusionConfig configures reciprocal rank fusion.
type FusionConfig struct {
	// DenseWeight is the RRF weight for the dense ranking.
	DenseWeight float64 `yaml:"dense_weight" env:"RETRIEVAL_DENSE_WEIGHT"`
	// SparseWeight is the RRF weight for the sparse ranking.
	SparseWeight float64 `yaml:"sparse_weight" env:"RETRIEVAL_SPARSE_WEIGHT"`
	// KRRF is the RRF smoothing constant.
	KRRF int `yaml:"k_rrf" env:"RETRIEVAL_K_RRF"`
}

// OptimizerConfig configures the reranking cost/benefit gate.
type OptimizerConfig struct {
	// ClearWinnerGap skips reranking when the top two normalized scores
	// differ by more than this.
	ClearWinnerGap float64 `yaml:"clear_winner_gap" env:"RETRIEVAL_CLEAR_WINNER_GAP"`
	// HighConfidence skips reranking when the top normalized score
	// exceeds this.
	HighConfidence float64 `yaml:"high_confidence" env:"RETRIEVAL_HIGH_CONFIDENCE"`
	// LowVariance skips reranking when the standard deviation of the
	// normalized scores is below this.
	LowVariance float64 `yaml:"low_variance" env:"RETRIEVAL_LOW_VARIANCE"`
	// MinCandidates is the smallest candidate set worth reranking.
	MinCandidates int `yaml:"min_candidates" env:"RETRIEVAL_MIN_CANDIDATES"`
}

// RerankConfig configures the cross-encoder reranking stage.
type RerankConfig struct {
	// Endpoint is the cross-encoder service base URL. Empty disables
	// reranking entirely.
	Endpoint string `yaml:"endpoint" env:"RETRIEVAL_RERANK_ENDPOINT"`
	// TopN is how many fused candidates are sent for rescoring.
	TopN int `yaml:"top_n" env:"RETRIEVAL_RERANK_TOP_N"`
	// TopKFinal is the size of the final result set.
	TopKFinal int `yaml:"top_k_final" env:"RETRIEVAL_TOP_K_FINAL"`
	// Timeout bounds the whole rerank call.
	Timeout time.Duration `yaml:"timeout" env:"RETRIEVAL_RERANK_TIMEOUT"`
	// Concurrency caps in-flight pair scoring requests.
	Concurrency int `yaml:"concurrency" env:"RETRIEVAL_RERANK_CONCURRENCY"`
}

// QualityConfig configures the quality evaluator cutoffs.
type QualityConfig struct {
	// HighThreshold: top score strictly above this is HIGH.
	HighThreshold float64 `yaml:"high_threshold" env:"RETRIEVAL_QUALITY_HIGH"`
	// MediumThreshold: average score strictly above this is MEDIUM.
	MediumThreshold float64 `yaml:"medium_threshold" env:"RETRIEVAL_QUALITY_MEDIUM"`
}

// CorrectiveConfig configures the refine and fallback collaborators.
type CorrectiveConfig struct {
	// RefineEndpoint is the query refiner base URL. Empty disables
	// the refine path.
	RefineEndpoint string `yaml:"refine_endpoint" env:"RETRIEVAL_REFINE_ENDPOINT"`
	// FallbackEndpoint is the fallback retrieval base URL. Empty
	// disables the fallback path.
	FallbackEndpoint string `yaml:"fallback_endpoint" env:"RETRIEVAL_FALLBACK_ENDPOINT"`
	// Timeout bounds each corrective collaborator call.
	Timeout time.Duration `yaml:"timeout" env:"RETRIEVAL_CORRECTIVE_TIMEOUT"`
}

// PassageConfig configures passage text storage.
type PassageConfig struct {
	// DBPath is the sqlite database file. Empty keeps passages in memory.
	DBPath string `yaml:"db_path" env:"RETRIEVAL_PASSAGE_DB"`
	// CacheSize is the LRU size for hot passage lookups.
	CacheSize int `yaml:"cache_size" env:"RETRIEVAL_PASSAGE_CACHE_SIZE"`
}

// Default returns the embedded default configuration.
func Default() *Config {
	var cfg Config
	// The embedded file is compiled in; a parse failure is a build defect.
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default.yaml invalid: %v", err))
	}
	return &cfg
}

// Load builds the effective configuration. path may be empty, in which
// case only defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, coreerrors.New(coreerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file %s: %v", path, err), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, coreerrors.New(coreerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("config file %s: %v", path, err), err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, coreerrors.New(coreerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("environment overrides: %v", err), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	invalid := func(msg string, args ...any) error {
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, fmt.Sprintf(msg, args...), nil)
	}

	if c.Sparse.K1 <= 0 {
		return invalid("sparse.k1 must be positive, got %g", c.Sparse.K1)
	}
	if c.Sparse.B < 0 || c.Sparse.B > 1 {
		return invalid("sparse.b must be in [0,1], got %g", c.Sparse.B)
	}
	if c.Fusion.DenseWeight < 0 || c.Fusion.SparseWeight < 0 {
		return invalid("fusion weights must be non-negative")
	}
	if sum := c.Fusion.DenseWeight + c.Fusion.SparseWeight; math.Abs(sum-1.0) > 0.01 {
		return invalid("fusion weights must sum to 1.0, got %.2f", sum)
	}
	if c.Fusion.KRRF <= 0 {
		return invalid("fusion.k_rrf must be positive, got %d", c.Fusion.KRRF)
	}
	if c.Optimizer.ClearWinnerGap < 0 || c.Optimizer.HighConfidence < 0 || c.Optimizer.LowVariance < 0 {
		return invalid("optimizer thresholds must be non-negative")
	}
	if c.Optimizer.MinCandidates < 2 {
		return invalid("optimizer.min_candidates must be at least 2, got %d", c.Optimizer.MinCandidates)
	}
	if c.Quality.HighThreshold <= c.Quality.MediumThreshold {
		return invalid("quality.high_threshold (%g) must exceed quality.medium_threshold (%g)",
			c.Quality.HighThreshold, c.Quality.MediumThreshold)
	}
	if c.Rerank.TopN <= 0 || c.Rerank.TopKFinal <= 0 {
		return invalid("rerank.top_n and rerank.top_k_final must be positive")
	}
	if c.Rerank.TopKFinal > c.Rerank.TopN {
		return invalid("rerank.top_k_final (%d) cannot exceed rerank.top_n (%d)",
			c.Rerank.TopKFinal, c.Rerank.TopN)
	}
	if c.Rerank.Concurrency <= 0 {
		return invalid("rerank.concurrency must be positive, got %d", c.Rerank.Concurrency)
	}
	if c.Dense.Mode != "local" && c.Dense.Mode != "qdrant" {
		return invalid("dense.mode must be 'local' or 'qdrant', got %q", c.Dense.Mode)
	}
	if c.Dense.Mode == "qdrant" && c.Dense.QdrantAddr == "" {
		return invalid("dense.qdrant_addr required when dense.mode is 'qdrant'")
	}
	if c.Dense.Dimensions <= 0 {
		return invalid("dense.dimensions must be positive, got %d", c.Dense.Dimensions)
	}
	if c.Sparse.TopK <= 0 || c.Dense.TopK <= 0 {
		return invalid("sparse.top_k and dense.top_k must be positive")
	}
	return nil
}
