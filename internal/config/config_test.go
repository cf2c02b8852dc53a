package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasDocumentedValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1.5, cfg.Sparse.K1)
	assert.Equal(t, 0.75, cfg.Sparse.B)
	assert.Equal(t, 0.6, cfg.Fusion.DenseWeight)
	assert.Equal(t, 0.4, cfg.Fusion.SparseWeight)
	assert.Equal(t, 60, cfg.Fusion.KRRF)
	assert.Equal(t, 0.10, cfg.Optimizer.ClearWinnerGap)
	assert.Equal(t, 0.30, cfg.Optimizer.HighConfidence)
	assert.Equal(t, 0.02, cfg.Optimizer.LowVariance)
	assert.Equal(t, 2, cfg.Optimizer.MinCandidates)
	assert.Equal(t, 20, cfg.Rerank.TopN)
	assert.Equal(t, 5, cfg.Rerank.TopKFinal)
	assert.Equal(t, 0.75, cfg.Quality.HighThreshold)
	assert.Equal(t, 0.50, cfg.Quality.MediumThreshold)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retrieval.yaml")
	data := []byte("fusion:\n  dense_weight: 0.7\n  sparse_weight: 0.3\nrerank:\n  top_n: 10\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Fusion.DenseWeight)
	assert.Equal(t, 0.3, cfg.Fusion.SparseWeight)
	assert.Equal(t, 10, cfg.Rerank.TopN)
	// Untouched values keep defaults.
	assert.Equal(t, 60, cfg.Fusion.KRRF)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("RETRIEVAL_K_RRF", "30")
	t.Setenv("RETRIEVAL_RERANK_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Fusion.KRRF)
	assert.Equal(t, 5*time.Second, cfg.Rerank.Timeout)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/retrieval.yaml")
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights not summing to one", func(c *Config) { c.Fusion.DenseWeight = 0.9 }},
		{"negative k1", func(c *Config) { c.Sparse.K1 = -1 }},
		{"b above one", func(c *Config) { c.Sparse.B = 1.5 }},
		{"zero k_rrf", func(c *Config) { c.Fusion.KRRF = 0 }},
		{"final above top_n", func(c *Config) { c.Rerank.TopKFinal = 25 }},
		{"inverted quality cutoffs", func(c *Config) { c.Quality.HighThreshold = 0.4 }},
		{"unknown dense mode", func(c *Config) { c.Dense.Mode = "weaviate" }},
		{"qdrant without address", func(c *Config) { c.Dense.Mode = "qdrant" }},
		{"min candidates below two", func(c *Config) { c.Optimizer.MinCandidates = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
