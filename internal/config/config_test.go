package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SetsSourceRateLimitsAndThresholds(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1.0/3.0, cfg.Sources.Arxiv.RateLimitPerSec)
	assert.Equal(t, 5, cfg.Sources.SemanticScholar.FailureThreshold)
	assert.Equal(t, "neo4j", cfg.Graph.Database)
	assert.Equal(t, 1536, cfg.Matching.EmbeddingDimension)
}

func TestLoad_AppliesEnvOverridesOverDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("OPENALEX_MAILTO", "researcher@example.com")
	t.Setenv("BATCH_MAX_CONCURRENT", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key", cfg.LLM.APIKey)
	assert.Equal(t, "researcher@example.com", cfg.Sources.OpenAlexMailto)
	assert.Equal(t, 9, cfg.Batch.MaxConcurrent)
}

func TestLoad_InvalidBatchConcurrentEnvIsIgnored(t *testing.T) {
	t.Setenv("BATCH_MAX_CONCURRENT", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Batch.MaxConcurrent, cfg.Batch.MaxConcurrent)
}

func TestExpandPath_ExpandsHomeTilde(t *testing.T) {
	got := expandPath("~/agentic-kg")
	assert.NotEqual(t, "~/agentic-kg", got)
	assert.Contains(t, got, "agentic-kg")
}

func TestExpandPath_LeavesNonTildePathUnchanged(t *testing.T) {
	assert.Equal(t, "/var/cache", expandPath("/var/cache"))
}

func TestExpandPath_EmptyPathUnchanged(t *testing.T) {
	assert.Equal(t, "", expandPath(""))
}
