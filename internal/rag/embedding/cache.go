package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/metrics"
	"github.com/scribeworks/backend/pkg/logger"
	"github.com/scribeworks/backend/pkg/utils"
)

// EmbeddingCache stores vectors keyed by content hash.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder fronts a Provider with a vector cache. Intended for
// query embeddings, where the same question tends to repeat; bulk chunk
// embedding during indexing goes through the Provider directly.
type CachedEmbedder struct {
	provider *Provider
	cache    EmbeddingCache
	ttl      time.Duration
}

func NewCachedEmbedder(provider *Provider, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEmbedder{provider: provider, cache: cache, ttl: ttl}
}

// Embed serves every text from cache when possible, otherwise embeds
// the whole batch and backfills. Keys include the active model so a
// fallback switch never mixes vectors of different dimensions.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) (*Result, error) {
	modelID, dimension := c.provider.ActiveModel()

	vectors := make([][]float32, len(texts))
	complete := true
	for i, text := range texts {
		vec, hit, err := c.cache.GetEmbedding(ctx, c.key(modelID, text))
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
			complete = false
			break
		}
		if !hit || len(vec) != dimension {
			complete = false
			break
		}
		vectors[i] = vec
	}

	if complete && len(texts) > 0 {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return &Result{ModelID: modelID, Dimension: dimension, Vectors: vectors}, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	result, err := c.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	for i, text := range texts {
		if err := c.cache.SetEmbedding(ctx, c.key(result.ModelID, text), result.Vectors[i], c.ttl); err != nil {
			logger.Warn("Embedding cache store failed", zap.Error(err))
			break
		}
	}

	return result, nil
}

func (c *CachedEmbedder) key(modelID, text string) string {
	return utils.HashString(modelID + "\x00" + text)
}
