package rag

import (
	"context"

	"go.uber.org/zap"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
)

type Embedder interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
}

// CachedEmbedder puts the embedding cache in front of the provider for
// single query embeddings. Cache failures degrade to a provider call.
type CachedEmbedder struct {
	embedder Embedder
	cache    *cache.EmbeddingCache
	log      *zap.Logger
}

func NewCachedEmbedder(embedder Embedder, c *cache.EmbeddingCache, log *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{embedder: embedder, cache: c, log: log.Named("embedding")}
}

func (e *CachedEmbedder) Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error) {
	vec, hit, err := e.cache.Get(ctx, cfg.Model, text)
	if err != nil {
		e.log.Warn("embedding cache read failed", zap.Error(err))
	}
	if hit {
		e.log.Debug("embedding cache hit")
		return vec, nil
	}

	vec, err = e.embedder.Embed(ctx, cfg, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, cfg.Model, text, vec); err != nil {
		e.log.Warn("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}
