package rag

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"ragchat/internal/ai"
	"ragchat/internal/cache"
)

type FactoryConfig struct {
	BaseURL        string
	EmbeddingModel string
	RetrieverK     int
	TTL            time.Duration
}

// ChainFactory reuses built chains per provider key and model. Live chains
// stay in process; Redis records their configuration for the stats endpoints.
type ChainFactory struct {
	llm       LLM
	embedder  Embedder
	retriever Retriever
	configs   *cache.ChainConfigCache
	chains    *gocache.Cache
	cfg       FactoryConfig
	log       *zap.Logger
}

func NewChainFactory(llm LLM, embedder Embedder, retriever Retriever, configs *cache.ChainConfigCache, cfg FactoryConfig, log *zap.Logger) *ChainFactory {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &ChainFactory{
		llm:       llm,
		embedder:  embedder,
		retriever: retriever,
		configs:   configs,
		chains:    gocache.New(cfg.TTL, 5*time.Minute),
		cfg:       cfg,
		log:       log.Named("chain"),
	}
}

func (f *ChainFactory) Get(ctx context.Context, apiKey, model string) *Chain {
	key := cache.ChainKey(apiKey, model)
	if v, ok := f.chains.Get(key); ok {
		f.log.Debug("using cached chain", zap.String("model", model))
		return v.(*Chain)
	}

	chain := NewChain(
		f.llm,
		f.embedder,
		f.retriever,
		ai.ChatConfig{BaseURL: f.cfg.BaseURL, APIKey: apiKey, Model: model},
		ai.EmbeddingConfig{BaseURL: f.cfg.BaseURL, APIKey: apiKey, Model: f.cfg.EmbeddingModel},
		f.cfg.RetrieverK,
	)
	f.chains.SetDefault(key, chain)

	if err := f.configs.Set(ctx, key, cache.ChainConfig{
		Model:      model,
		RetrieverK: chain.k,
		CreatedAt:  chain.createdAt,
	}); err != nil {
		f.log.Warn("cache chain config failed", zap.Error(err))
	}
	f.log.Info("created chain", zap.String("model", model))
	return chain
}

// Invalidate drops the chain built for apiKey and model, if any.
func (f *ChainFactory) Invalidate(apiKey, model string) {
	f.chains.Delete(cache.ChainKey(apiKey, model))
}

type FactoryStats struct {
	CachedChains int     `json:"cached_chains"`
	TTLMinutes   float64 `json:"ttl_minutes"`
	RetrieverK   int     `json:"retriever_k"`
}

func (f *ChainFactory) Stats() FactoryStats {
	return FactoryStats{
		CachedChains: f.chains.ItemCount(),
		TTLMinutes:   f.cfg.TTL.Minutes(),
		RetrieverK:   f.cfg.RetrieverK,
	}
}
