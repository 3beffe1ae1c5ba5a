package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// ChainConfig describes a built retrieval chain. Chains hold live clients and
// cannot be serialised, so Redis only records which ones exist and how they
// were configured.
type ChainConfig struct {
	Model      string    `json:"model"`
	RetrieverK int       `json:"retriever_k"`
	CreatedAt  time.Time `json:"created_at"`
	CacheKey   string    `json:"cache_key"`
}

type ChainConfigCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewChainConfigCache(client *redisv9.Client, ttl time.Duration) *ChainConfigCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ChainConfigCache{client: client, ttl: ttl}
}

// ChainKey is the shared identity of a chain: provider key fingerprint + model.
func ChainKey(apiKey, model string) string {
	return HashAPIKey(apiKey) + ":" + model
}

func (c *ChainConfigCache) Get(ctx context.Context, chainKey string) (*ChainConfig, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, chainPrefix+chainKey).Bytes()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get chain config failed: %w", err)
	}
	var cfg ChainConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal chain config failed: %w", err)
	}
	return &cfg, nil
}

func (c *ChainConfigCache) Set(ctx context.Context, chainKey string, cfg ChainConfig) error {
	if c == nil || c.client == nil {
		return nil
	}
	cfg.CacheKey = chainPrefix + chainKey
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal chain config failed: %w", err)
	}
	if err := c.client.Set(ctx, cfg.CacheKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set chain config failed: %w", err)
	}
	return nil
}

func (c *ChainConfigCache) Count(ctx context.Context) (int, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	return countKeys(ctx, c.client, chainPrefix+"*")
}
