package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	redisv9 "github.com/redis/go-redis/v9"
)

const localEmbeddingTTL = 10 * time.Minute

// EmbeddingCache stores query embeddings in two tiers: an in-process map for
// hot queries and Redis for sharing across instances.
type EmbeddingCache struct {
	client *redisv9.Client
	local  *gocache.Cache
	ttl    time.Duration
}

func NewEmbeddingCache(client *redisv9.Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{
		client: client,
		local:  gocache.New(localEmbeddingTTL, 2*localEmbeddingTTL),
		ttl:    ttl,
	}
}

// Key identifies an embedding by model and text; vectors from different
// models are not interchangeable.
func (c *EmbeddingCache) Key(model, text string) string {
	return embeddingPrefix + md5Hex(model+"|"+text)
}

func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	key := c.Key(model, text)
	if v, ok := c.local.Get(key); ok {
		return v.([]float32), true, nil
	}
	if c.client == nil {
		return nil, false, nil
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get embedding failed: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("unmarshal embedding failed: %w", err)
	}
	c.local.SetDefault(key, vec)
	return vec, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vec []float32) error {
	key := c.Key(model, text)
	c.local.SetDefault(key, vec)
	if c.client == nil {
		return nil
	}
	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set embedding failed: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) LocalCount() int {
	return c.local.ItemCount()
}

func (c *EmbeddingCache) Count(ctx context.Context) (int, error) {
	if c.client == nil {
		return c.local.ItemCount(), nil
	}
	return countKeys(ctx, c.client, embeddingPrefix+"*")
}
