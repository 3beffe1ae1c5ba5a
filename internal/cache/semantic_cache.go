package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"ragchat/internal/pkg/vecmath"
)

// SemanticEntry is a previously answered question together with its
// embedding, so later questions can be matched by meaning.
type SemanticEntry struct {
	Query      string    `json:"query"`
	Response   string    `json:"response"`
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	APIKeyHash string    `json:"api_key_hash"`
	Timestamp  time.Time `json:"timestamp"`
}

// SemanticCache answers repeated questions without calling the LLM. Entries
// are scoped to a session because answers depend on that session's documents.
type SemanticCache struct {
	client    *redisv9.Client
	ttl       time.Duration
	threshold float64
}

func NewSemanticCache(client *redisv9.Client, ttl time.Duration, threshold float64) *SemanticCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &SemanticCache{client: client, ttl: ttl, threshold: threshold}
}

func (c *SemanticCache) Enabled() bool { return c != nil && c.client != nil }

func (c *SemanticCache) Threshold() float64 { return c.threshold }

// Lookup returns the most similar cached entry of the session whose cosine
// similarity to embedding is strictly above the threshold.
func (c *SemanticCache) Lookup(ctx context.Context, sessionID string, embedding []float32) (*SemanticEntry, float64, error) {
	if !c.Enabled() || len(embedding) == 0 {
		return nil, 0, nil
	}
	keys, err := scanKeys(ctx, c.client, c.sessionPattern(sessionID))
	if err != nil {
		return nil, 0, err
	}
	if len(keys) == 0 {
		return nil, 0, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis mget semantic cache failed: %w", err)
	}

	var (
		best      *SemanticEntry
		bestScore float64
	)
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var entry SemanticEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		score := vecmath.Cosine(embedding, entry.Embedding)
		if score > c.threshold && score > bestScore {
			e := entry
			best, bestScore = &e, score
		}
	}
	return best, bestScore, nil
}

func (c *SemanticCache) Store(ctx context.Context, sessionID string, entry SemanticEntry) error {
	if !c.Enabled() {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal semantic entry failed: %w", err)
	}
	key := c.sessionKey(sessionID) + md5Hex(entry.Query)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set semantic entry failed: %w", err)
	}
	return nil
}

// InvalidateSession drops a session's entries, e.g. after its documents change.
func (c *SemanticCache) InvalidateSession(ctx context.Context, sessionID string) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	keys, err := scanKeys(ctx, c.client, c.sessionPattern(sessionID))
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("redis delete semantic entries failed: %w", err)
	}
	return len(keys), nil
}

func (c *SemanticCache) Count(ctx context.Context) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	return countKeys(ctx, c.client, semanticPrefix+"*")
}

func (c *SemanticCache) sessionPattern(sessionID string) string {
	return c.sessionKey(sessionID) + "*"
}

// sessionKey hashes the session id so its length is fixed and no character
// of it can act as a separator or a SCAN glob.
func (c *SemanticCache) sessionKey(sessionID string) string {
	return semanticPrefix + sessionDigest(sessionID) + ":"
}
