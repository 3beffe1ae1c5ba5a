package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"ragchat/internal/model"
)

// HistoryCache keeps each session's turns as a Redis list of JSON entries.
// A nil client disables it: reads miss and writes are dropped.
type HistoryCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewHistoryCache(client *redisv9.Client, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HistoryCache{client: client, ttl: ttl}
}

func (c *HistoryCache) Enabled() bool { return c != nil && c.client != nil }

func (c *HistoryCache) Get(ctx context.Context, sessionID string) ([]model.ChatTurn, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	raw, err := c.client.LRange(ctx, c.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	turns := make([]model.ChatTurn, 0, len(raw))
	for _, item := range raw {
		var turn model.ChatTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, true, nil
}

// Set replaces the cached history with turns.
func (c *HistoryCache) Set(ctx context.Context, sessionID string, turns []model.ChatTurn) error {
	if !c.Enabled() {
		return nil
	}
	values, err := encodeTurns(turns)
	if err != nil {
		return err
	}
	key := c.key(sessionID)
	_, err = c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Append extends an already cached history. A session that is not cached
// stays uncached so the next read reloads the full history from the database.
func (c *HistoryCache) Append(ctx context.Context, sessionID string, turns ...model.ChatTurn) error {
	if !c.Enabled() || len(turns) == 0 {
		return nil
	}
	values, err := encodeTurns(turns)
	if err != nil {
		return err
	}
	key := c.key(sessionID)
	_, err = c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.RPushX(ctx, key, values...)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) key(sessionID string) string {
	return historyPrefix + sessionID
}

func encodeTurns(turns []model.ChatTurn) ([]interface{}, error) {
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("marshal history turn failed: %w", err)
		}
		values = append(values, string(b))
	}
	return values, nil
}
