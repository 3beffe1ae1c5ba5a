package cache

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	redisv9 "github.com/redis/go-redis/v9"
)

const (
	historyPrefix   = "chat_history:"
	chainPrefix     = "rag_chain:"
	semanticPrefix  = "semantic_cache:"
	embeddingPrefix = "embedding:"
)

// HashAPIKey returns a short, non-reversible fingerprint of a provider key so
// keys never appear in cache keys or payloads.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}

func sessionDigest(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:16]
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func scanKeys(ctx context.Context, client *redisv9.Client, pattern string) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s failed: %w", pattern, err)
	}
	return keys, nil
}

func countKeys(ctx context.Context, client *redisv9.Client, pattern string) (int, error) {
	keys, err := scanKeys(ctx, client, pattern)
	return len(keys), err
}
