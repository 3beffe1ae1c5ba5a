package cache

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	redisv9 "github.com/redis/go-redis/v9"
)

// RedisStats summarises INFO for the cache-stats endpoint. Hit rate is a
// percentage of keyspace lookups.
type RedisStats struct {
	Connected              bool    `json:"connected"`
	UsedMemoryHuman        string  `json:"used_memory_human"`
	ConnectedClients       int64   `json:"connected_clients"`
	TotalCommandsProcessed int64   `json:"total_commands_processed"`
	Hits                   int64   `json:"hits"`
	Misses                 int64   `json:"misses"`
	HitRate                float64 `json:"hit_rate"`
	KeyspaceHits           int64   `json:"keyspace_hits"`
	KeyspaceMisses         int64   `json:"keyspace_misses"`
}

func CollectRedisStats(ctx context.Context, client *redisv9.Client) (RedisStats, error) {
	if client == nil {
		return RedisStats{}, nil
	}
	info, err := client.Info(ctx, "memory", "clients", "stats").Result()
	if err != nil {
		return RedisStats{}, fmt.Errorf("redis info failed: %w", err)
	}
	return ParseInfo(info), nil
}

func ParseInfo(info string) RedisStats {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}

	asInt := func(key string) int64 {
		n, _ := strconv.ParseInt(fields[key], 10, 64)
		return n
	}

	stats := RedisStats{
		Connected:              true,
		UsedMemoryHuman:        fields["used_memory_human"],
		ConnectedClients:       asInt("connected_clients"),
		TotalCommandsProcessed: asInt("total_commands_processed"),
		KeyspaceHits:           asInt("keyspace_hits"),
		KeyspaceMisses:         asInt("keyspace_misses"),
	}
	stats.Hits = stats.KeyspaceHits
	stats.Misses = stats.KeyspaceMisses
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = math.Round(float64(stats.Hits)/float64(total)*10000) / 100
	}
	return stats
}
