package app

import (
	"context"
	"errors"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ragchat/internal/cache"
	"ragchat/internal/platform/database"
	redisplatform "ragchat/internal/platform/redis"
	"ragchat/internal/rag"
	"ragchat/internal/vectorstore"
)

var ErrCacheDisabled = errors.New("redis not connected")

// BrokerConn is the part of an AMQP connection health checks need.
type BrokerConn interface {
	IsClosed() bool
}

type StatsDeps struct {
	DB     *gorm.DB
	Redis  *redisv9.Client
	Broker BrokerConn
	Store  vectorstore.Store

	Chains       *rag.ChainFactory
	ChainConfigs *cache.ChainConfigCache
	Embeddings   *cache.EmbeddingCache
	Semantic     *cache.SemanticCache
	Optimizer    *rag.ContextOptimizer

	MaxHistoryLength int
	Version          string
	StartedAt        time.Time
}

// StatsService backs the health and operational stats endpoints. Redis and
// Broker are nil when those integrations are disabled.
type StatsService struct {
	deps StatsDeps
}

func NewStatsService(deps StatsDeps) *StatsService {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	return &StatsService{deps: deps}
}

type DependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type HealthReport struct {
	Status             string                      `json:"status"`
	DatabaseAccessible bool                        `json:"database_accessible"`
	RedisConnected     bool                        `json:"redis_connected"`
	RabbitMQConnected  bool                        `json:"rabbitmq_connected"`
	VectorStore        string                      `json:"vector_store"`
	Version            string                      `json:"version"`
	UptimeSec          int                         `json:"uptime_sec"`
	Dependencies       map[string]DependencyStatus `json:"dependencies"`
}

// Health checks every dependency. Only the database is required; the report
// is unhealthy when it cannot be reached.
func (s *StatsService) Health(ctx context.Context) HealthReport {
	db := checkErr(database.Ping(ctx, s.deps.DB))
	vectors := checkErr(s.deps.Store.Ping(ctx))

	redis := DependencyStatus{Message: "disabled"}
	if s.deps.Redis != nil {
		redis = checkErr(s.deps.Redis.Ping(ctx).Err())
	}
	broker := DependencyStatus{Message: "disabled"}
	if s.deps.Broker != nil {
		broker = DependencyStatus{OK: !s.deps.Broker.IsClosed()}
		if !broker.OK {
			broker.Message = "connection closed"
		}
	}

	status := "healthy"
	if !db.OK {
		status = "unhealthy"
	}
	return HealthReport{
		Status:             status,
		DatabaseAccessible: db.OK,
		RedisConnected:     redis.OK,
		RabbitMQConnected:  broker.OK,
		VectorStore:        s.deps.Store.Name(),
		Version:            s.deps.Version,
		UptimeSec:          int(time.Since(s.deps.StartedAt).Seconds()),
		Dependencies: map[string]DependencyStatus{
			"database":     db,
			"redis":        redis,
			"rabbitmq":     broker,
			"vector_store": vectors,
		},
	}
}

func checkErr(err error) DependencyStatus {
	if err != nil {
		return DependencyStatus{OK: false, Message: err.Error()}
	}
	return DependencyStatus{OK: true}
}

type CacheStatsReport struct {
	RedisStats  *cache.RedisStats `json:"redis_stats,omitempty"`
	CacheStatus string            `json:"cache_status"`
	Error       string            `json:"error,omitempty"`
}

func (s *StatsService) CacheStats(ctx context.Context) CacheStatsReport {
	if s.deps.Redis == nil {
		return CacheStatsReport{CacheStatus: "disabled"}
	}
	stats, err := cache.CollectRedisStats(ctx, s.deps.Redis)
	if err != nil {
		return CacheStatsReport{CacheStatus: "error", Error: err.Error()}
	}
	return CacheStatsReport{RedisStats: &stats, CacheStatus: "enabled"}
}

type OptimizerStats struct {
	MaxContextTokens  int `json:"max_context_tokens"`
	SummaryTokens     int `json:"summary_tokens"`
	SlidingWindowSize int `json:"sliding_window_size"`
	MinRecentMessages int `json:"min_recent_messages"`
}

type SemanticStatsReport struct {
	SemanticCacheEntries int            `json:"semantic_cache_entries"`
	CachedEmbeddings     int            `json:"cached_embeddings"`
	LocalEmbeddings      int            `json:"local_embeddings"`
	SimilarityThreshold  float64        `json:"similarity_threshold"`
	MaxHistoryLength     int            `json:"max_history_length"`
	ContextOptimizer     OptimizerStats `json:"context_optimizer"`
	Status               string         `json:"status"`
}

func (s *StatsService) SemanticCacheStats(ctx context.Context) (*SemanticStatsReport, error) {
	if s.deps.Redis == nil {
		return nil, ErrCacheDisabled
	}
	entries, err := s.deps.Semantic.Count(ctx)
	if err != nil {
		return nil, err
	}
	embeddings, err := s.deps.Embeddings.Count(ctx)
	if err != nil {
		return nil, err
	}
	oc := s.deps.Optimizer.Config()
	return &SemanticStatsReport{
		SemanticCacheEntries: entries,
		CachedEmbeddings:     embeddings,
		LocalEmbeddings:      s.deps.Embeddings.LocalCount(),
		SimilarityThreshold:  s.deps.Semantic.Threshold(),
		MaxHistoryLength:     s.deps.MaxHistoryLength,
		ContextOptimizer: OptimizerStats{
			MaxContextTokens:  oc.MaxContextTokens,
			SummaryTokens:     oc.SummaryTokens,
			SlidingWindowSize: oc.SlidingWindowSize,
			MinRecentMessages: oc.MinRecentMessages,
		},
		Status: "active",
	}, nil
}

type ConnectionStatsReport struct {
	ConnectionStats map[string]any `json:"connection_stats"`
	Status          string         `json:"status"`
}

func (s *StatsService) ConnectionStats(ctx context.Context) ConnectionStatsReport {
	stats := map[string]any{
		"database": database.Stats(s.deps.DB),
	}

	if s.deps.Redis != nil {
		stats["redis"] = redisplatform.PoolStats(s.deps.Redis)
	} else {
		stats["redis"] = map[string]any{"status": "disabled"}
	}

	vectorStats := map[string]any{"backend": s.deps.Store.Name()}
	if n, err := s.deps.Store.Count(ctx); err != nil {
		vectorStats["error"] = err.Error()
	} else {
		vectorStats["vectors"] = n
	}
	stats["vector_store"] = vectorStats

	chainStats := map[string]any{"factory": s.deps.Chains.Stats()}
	if n, err := s.deps.ChainConfigs.Count(ctx); err == nil {
		chainStats["redis_configs"] = n
	}
	stats["chain_cache"] = chainStats

	embeddingStats := map[string]any{"local_entries": s.deps.Embeddings.LocalCount()}
	if s.deps.Redis != nil {
		if n, err := s.deps.Embeddings.Count(ctx); err == nil {
			embeddingStats["redis_entries"] = n
		}
	}
	stats["embedding_cache"] = embeddingStats

	return ConnectionStatsReport{ConnectionStats: stats, Status: "optimized"}
}
