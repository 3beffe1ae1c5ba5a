package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ragchat/internal/ai"
	appsvc "ragchat/internal/app"
	"ragchat/internal/bootstrap"
	"ragchat/internal/cache"
	"ragchat/internal/config"
	rabbitmqClient "ragchat/internal/platform/rabbitmq"
	"ragchat/internal/rag"
	"ragchat/internal/repository"
	"ragchat/internal/transport/http/handler"
	"ragchat/internal/transport/http/middleware"
)

// AIClient is the provider surface the services need: chat completion,
// single and batched embeddings.
type AIClient interface {
	rag.LLM
	rag.Embedder
	appsvc.BatchEmbedder
}

type Services struct {
	Documents *appsvc.DocumentService
	Chat      *appsvc.ChatService
	Sessions  *appsvc.SessionService
	Stats     *appsvc.StatsService
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	client := ai.NewOpenAICompatibleClient(app.Config.LLMTimeout())
	return NewRouterWithServices(app.Config, app.Log, NewServices(app, client))
}

// NewServices builds the service graph on top of the connected dependencies.
func NewServices(app *bootstrap.App, client AIClient) *Services {
	cfg := app.Config
	log := app.Log

	docRepo := repository.NewDocumentRepository(app.DB)
	turnRepo := repository.NewChatTurnRepository(app.DB)

	history := cache.NewHistoryCache(app.Redis, time.Duration(cfg.Redis.ChatHistoryTTLHours)*time.Hour)
	semantic := cache.NewSemanticCache(app.Redis, time.Duration(cfg.Redis.SemanticTTLHours)*time.Hour, cfg.RAG.SimilarityThreshold)
	embeddings := cache.NewEmbeddingCache(app.Redis, time.Duration(cfg.Redis.EmbeddingTTLHours)*time.Hour)
	chainConfigs := cache.NewChainConfigCache(app.Redis, time.Duration(cfg.Redis.ChainConfigTTLMinutes)*time.Minute)

	embedder := rag.NewCachedEmbedder(client, embeddings, log)
	optimizer := rag.NewContextOptimizer(rag.OptimizerConfig{
		MaxContextTokens:  cfg.RAG.MaxContextTokens,
		SummaryTokens:     cfg.RAG.SummaryTokens,
		SlidingWindowSize: cfg.RAG.SlidingWindowSize,
		MinRecentMessages: cfg.RAG.MinRecentMessages,
	})
	chains := rag.NewChainFactory(client, embedder, app.VectorStore, chainConfigs, rag.FactoryConfig{
		BaseURL:        cfg.LLM.BaseURL,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		RetrieverK:     cfg.RAG.RetrieverK,
		TTL:            time.Duration(cfg.RAG.ChainCacheTTLMinutes) * time.Minute,
	}, log)

	var publisher appsvc.TurnPublisher
	if app.MQConn != nil {
		publisher = rabbitmqClient.NewTurnPublisher(app.MQConn, cfg.RabbitMQ.TurnPersistQueue)
	}

	stats := appsvc.StatsDeps{
		DB:               app.DB,
		Redis:            app.Redis,
		Store:            app.VectorStore,
		Chains:           chains,
		ChainConfigs:     chainConfigs,
		Embeddings:       embeddings,
		Semantic:         semantic,
		Optimizer:        optimizer,
		MaxHistoryLength: cfg.RAG.MaxHistoryLength,
		Version:          cfg.App.Version,
		StartedAt:        app.StartedAt,
	}
	// a typed nil *amqp.Connection would not compare equal to nil
	if app.MQConn != nil {
		stats.Broker = app.MQConn
	}

	return &Services{
		Documents: appsvc.NewDocumentService(docRepo, app.VectorStore, client, semantic, appsvc.DocumentServiceConfig{
			BaseURL:           cfg.LLM.BaseURL,
			EmbeddingModel:    cfg.LLM.EmbeddingModel,
			BatchSize:         cfg.RAG.EmbeddingBatchSize,
			MaxBytes:          cfg.Upload.MaxBytes,
			AllowedExtensions: cfg.Upload.AllowedExtensions,
			ChunkSize:         cfg.RAG.ChunkSize,
			ChunkOverlap:      cfg.RAG.ChunkOverlap,
		}, log),
		Chat: appsvc.NewChatService(turnRepo, chains, embedder, optimizer, history, semantic, publisher, appsvc.ChatServiceConfig{
			BaseURL:          cfg.LLM.BaseURL,
			EmbeddingModel:   cfg.LLM.EmbeddingModel,
			DefaultModel:     cfg.LLM.DefaultModel,
			AllowedModels:    cfg.LLM.AllowedModels,
			MaxHistoryLength: cfg.RAG.MaxHistoryLength,
		}, log),
		Sessions: appsvc.NewSessionService(docRepo, turnRepo, app.VectorStore, history, semantic, log),
		Stats:    appsvc.NewStatsService(stats),
	}
}

func NewRouterWithServices(cfg *config.Config, log *zap.Logger, svc *Services) *gin.Engine {
	gin.SetMode(cfg.App.GinMode)
	registerValidators(cfg)

	router := gin.New()
	router.Use(middleware.AccessLog(log), middleware.Recovery(log))

	healthHandler := handler.NewHealthHandler(svc.Stats, cfg.App.Version)
	documentHandler := handler.NewDocumentHandler(svc.Documents, cfg.Upload.MaxBytes)
	chatHandler := handler.NewChatHandler(svc.Chat)
	sessionHandler := handler.NewSessionHandler(svc.Sessions)

	router.GET("/", healthHandler.Root)
	router.GET("/health", healthHandler.Check)
	router.GET("/cache-stats", healthHandler.CacheStats)
	router.GET("/semantic-cache-stats", healthHandler.SemanticCacheStats)
	router.GET("/connection-stats", healthHandler.ConnectionStats)

	// multipart framing adds a little on top of the file itself
	router.POST("/upload-doc", middleware.BodyLimit(cfg.Upload.MaxBytes+1<<20), documentHandler.Upload)
	router.GET("/list-docs", documentHandler.List)
	router.DELETE("/delete-doc/:file_id", documentHandler.Delete)
	router.POST("/delete-doc", documentHandler.DeleteJSON)

	router.POST("/chat", chatHandler.Chat)
	router.POST("/chat/stream", chatHandler.Stream)
	router.GET("/chat-history/:session_id", chatHandler.History)

	router.DELETE("/sessions/:session_id", sessionHandler.Delete)

	return router
}

// registerValidators installs the llm_model binding rule against the
// configured allow-list.
func registerValidators(cfg *config.Config) {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("llm_model", func(fl validator.FieldLevel) bool {
		return cfg.ModelAllowed(fl.Field().String())
	})
}
