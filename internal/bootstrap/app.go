package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/pkg/logger"
	"ragchat/internal/platform/database"
	rabbitmqClient "ragchat/internal/platform/rabbitmq"
	redisClient "ragchat/internal/platform/redis"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore"
	"ragchat/internal/vectorstore/pgvector"
	"ragchat/internal/vectorstore/qdrant"
	"ragchat/internal/vectorstore/sqlstore"
	"ragchat/internal/worker"
)

// App owns every long-lived dependency. Redis, MQConn and TurnWorker are nil
// when the integration is disabled or unreachable at boot.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	VectorStore vectorstore.Store
	Redis       *redis.Client
	MQConn      *amqp.Connection
	TurnWorker  *worker.TurnPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Production: cfg.Log.JSON || cfg.App.Env == "prod",
	})

	app, err := NewWithConfig(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return app, nil
}

// NewWithConfig connects the dependencies described by cfg. The relational
// database and the vector store are required; Redis and RabbitMQ degrade.
func NewWithConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log, StartedAt: time.Now()}

	db, err := database.New(ctx, database.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, log)
	if err != nil {
		return nil, err
	}
	app.DB = db
	if err := db.AutoMigrate(&model.Document{}, &model.ChatTurn{}); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	store, err := newVectorStore(ctx, cfg, db)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.VectorStore = store
	log.Info("vector store ready", zap.String("backend", store.Name()))

	redisCli, err := redisClient.New(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("redis unavailable, caching disabled", zap.String("addr", cfg.RedisAddr()), zap.Error(err))
	} else {
		app.Redis = redisCli
	}

	if cfg.RabbitMQ.Enabled {
		app.startTurnWorker(ctx)
	}

	return app, nil
}

func (a *App) startTurnWorker(ctx context.Context) {
	cfg := a.Config.RabbitMQ
	mqConn, err := rabbitmqClient.New(ctx, cfg.URL)
	if err != nil {
		a.Log.Warn("rabbitmq unavailable, chat turns are written directly", zap.Error(err))
		return
	}

	turnWorker := worker.NewTurnPersistWorker(mqConn, repository.NewChatTurnRepository(a.DB), cfg.TurnPersistQueue, a.Log)
	// the worker outlives the boot context
	if err := turnWorker.Start(context.WithoutCancel(ctx)); err != nil {
		a.Log.Warn("start turn worker failed, chat turns are written directly", zap.Error(err))
		_ = mqConn.Close()
		return
	}
	a.MQConn = mqConn
	a.TurnWorker = turnWorker
}

func newVectorStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (vectorstore.Store, error) {
	vc := cfg.VectorStore
	switch vc.Backend {
	case "pgvector":
		return pgvector.New(ctx, vc.PostgresDSN)
	case "qdrant":
		store := qdrant.New(qdrant.Config{
			URL:        vc.QdrantURL,
			APIKey:     vc.QdrantAPIKey,
			Collection: vc.Collection,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("ping qdrant failed: %w", err)
		}
		return store, nil
	case "sql":
		return sqlstore.New(db)
	default:
		return nil, fmt.Errorf("unsupported vector store backend %q", vc.Backend)
	}
}

func (a *App) Close() error {
	var errs []error
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis failed: %w", err))
		}
	}
	if a.VectorStore != nil {
		if err := a.VectorStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector store failed: %w", err))
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			errs = append(errs, fmt.Errorf("close database failed: %w", err))
		}
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return errors.Join(errs...)
}
