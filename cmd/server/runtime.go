package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go-flowdesk/internal/config"
	"go-flowdesk/internal/core/memory"
	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/core/postgres/repository"
	infraredis "go-flowdesk/internal/infrastructure/redis"
	"go-flowdesk/internal/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Events kept by the in-process bus; nothing consumes them after publish.
const eventRetention = 256

// runtime holds the process-wide resources opened from config.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	redis  *redis.Client
	store  ports.Store
	bus    ports.EventBus
	queue  ports.JobQueue
}

func loadRuntime() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage, state is lost on exit")
		rt.store = memory.NewStore()
	default:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		rt.db = db
		rt.store = repository.NewStore(db)
	}

	if cfg.Redis.Enabled {
		client, err := infraredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.PoolSize)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.redis = client
		rt.bus = infraredis.NewEventBus(client, logger)
		rt.queue = infraredis.NewQueue(client)
	} else {
		rt.bus = memory.NewEventBus(memory.WithRetention(eventRetention))
		rt.queue = memory.NewQueue(1024)
	}

	logger.Info("runtime ready", "storage", cfg.Storage.Driver, "redis", cfg.Redis.Enabled, "reconcile_mode", cfg.Reconcile.Mode)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Error("failed to close redis client", "error", err)
		}
	}
	if rt.db != nil {
		if sqlDB, err := rt.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
