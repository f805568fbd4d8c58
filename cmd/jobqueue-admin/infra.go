package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/bootstrap"
)

var (
	errRedisNotConfigured = errors.New("redis not configured")
	errMemoryStrategy     = errors.New("admin commands require JOBQUEUE_STRATEGY=sql; the memory strategy lives inside one process")
)

// connectInfra opens the database and, when buffers are stored in Redis, a Redis client.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectInfra(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, redis.UniversalClient, error) {
	if cfg.JobQueue.Strategy != config.StrategySQL {
		return nil, nil, errMemoryStrategy
	}

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Database, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	if cfg.JobQueue.BufferStorage != config.BufferStorageRedis {
		return db, nil, nil
	}

	client, err := maybeConnectRedis(logger, &cfg.Redis)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, nil, err
	}
	return db, client, nil
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(cfg) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: *cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// withServices wires the queue service without consumers, runs f and tears everything down.
func withServices(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, bootstrap.ServiceContainer) error,
) error {
	ctx, cancel := cmdCtx.commandTimeoutContext(timeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, redisClient); cerr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", cerr)
		}
	}()

	return runWithServices(ctx, cmdCtx, &bootstrap.ServiceDeps{
		Config:           &cmdCtx.Config,
		DB:               db,
		RedisClient:      redisClient,
		Logger:           cmdCtx.Logger,
		DisableConsumers: true,
	}, f)
}

func runWithServices(
	ctx context.Context,
	cmdCtx *commandContext,
	deps *bootstrap.ServiceDeps,
	f func(context.Context, bootstrap.ServiceContainer) error,
) error {
	services, err := bootstrap.NewServices(deps)
	if err != nil {
		return err
	}
	if err := services.Queues.Start(ctx); err != nil {
		return fmt.Errorf("start job queue service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if stopErr := services.Queues.Destroy(stopCtx); stopErr != nil {
			cmdCtx.Logger.Warn("stop job queue service failed", "error", stopErr)
		}
	}()

	return f(ctx, services)
}
