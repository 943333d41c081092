package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pasteit/internal/config"
	"pasteit/internal/storage"
	"pasteit/internal/storage/boltstore"
	"pasteit/internal/storage/pgstore"
	"pasteit/internal/storage/redisstore"
	"pasteit/internal/storage/sqlitestore"
)

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	logger = logger.With().Str("component", "store").Str("driver", cfg.StoreDriver).Logger()
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return sqlitestore.Open(cfg.DataPath, logger)
	case config.DriverBolt:
		return boltstore.Open(cfg.DataPath, logger)
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.PostgresURL, logger)
	case config.DriverRedis:
		return redisstore.Open(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
