// Package app — store.go opens the entity store selected by STORE_BACKEND.
package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/config"
	"serotonyl.ru/filegate-bot/internal/db/mongo"
	"serotonyl.ru/filegate-bot/internal/db/postgres"
	"serotonyl.ru/filegate-bot/internal/db/redis"
	"serotonyl.ru/filegate-bot/internal/store"
)

// redisNamespace prefixes every Redis key.
const redisNamespace = "filegate:"

// openStore connects to the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.KV, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return postgres.NewKV(pool), pool.Close, nil

	case config.BackendRedis:
		rdb, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewKV(rdb, redisNamespace), func() {
			if err := rdb.Close(); err != nil {
				log.WithError(err).Warn("redis close failed")
			}
		}, nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		coll := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
		return mongo.NewKV(coll), func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(closeCtx); err != nil {
				log.WithError(err).Warn("mongo disconnect failed")
			}
		}, nil

	case config.BackendMemory:
		log.Warn("Using the in-memory store: data is lost on restart")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}
