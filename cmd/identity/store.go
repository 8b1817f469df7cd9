package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/api/handler"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/core/service"
	"github.com/99minutos/identity-system/internal/infrastructure/config"
	"github.com/99minutos/identity-system/internal/infrastructure/db/memory"
	"github.com/99minutos/identity-system/internal/infrastructure/db/mongo"
	"github.com/99minutos/identity-system/internal/infrastructure/db/postgres"
	"github.com/99minutos/identity-system/internal/infrastructure/db/redis"
)

// backend is an opened identity store plus the hooks the commands need.
type backend struct {
	store ports.IdentityStore
	// migrate prepares the schema or indexes of the store.
	migrate func(ctx context.Context) error
	close   func(ctx context.Context)
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("connected to postgres")
		return &backend{
			store:   postgres.NewIdentityStore(db),
			migrate: func(ctx context.Context) error { return postgres.Migrate(ctx, db) },
			close:   func(context.Context) { _ = db.Close() },
		}, nil

	case config.DriverMongo:
		client, db, err := mongo.Connect(ctx, mongo.Config{
			URI:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("database", cfg.Mongo.Database).Msg("connected to mongodb")
		store := mongo.NewIdentityStore(db)
		return &backend{
			store:   store,
			migrate: store.EnsureIndexes,
			close:   func(ctx context.Context) { _ = client.Disconnect(ctx) },
		}, nil

	case config.DriverMemory:
		log.Warn().Msg("using in-memory identity store, data is lost on exit")
		return &backend{
			store:   memory.NewIdentityStore(),
			migrate: func(context.Context) error { return nil },
			close:   func(context.Context) {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// openAuthorityCache returns the Redis cache when enabled. Both results are
// nil when caching is off.
func openAuthorityCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (service.AuthorityCache, *goredis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil, nil
	}
	client, err := redis.Connect(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.AuthorityTTL).Msg("authority cache enabled")
	return redis.NewAuthorityCache(client, cfg.Redis.AuthorityTTL), client, nil
}

func readinessChecks(store ports.IdentityStore, rdb *goredis.Client) map[string]handler.PingFunc {
	checks := map[string]handler.PingFunc{"store": store.Ping}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
