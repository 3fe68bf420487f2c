// Package app wires configuration to concrete backends for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/peterluvCS/portfolio-manager/internal/config"
	"github.com/peterluvCS/portfolio-manager/internal/store"
)

// Backend is the opened persistence layer.
type Backend struct {
	Store  store.Store      // ledger and uncached prices
	Prices store.PriceStore // price reads and writes, behind the cache when one is configured
	Kind   string           // "postgres", "sqlite" or "memory"

	closers []func() error
}

// Open picks the store from cfg: PostgreSQL when a database URL is set,
// the volatile memory store when asked for, SQLite otherwise. A Redis URL
// puts a read-through cache in front of latest-price reads.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Backend, error) {
	b := &Backend{}

	switch {
	case cfg.Database.URL != "":
		pool, err := store.NewPostgresPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgresStore(pool)
		b.closers = append(b.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.Store, b.Kind = pg, "postgres"
		log.Info().Msg("connected to PostgreSQL")

	case cfg.Database.Memory:
		b.Store, b.Kind = store.NewMemoryStore(), "memory"
		log.Warn().Msg("using in-memory store, data will not persist")

	default:
		sq, err := store.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sq.Close)
		b.Store, b.Kind = sq, "sqlite"
		log.Info().Str("path", cfg.Database.SQLitePath).Msg("opened SQLite store")
	}
	b.Prices = b.Store

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		b.closers = append(b.closers, rdb.Close)
		b.Prices = store.NewCachedPriceStore(b.Store, rdb, cfg.Redis.PriceTTL, log)
		log.Info().Dur("ttl", cfg.Redis.PriceTTL).Msg("Redis price cache enabled")
	}
	return b, nil
}

// Close releases every backend resource, most recently opened first.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
