package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shopledger/shopledger/internal/dataset"
	"github.com/shopledger/shopledger/internal/engine"
	"github.com/shopledger/shopledger/internal/platform/bus"
	"github.com/shopledger/shopledger/internal/platform/cache"
	"github.com/shopledger/shopledger/internal/platform/kv"
	"github.com/shopledger/shopledger/internal/syncer"
)

// Deps holds the long-lived resources selected by Config.
type Deps struct {
	Store kv.Store
	Bus   bus.Bus
	Redis *redis.Client
}

// OpenDeps connects the store, the change bus and, when either needs it, redis.
func OpenDeps(ctx context.Context, cfg *Config, logger *slog.Logger) (*Deps, error) {
	deps := &Deps{}
	if cfg.NeedsRedis() {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		deps.Redis = client
	}
	store, err := kv.Open(ctx, kv.Options{
		Driver:    cfg.StoreDriver,
		Path:      cfg.StorePath,
		Namespace: cfg.SyncNamespace,
		Redis:     deps.Redis,
		PGDSN:     cfg.PGDSN,
	})
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Store = store
	if cfg.BusDriver == BusRedis {
		deps.Bus = bus.NewRedis(deps.Redis, cfg.SyncNamespace, logger)
	} else {
		deps.Bus = bus.NewMemory()
	}
	return deps, nil
}

// EngineOptions maps Config onto engine options.
func (d *Deps) EngineOptions(cfg *Config, logger *slog.Logger, recorder syncer.Recorder) engine.Options {
	opts := engine.Options{
		Store:         d.Store,
		Bus:           d.Bus,
		PollInterval:  cfg.SyncPollInterval,
		Timeout:       cfg.SyncTimeout,
		InvoicePrefix: cfg.InvoicePrefix,
		Recorder:      recorder,
		Logger:        logger,
	}
	if cfg.SyncEndpoint != "" {
		opts.Seed = &dataset.RemoteConfig{Endpoint: cfg.SyncEndpoint, Token: cfg.SyncToken}
	}
	return opts
}

// Close releases everything OpenDeps acquired.
func (d *Deps) Close() error {
	var errs []error
	if d.Bus != nil {
		errs = append(errs, d.Bus.Close())
	}
	if d.Store != nil {
		errs = append(errs, d.Store.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}
