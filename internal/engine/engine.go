// Package engine assembles the local store, the clock, the coordinator and
// the domain services into one offline-first instance.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shopledger/shopledger/internal/ar"
	"github.com/shopledger/shopledger/internal/clock"
	"github.com/shopledger/shopledger/internal/dataset"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/platform/bus"
	"github.com/shopledger/shopledger/internal/platform/kv"
	"github.com/shopledger/shopledger/internal/remote"
	"github.com/shopledger/shopledger/internal/sales"
	"github.com/shopledger/shopledger/internal/syncer"
)

// Options configures an Engine.
type Options struct {
	Store         kv.Store
	Bus           bus.Bus
	Origin        string
	PollInterval  time.Duration
	Timeout       time.Duration
	InvoicePrefix string
	// Seed is used as the remote configuration when none is persisted.
	Seed       *dataset.RemoteConfig
	HTTPClient *http.Client
	// NewReplica overrides how a configured remote is reached.
	NewReplica func(cfg dataset.RemoteConfig) remote.Replica
	Recorder   syncer.Recorder
	Now        func() time.Time
	Logger     *slog.Logger
}

// Engine is one running instance. Mutations are serialised by an internal
// lock that the coordinator also takes around snapshot and apply.
type Engine struct {
	mu        sync.Mutex
	repo      *dataset.Repository
	clock     *clock.Clock
	coord     *syncer.Coordinator
	inventory *inventory.Service
	sales     *sales.Service
	ar        *ar.Service
	validate  *validator.Validate
	opts      Options
	logger    *slog.Logger
}

// New wires an Engine over opts.Store. Call Start to begin syncing.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	e := &Engine{
		repo:     dataset.New(opts.Store),
		validate: validator.New(),
		opts:     opts,
		logger:   opts.Logger.With(slog.String("origin", opts.Origin)),
	}
	if e.opts.NewReplica == nil {
		e.opts.NewReplica = e.httpReplica
	}
	e.clock = clock.New(e.repo, opts.Now)
	e.coord = syncer.NewCoordinator(syncer.Config{
		Store:        e.repo,
		Clock:        e.clock,
		Bus:          opts.Bus,
		Origin:       opts.Origin,
		PollInterval: opts.PollInterval,
		Timeout:      opts.Timeout,
		Locker:       &e.mu,
		Recorder:     opts.Recorder,
		Logger:       e.logger,
	})
	e.inventory = inventory.NewService(e.repo, e, e.logger)
	e.sales = sales.NewService(e.repo, e.inventory, e, sales.Options{
		InvoicePrefix: opts.InvoicePrefix,
		Now:           opts.Now,
		Logger:        e.logger,
	})
	e.ar = ar.NewService(e.repo, e, opts.Now, e.logger)
	return e
}

func (e *Engine) httpReplica(cfg dataset.RemoteConfig) remote.Replica {
	opts := []remote.Option{remote.WithTimeout(e.opts.Timeout), remote.WithLogger(e.logger)}
	if e.opts.HTTPClient != nil {
		opts = append(opts, remote.WithHTTPClient(e.opts.HTTPClient))
	}
	return remote.NewClient(cfg.Endpoint, cfg.Token, opts...)
}

// Start restores the remote configuration and starts the coordinator.
func (e *Engine) Start(ctx context.Context) error {
	cfg, ok, err := e.repo.LoadRemote(ctx)
	if err != nil {
		return err
	}
	if !ok && e.opts.Seed != nil && e.opts.Seed.Endpoint != "" {
		if err := e.saveRemote(ctx, *e.opts.Seed); err != nil {
			return err
		}
		cfg, ok = *e.opts.Seed, true
	}
	if ok {
		e.coord.SetReplica(e.opts.NewReplica(cfg))
		e.logger.Info("engine: remote configured", slog.String("endpoint", cfg.Endpoint), slog.String("token", remote.Fingerprint(cfg.Token)))
	} else {
		e.logger.Info("engine: no remote configured, running offline")
	}
	return e.coord.Start(ctx)
}

// Stop halts polling and waits for background syncs.
func (e *Engine) Stop() {
	e.coord.Stop()
}

// Configure validates and persists the remote, switches to it and schedules
// a reconcile.
func (e *Engine) Configure(ctx context.Context, endpoint, token string) error {
	cfg := dataset.RemoteConfig{Endpoint: strings.TrimSpace(endpoint), Token: strings.TrimSpace(token)}
	if err := e.saveRemote(ctx, cfg); err != nil {
		return err
	}
	e.coord.SetReplica(e.opts.NewReplica(cfg))
	e.logger.Info("engine: remote configured", slog.String("endpoint", cfg.Endpoint), slog.String("token", remote.Fingerprint(cfg.Token)))
	e.coord.Trigger()
	return nil
}

func (e *Engine) saveRemote(ctx context.Context, cfg dataset.RemoteConfig) error {
	if err := e.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", syncer.ErrInvalidConfig, err)
	}
	return e.repo.SaveRemote(ctx, cfg)
}

// Remote returns the persisted remote configuration.
func (e *Engine) Remote(ctx context.Context) (dataset.RemoteConfig, bool, error) {
	return e.repo.LoadRemote(ctx)
}

// NotifyInventory is called by the inventory service after a durable write.
func (e *Engine) NotifyInventory(ctx context.Context) error {
	return e.committed(ctx, dataset.KeyInventory)
}

// NotifyEstimates is called by the sales and ar services after a durable write.
func (e *Engine) NotifyEstimates(ctx context.Context) error {
	return e.committed(ctx, dataset.KeyEstimates)
}

// committed advances the clock, fans out the new state and schedules a
// reconcile. A clock failure is a local store failure and is returned.
func (e *Engine) committed(ctx context.Context, keys ...string) error {
	ts, err := e.clock.Tick(ctx)
	if err != nil {
		return fmt.Errorf("engine: advance clock: %w", err)
	}
	if err := e.coord.LocalChanged(ctx, ts, keys...); err != nil {
		return fmt.Errorf("engine: publish change: %w", err)
	}
	return nil
}

// Exclusive serialises mutating HTTP requests with the coordinator's
// snapshot and apply phases. Safe methods pass through.
func (e *Engine) Exclusive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Inventory returns the inventory service. Callers outside Exclusive must
// use the Engine mutation methods instead.
func (e *Engine) Inventory() *inventory.Service { return e.inventory }

// Sales returns the estimate service.
func (e *Engine) Sales() *sales.Service { return e.sales }

// Receivables returns the payment and ledger service.
func (e *Engine) Receivables() *ar.Service { return e.ar }

// Status returns the last sync status.
func (e *Engine) Status() syncer.Status { return e.coord.Status() }

// Reconcile runs one sync pass and waits for it.
func (e *Engine) Reconcile(ctx context.Context) (syncer.Result, error) {
	return e.coord.Reconcile(ctx)
}

// ForcePush uploads the local snapshot unconditionally.
func (e *Engine) ForcePush(ctx context.Context) error { return e.coord.ForcePush(ctx) }

// ForcePull replaces the local snapshot with the remote one.
func (e *Engine) ForcePull(ctx context.Context) error { return e.coord.ForcePull(ctx) }

// Activate signals that the user is back and a sync should run.
func (e *Engine) Activate() { e.coord.Activate() }

// Wait blocks until background syncs scheduled so far have finished.
func (e *Engine) Wait() { e.coord.Wait() }

// SubscribeInventory registers fn for every inventory replacement.
func (e *Engine) SubscribeInventory(fn func([]inventory.Item)) func() {
	return e.coord.SubscribeInventory(fn)
}

// SubscribeEstimates registers fn for every estimate replacement.
func (e *Engine) SubscribeEstimates(fn func([]sales.Estimate)) func() {
	return e.coord.SubscribeEstimates(fn)
}

// SubscribeStatus registers fn for status changes, starting with the current one.
func (e *Engine) SubscribeStatus(fn func(syncer.Status)) func() {
	return e.coord.SubscribeStatus(fn)
}

// Clock returns the persisted logical clock.
func (e *Engine) Clock(ctx context.Context) (int64, error) {
	return e.clock.Current(ctx)
}

// Snapshot exports the local working copy.
func (e *Engine) Snapshot(ctx context.Context) (dataset.Envelope, error) {
	return e.repo.Snapshot(ctx)
}
