// Package syncer reconciles the local working copy with the remote replica.
// Whole snapshots move in one direction per run, chosen by comparing logical
// clocks; nothing is merged.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopledger/shopledger/internal/clock"
	"github.com/shopledger/shopledger/internal/dataset"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/platform/bus"
	"github.com/shopledger/shopledger/internal/remote"
	"github.com/shopledger/shopledger/internal/sales"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultTimeout      = 15 * time.Second
)

// Store is the part of the local working copy the coordinator moves.
type Store interface {
	Snapshot(ctx context.Context) (dataset.Envelope, error)
	Apply(ctx context.Context, env dataset.Envelope) error
}

// Clock issues and records logical timestamps.
type Clock interface {
	Tick(ctx context.Context) (int64, error)
	Observe(ctx context.Context, ts int64) (int64, error)
	Current(ctx context.Context) (int64, error)
}

// Recorder receives one observation per reconcile attempt.
type Recorder interface {
	ObserveReconcile(outcome string, elapsed time.Duration)
}

// Config wires a Coordinator.
type Config struct {
	Store        Store
	Clock        Clock
	Bus          bus.Bus
	Origin       string
	// PollInterval defaults to 30s. A negative value disables polling for
	// callers that schedule Reconcile themselves.
	PollInterval time.Duration
	Timeout      time.Duration
	// Locker serialises local writes with snapshot and apply. Mutations must
	// hold the same lock.
	Locker   sync.Locker
	Recorder Recorder
	Logger   *slog.Logger
}

// Coordinator owns the in-flight guard, the subscriber lists and the poll
// loop of one engine instance.
type Coordinator struct {
	store    Store
	clock    Clock
	bus      bus.Bus
	origin   string
	poll     time.Duration
	timeout  time.Duration
	local    sync.Locker
	recorder Recorder
	logger   *slog.Logger

	inFlight atomic.Bool

	mu      sync.RWMutex
	replica remote.Replica
	status  Status

	subsMu     sync.Mutex
	nextSub    int
	invSubs    map[int]func([]inventory.Item)
	estSubs    map[int]func([]sales.Estimate)
	statusSubs map[int]func(Status)

	lifeMu      sync.Mutex
	runCtx      context.Context
	cancel      context.CancelFunc
	stopped     bool
	unsubscribe func()
	loops       sync.WaitGroup
	tasks       sync.WaitGroup
}

// NewCoordinator builds a stopped coordinator with no replica.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Locker == nil {
		cfg.Locker = &sync.Mutex{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		store:      cfg.Store,
		clock:      cfg.Clock,
		bus:        cfg.Bus,
		origin:     cfg.Origin,
		poll:       cfg.PollInterval,
		timeout:    cfg.Timeout,
		local:      cfg.Locker,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		status:     Status{State: StateOffline, At: time.Now()},
		runCtx:     context.Background(),
		invSubs:    make(map[int]func([]inventory.Item)),
		estSubs:    make(map[int]func([]sales.Estimate)),
		statusSubs: make(map[int]func(Status)),
	}
}

// SetReplica swaps the remote. nil switches the coordinator offline.
func (c *Coordinator) SetReplica(r remote.Replica) {
	c.mu.Lock()
	c.replica = r
	c.mu.Unlock()
	if r == nil {
		c.setStatus(Status{State: StateOffline})
	}
}

// Status returns the last reported status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Reconcile runs one sync pass. A call made while another pass is running
// returns ResultSkipped at once. Failures are reported through the status
// subscription as well as returned.
func (c *Coordinator) Reconcile(ctx context.Context) (Result, error) {
	replica := c.currentReplica()
	if replica == nil {
		c.setStatus(Status{State: StateOffline})
		c.record(ResultOffline, 0)
		return ResultOffline, nil
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return ResultSkipped, nil
	}
	defer c.inFlight.Store(false)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, status, err := c.reconcile(ctx, replica)
	if err != nil {
		c.fail(err, status)
		c.record(ResultFailed, time.Since(start))
		return ResultFailed, err
	}
	status.State = StateSynced
	c.setStatus(status)
	c.record(result, time.Since(start))
	c.logger.Debug("syncer: reconciled",
		slog.String("result", string(result)),
		slog.Int64("local_clock", status.LocalClock),
		slog.Int64("remote_clock", status.RemoteClock))
	return result, nil
}

func (c *Coordinator) reconcile(ctx context.Context, replica remote.Replica) (Result, Status, error) {
	var status Status
	local, err := c.snapshot(ctx)
	if err != nil {
		return ResultFailed, status, err
	}
	status.LocalClock = local.Timestamp
	c.setStatus(Status{State: StateSyncing, LocalClock: local.Timestamp})

	env, err := replica.Fetch(ctx)
	notFound := errors.Is(err, remote.ErrNotFound)
	if err != nil && !notFound {
		return ResultFailed, status, err
	}
	status.RemoteClock = env.Timestamp

	if notFound || env.Timestamp == 0 {
		if local.Timestamp == 0 {
			if local.Empty() {
				return ResultUnchanged, status, nil
			}
			if local, err = c.tickedSnapshot(ctx); err != nil {
				return ResultFailed, status, err
			}
		}
		return c.push(ctx, replica, local, status)
	}

	switch clock.Compare(local.Timestamp, env.Timestamp) {
	case clock.Pull:
		return c.pull(ctx, replica, local.Timestamp, env, status)
	case clock.Push:
		return c.push(ctx, replica, local, status)
	default:
		return ResultUnchanged, status, nil
	}
}

// pull applies env unless a local write landed while the fetch was running.
// In that case the fresh snapshot is compared again and may be pushed instead.
func (c *Coordinator) pull(ctx context.Context, replica remote.Replica, seen int64, env dataset.Envelope, status Status) (Result, Status, error) {
	c.local.Lock()
	current, err := c.clock.Current(ctx)
	if err != nil {
		c.local.Unlock()
		return ResultFailed, status, err
	}
	if current != seen && clock.Compare(current, env.Timestamp) != clock.Pull {
		fresh, err := c.store.Snapshot(ctx)
		c.local.Unlock()
		if err != nil {
			return ResultFailed, status, err
		}
		status.LocalClock = fresh.Timestamp
		if clock.Compare(fresh.Timestamp, env.Timestamp) == clock.Equal {
			return ResultUnchanged, status, nil
		}
		return c.push(ctx, replica, fresh, status)
	}
	observed, err := c.applyLocked(ctx, env)
	c.local.Unlock()
	if err != nil {
		return ResultFailed, status, err
	}
	status.LocalClock = observed
	status.Direction = "pull"
	c.afterApply(ctx, env, observed)
	return ResultPulled, status, nil
}

func (c *Coordinator) push(ctx context.Context, replica remote.Replica, local dataset.Envelope, status Status) (Result, Status, error) {
	if _, err := replica.Push(ctx, local); err != nil {
		return ResultFailed, status, err
	}
	status.LocalClock = local.Timestamp
	status.RemoteClock = local.Timestamp
	status.Direction = "push"
	return ResultPushed, status, nil
}

// ForcePush advances the clock and uploads the local snapshot without
// looking at the remote.
func (c *Coordinator) ForcePush(ctx context.Context) error {
	replica, release, err := c.acquireForced()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status := Status{}
	local, err := c.tickedSnapshot(ctx)
	if err == nil {
		c.setStatus(Status{State: StateSyncing, LocalClock: local.Timestamp, Direction: "push"})
		_, status, err = c.push(ctx, replica, local, status)
	}
	if err != nil {
		c.fail(err, status)
		c.record(ResultFailed, time.Since(start))
		return err
	}
	status.State = StateSynced
	c.setStatus(status)
	c.record(ResultPushed, time.Since(start))
	c.logger.Info("syncer: forced push", slog.Int64("clock", local.Timestamp))
	return nil
}

// ForcePull replaces the local working copy with the remote snapshot
// regardless of clocks. A replica without a snapshot is refused so local
// data is never wiped.
func (c *Coordinator) ForcePull(ctx context.Context) error {
	replica, release, err := c.acquireForced()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.forcePull(ctx, replica)
	if err != nil {
		c.fail(err, status)
		c.record(ResultFailed, time.Since(start))
		return err
	}
	status.State = StateSynced
	c.setStatus(status)
	c.record(ResultPulled, time.Since(start))
	c.logger.Info("syncer: forced pull", slog.Int64("remote_clock", status.RemoteClock))
	return nil
}

func (c *Coordinator) forcePull(ctx context.Context, replica remote.Replica) (Status, error) {
	status := Status{Direction: "pull"}
	c.setStatus(Status{State: StateSyncing, Direction: "pull"})
	env, err := replica.Fetch(ctx)
	if errors.Is(err, remote.ErrNotFound) {
		return status, ErrRemoteEmpty
	}
	if err != nil {
		return status, err
	}
	status.RemoteClock = env.Timestamp
	if env.Timestamp == 0 && env.Empty() {
		return status, ErrRemoteEmpty
	}
	c.local.Lock()
	observed, err := c.applyLocked(ctx, env)
	c.local.Unlock()
	if err != nil {
		return status, err
	}
	status.LocalClock = observed
	c.afterApply(ctx, env, observed)
	return status, nil
}

func (c *Coordinator) acquireForced() (remote.Replica, func(), error) {
	replica := c.currentReplica()
	if replica == nil {
		c.setStatus(Status{State: StateOffline})
		return nil, nil, ErrOffline
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, nil, ErrInFlight
	}
	return replica, func() { c.inFlight.Store(false) }, nil
}

// applyLocked writes env and then raises the clock. Callers hold c.local.
func (c *Coordinator) applyLocked(ctx context.Context, env dataset.Envelope) (int64, error) {
	if err := c.store.Apply(ctx, env); err != nil {
		return 0, err
	}
	return c.clock.Observe(ctx, env.Timestamp)
}

func (c *Coordinator) afterApply(ctx context.Context, env dataset.Envelope, observed int64) {
	env = env.Normalize()
	c.fanOut(env.Inventory, env.Estimates, true, true)
	c.announce(ctx, []string{dataset.KeyInventory, dataset.KeyEstimates}, observed)
}

func (c *Coordinator) snapshot(ctx context.Context) (dataset.Envelope, error) {
	c.local.Lock()
	defer c.local.Unlock()
	return c.store.Snapshot(ctx)
}

func (c *Coordinator) tickedSnapshot(ctx context.Context) (dataset.Envelope, error) {
	c.local.Lock()
	defer c.local.Unlock()
	if _, err := c.clock.Tick(ctx); err != nil {
		return dataset.Envelope{}, err
	}
	return c.store.Snapshot(ctx)
}

// LocalChanged fans the named keys out to subscribers, tells other instances
// on the bus and schedules a reconcile. The caller has already persisted the
// change and advanced the clock.
func (c *Coordinator) LocalChanged(ctx context.Context, ts int64, keys ...string) error {
	env, err := c.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	inv, est := touches(keys)
	c.fanOut(env.Inventory, env.Estimates, inv, est)
	c.announce(ctx, keys, ts)
	c.Trigger()
	return nil
}

func (c *Coordinator) announce(ctx context.Context, keys []string, ts int64) {
	if c.bus == nil {
		return
	}
	change := bus.Change{Origin: c.origin, Keys: keys, Clock: ts}
	if err := c.bus.Publish(ctx, change); err != nil {
		c.logger.Warn("syncer: publish change", slog.Any("error", err))
	}
}

// onChange reloads state written by another instance sharing the store.
func (c *Coordinator) onChange(change bus.Change) {
	if change.Origin == c.origin {
		return
	}
	ctx, cancel := context.WithTimeout(c.baseContext(), c.timeout)
	defer cancel()
	env, err := c.store.Snapshot(ctx)
	if err != nil {
		c.logger.Error("syncer: reload after change", slog.String("origin", change.Origin), slog.Any("error", err))
		return
	}
	inv, est := touches(change.Keys)
	c.fanOut(env.Inventory, env.Estimates, inv, est)
}

func touches(keys []string) (inv, est bool) {
	for _, k := range keys {
		switch k {
		case dataset.KeyInventory:
			inv = true
		case dataset.KeyEstimates:
			est = true
		}
	}
	return inv, est
}

// Trigger schedules a reconcile in the background. Its outcome is only
// visible through the status subscription.
func (c *Coordinator) Trigger() {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return
	}
	ctx := c.runCtx
	c.tasks.Add(1)
	c.lifeMu.Unlock()

	go func() {
		defer c.tasks.Done()
		if _, err := c.Reconcile(ctx); err != nil {
			c.logger.Warn("syncer: background reconcile failed", slog.Any("error", err))
		}
	}()
}

// Activate is the liveness signal sent when the user returns to the app.
func (c *Coordinator) Activate() {
	c.Trigger()
}

// Wait blocks until every triggered reconcile has finished.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

// Start subscribes to the change bus, starts polling and runs a first
// reconcile. It returns once the loops are running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.cancel != nil || c.stopped {
		c.lifeMu.Unlock()
		return fmt.Errorf("syncer: coordinator already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	if c.bus != nil {
		unsubscribe, err := c.bus.Subscribe(runCtx, c.onChange)
		if err != nil {
			c.lifeMu.Unlock()
			cancel()
			return fmt.Errorf("syncer: subscribe change bus: %w", err)
		}
		c.unsubscribe = unsubscribe
	}
	c.runCtx = runCtx
	c.cancel = cancel
	if c.poll > 0 {
		c.loops.Add(1)
		go c.pollLoop(runCtx)
	}
	c.lifeMu.Unlock()

	c.Trigger()
	return nil
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Trigger()
		}
	}
}

// Stop cancels polling and in-flight work and waits for them to exit.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	c.stopped = true
	cancel := c.cancel
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.lifeMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	c.loops.Wait()
	c.tasks.Wait()
}

// SubscribeInventory registers fn for inventory replacements.
func (c *Coordinator) SubscribeInventory(fn func([]inventory.Item)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.invSubs[id] = fn
	return func() {
		c.subsMu.Lock()
		delete(c.invSubs, id)
		c.subsMu.Unlock()
	}
}

// SubscribeEstimates registers fn for estimate replacements.
func (c *Coordinator) SubscribeEstimates(fn func([]sales.Estimate)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.estSubs[id] = fn
	return func() {
		c.subsMu.Lock()
		delete(c.estSubs, id)
		c.subsMu.Unlock()
	}
}

// SubscribeStatus registers fn and calls it with the current status.
func (c *Coordinator) SubscribeStatus(fn func(Status)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.statusSubs[id] = fn
	c.subsMu.Unlock()
	fn(c.Status())
	return func() {
		c.subsMu.Lock()
		delete(c.statusSubs, id)
		c.subsMu.Unlock()
	}
}

func (c *Coordinator) fanOut(items []inventory.Item, estimates []sales.Estimate, inv, est bool) {
	c.subsMu.Lock()
	var invFns []func([]inventory.Item)
	var estFns []func([]sales.Estimate)
	if inv {
		for _, fn := range c.invSubs {
			invFns = append(invFns, fn)
		}
	}
	if est {
		for _, fn := range c.estSubs {
			estFns = append(estFns, fn)
		}
	}
	c.subsMu.Unlock()

	for _, fn := range invFns {
		fn(items)
	}
	for _, fn := range estFns {
		fn(estimates)
	}
}

func (c *Coordinator) setStatus(s Status) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()

	c.subsMu.Lock()
	fns := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Coordinator) fail(err error, status Status) {
	status.State = StateError
	status.Message = Classify(err)
	c.setStatus(status)
	c.logger.Warn("syncer: sync failed", slog.String("message", status.Message), slog.Any("error", err))
}

func (c *Coordinator) record(result Result, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.ObserveReconcile(string(result), elapsed)
	}
}

func (c *Coordinator) currentReplica() remote.Replica {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.replica
}

func (c *Coordinator) baseContext() context.Context {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.runCtx
}
