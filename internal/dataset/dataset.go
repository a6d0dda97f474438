// Package dataset is the typed view of the local working copy: the inventory
// list, the estimate list, the logical clock and the remote configuration,
// each stored under its own key.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/platform/kv"
	"github.com/shopledger/shopledger/internal/sales"
)

// Keys under which the working copy is persisted.
const (
	KeyInventory = "inventory"
	KeyEstimates = "estimates"
	KeyClock     = "sync_clock"
	KeyRemote    = "sync_remote"
)

// ErrLocalStore marks persistence failures. They are fatal for the mutation
// that caused them.
var ErrLocalStore = errors.New("local store failure")

// Envelope is the full exported state, replicated as one unit.
type Envelope struct {
	Inventory []inventory.Item `json:"inventory"`
	Estimates []sales.Estimate `json:"estimates"`
	Timestamp int64            `json:"timestamp"`
}

// Empty reports whether the envelope carries no records.
func (e Envelope) Empty() bool {
	return len(e.Inventory) == 0 && len(e.Estimates) == 0
}

// Normalize replaces nil lists with empty ones so they encode as [].
func (e Envelope) Normalize() Envelope {
	if e.Inventory == nil {
		e.Inventory = []inventory.Item{}
	}
	if e.Estimates == nil {
		e.Estimates = []sales.Estimate{}
	}
	return e
}

// RemoteConfig is the persisted replica endpoint and its bearer token.
type RemoteConfig struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Token    string `json:"token" validate:"required"`
}

// Repository reads and writes the working copy through a kv.Store.
type Repository struct {
	store kv.Store
}

// New wraps store.
func New(store kv.Store) *Repository {
	return &Repository{store: store}
}

// LoadInventory returns the stored items; a never-written list is empty.
func (r *Repository) LoadInventory(ctx context.Context) ([]inventory.Item, error) {
	var items []inventory.Item
	if err := r.getJSON(ctx, KeyInventory, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveInventory replaces the stored items.
func (r *Repository) SaveInventory(ctx context.Context, items []inventory.Item) error {
	if items == nil {
		items = []inventory.Item{}
	}
	return r.putJSON(ctx, KeyInventory, items)
}

// LoadEstimates returns the stored estimates; a never-written list is empty.
func (r *Repository) LoadEstimates(ctx context.Context) ([]sales.Estimate, error) {
	var estimates []sales.Estimate
	if err := r.getJSON(ctx, KeyEstimates, &estimates); err != nil {
		return nil, err
	}
	return estimates, nil
}

// SaveEstimates replaces the stored estimates.
func (r *Repository) SaveEstimates(ctx context.Context, estimates []sales.Estimate) error {
	if estimates == nil {
		estimates = []sales.Estimate{}
	}
	return r.putJSON(ctx, KeyEstimates, estimates)
}

// LoadClock returns the persisted logical clock, zero when never written.
func (r *Repository) LoadClock(ctx context.Context) (int64, error) {
	raw, err := r.store.Get(ctx, KeyClock)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dataset: load clock: %w: %w", ErrLocalStore, err)
	}
	value, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dataset: parse clock %q: %w: %w", raw, ErrLocalStore, err)
	}
	return value, nil
}

// SaveClock persists the logical clock.
func (r *Repository) SaveClock(ctx context.Context, value int64) error {
	if err := r.store.Put(ctx, KeyClock, []byte(strconv.FormatInt(value, 10))); err != nil {
		return fmt.Errorf("dataset: save clock: %w: %w", ErrLocalStore, err)
	}
	return nil
}

// LoadRemote returns the persisted remote configuration. ok is false when
// none has been saved.
func (r *Repository) LoadRemote(ctx context.Context) (cfg RemoteConfig, ok bool, err error) {
	raw, err := r.store.Get(ctx, KeyRemote)
	if errors.Is(err, kv.ErrNotFound) {
		return RemoteConfig{}, false, nil
	}
	if err != nil {
		return RemoteConfig{}, false, fmt.Errorf("dataset: load remote: %w: %w", ErrLocalStore, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return RemoteConfig{}, false, fmt.Errorf("dataset: decode remote: %w: %w", ErrLocalStore, err)
	}
	return cfg, cfg.Endpoint != "", nil
}

// SaveRemote persists the remote configuration.
func (r *Repository) SaveRemote(ctx context.Context, cfg RemoteConfig) error {
	return r.putJSON(ctx, KeyRemote, cfg)
}

// Snapshot exports the working copy tagged with the current clock.
func (r *Repository) Snapshot(ctx context.Context) (Envelope, error) {
	items, err := r.LoadInventory(ctx)
	if err != nil {
		return Envelope{}, err
	}
	estimates, err := r.LoadEstimates(ctx)
	if err != nil {
		return Envelope{}, err
	}
	ts, err := r.LoadClock(ctx)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Inventory: items, Estimates: estimates, Timestamp: ts}.Normalize(), nil
}

// Apply replaces both lists with the envelope contents. The clock is left to
// the caller so a crash between writes never advances it past the data.
func (r *Repository) Apply(ctx context.Context, env Envelope) error {
	env = env.Normalize()
	inv, err := json.Marshal(env.Inventory)
	if err != nil {
		return fmt.Errorf("dataset: encode inventory: %w", err)
	}
	est, err := json.Marshal(env.Estimates)
	if err != nil {
		return fmt.Errorf("dataset: encode estimates: %w", err)
	}
	if err := kv.PutAll(ctx, r.store, map[string][]byte{KeyInventory: inv, KeyEstimates: est}); err != nil {
		return fmt.Errorf("dataset: apply snapshot: %w: %w", ErrLocalStore, err)
	}
	return nil
}

func (r *Repository) getJSON(ctx context.Context, key string, target any) error {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dataset: load %s: %w: %w", key, ErrLocalStore, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("dataset: decode %s: %w: %w", key, ErrLocalStore, err)
	}
	return nil
}

func (r *Repository) putJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("dataset: encode %s: %w", key, err)
	}
	if err := r.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("dataset: save %s: %w: %w", key, ErrLocalStore, err)
	}
	return nil
}
