package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RepositoryPort abstracts the persisted inventory list.
type RepositoryPort interface {
	LoadInventory(ctx context.Context) ([]Item, error)
	SaveInventory(ctx context.Context, items []Item) error
}

// Notifier is told after every durable inventory write.
type Notifier interface {
	NotifyInventory(ctx context.Context) error
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service. notifier may be nil.
func NewService(repo RepositoryPort, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, validate: validator.New(), logger: logger}
}

// List returns every item.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.repo.LoadInventory(ctx)
}

// Get returns the item with id.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	items, err := s.repo.LoadInventory(ctx)
	if err != nil {
		return Item{}, err
	}
	if idx := indexByID(items, id); idx >= 0 {
		return items[idx], nil
	}
	return Item{}, ErrItemNotFound
}

// Add inserts input. When input has no id and an item with the same product
// name exists (case-insensitive), input is merged into it: stock is added and
// non-empty descriptive fields overwrite the stored ones.
func (s *Service) Add(ctx context.Context, input Item) (Item, error) {
	if err := s.check(input); err != nil {
		return Item{}, err
	}
	items, err := s.repo.LoadInventory(ctx)
	if err != nil {
		return Item{}, err
	}
	items, saved, _, err := upsert(items, input)
	if err != nil {
		return Item{}, err
	}
	if err := s.commit(ctx, items); err != nil {
		return Item{}, err
	}
	return saved, nil
}

// Import adds every input with the same dedup rule as Add in a single write.
func (s *Service) Import(ctx context.Context, inputs []Item) (ImportResult, error) {
	for i, in := range inputs {
		if err := s.check(in); err != nil {
			return ImportResult{}, fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	items, err := s.repo.LoadInventory(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	var result ImportResult
	for _, in := range inputs {
		var merged bool
		items, _, merged, err = upsert(items, in)
		if err != nil {
			return ImportResult{}, err
		}
		if merged {
			result.Merged++
		} else {
			result.Added++
		}
	}
	if err := s.commit(ctx, items); err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// Update replaces the stored item carrying input.ID.
func (s *Service) Update(ctx context.Context, input Item) (Item, error) {
	if input.ID == "" {
		return Item{}, fmt.Errorf("%w: id required", ErrValidation)
	}
	if err := s.check(input); err != nil {
		return Item{}, err
	}
	items, err := s.repo.LoadInventory(ctx)
	if err != nil {
		return Item{}, err
	}
	idx := indexByID(items, input.ID)
	if idx < 0 {
		return Item{}, ErrItemNotFound
	}
	items[idx] = input
	if err := s.commit(ctx, items); err != nil {
		return Item{}, err
	}
	return input, nil
}

// Delete removes the item with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	items, err := s.repo.LoadInventory(ctx)
	if err != nil {
		return err
	}
	idx := indexByID(items, id)
	if idx < 0 {
		return ErrItemNotFound
	}
	items = append(items[:idx], items[idx+1:]...)
	return s.commit(ctx, items)
}

// AdjustStock applies signed deltas. Adjustments naming items that no longer
// exist are skipped.
func (s *Service) AdjustStock(ctx context.Context, adjustments []Adjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	items, err := s.repo.LoadInventory(ctx)
	if err != nil {
		return err
	}
	changed := false
	for _, adj := range adjustments {
		if adj.Delta == 0 || adj.ItemID == "" {
			continue
		}
		idx := indexByID(items, adj.ItemID)
		if idx < 0 {
			s.logger.Warn("inventory: skip adjustment for missing item", slog.String("item_id", adj.ItemID), slog.Int("delta", adj.Delta))
			continue
		}
		items[idx].Stock += adj.Delta
		changed = true
	}
	if !changed {
		return nil
	}
	return s.commit(ctx, items)
}

func (s *Service) check(item Item) error {
	if err := s.validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (s *Service) commit(ctx context.Context, items []Item) error {
	if err := s.repo.SaveInventory(ctx, items); err != nil {
		return err
	}
	if s.notifier != nil {
		return s.notifier.NotifyInventory(ctx)
	}
	return nil
}

func upsert(items []Item, in Item) ([]Item, Item, bool, error) {
	if in.ID != "" {
		if indexByID(items, in.ID) >= 0 {
			return nil, Item{}, false, fmt.Errorf("%w: %s", ErrItemExists, in.ID)
		}
		return append(items, in), in, false, nil
	}
	key := in.NameKey()
	for i := range items {
		if items[i].NameKey() != key {
			continue
		}
		items[i] = mergeInto(items[i], in)
		return items, items[i], true, nil
	}
	in.ID = uuid.NewString()
	return append(items, in), in, false, nil
}

func mergeInto(existing, in Item) Item {
	existing.Stock += in.Stock
	if in.Vendor != "" {
		existing.Vendor = in.Vendor
	}
	if in.Date != "" {
		existing.Date = in.Date
	}
	if in.MRP > 0 {
		existing.MRP = in.MRP
	}
	if in.Discount > 0 {
		existing.Discount = in.Discount
	}
	if in.GST > 0 {
		existing.GST = in.GST
	}
	if in.LandingPrice > 0 {
		existing.LandingPrice = in.LandingPrice
	}
	if in.Note != "" {
		existing.Note = in.Note
	}
	return existing
}

func indexByID(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
