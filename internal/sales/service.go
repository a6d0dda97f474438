package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shopledger/shopledger/internal/inventory"
)

// RepositoryPort abstracts the persisted estimate list.
type RepositoryPort interface {
	LoadEstimates(ctx context.Context) ([]Estimate, error)
	SaveEstimates(ctx context.Context, estimates []Estimate) error
}

// StockPort applies inventory deltas caused by confirmation changes.
type StockPort interface {
	AdjustStock(ctx context.Context, adjustments []inventory.Adjustment) error
}

// Notifier is told after every durable estimate write.
type Notifier interface {
	NotifyEstimates(ctx context.Context) error
}

// Options configures Service.
type Options struct {
	InvoicePrefix string
	Now           func() time.Time
	Logger        *slog.Logger
}

// Service manages the estimate lifecycle.
type Service struct {
	repo     RepositoryPort
	stock    StockPort
	notifier Notifier
	validate *validator.Validate
	prefix   string
	now      func() time.Time
	logger   *slog.Logger
}

// NewService builds Service. stock and notifier may be nil.
func NewService(repo RepositoryPort, stock StockPort, notifier Notifier, opts Options) *Service {
	if opts.InvoicePrefix == "" {
		opts.InvoicePrefix = "INV-"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		stock:    stock,
		notifier: notifier,
		validate: validator.New(),
		prefix:   opts.InvoicePrefix,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// List returns every estimate, newest date first.
func (s *Service) List(ctx context.Context) ([]Estimate, error) {
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(estimates, func(i, j int) bool {
		return estimates[i].DateValue().After(estimates[j].DateValue())
	})
	return estimates, nil
}

// Get returns the estimate with id.
func (s *Service) Get(ctx context.Context, id string) (Estimate, error) {
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return Estimate{}, err
	}
	idx := indexByID(estimates, id)
	if idx < 0 {
		return Estimate{}, ErrEstimateNotFound
	}
	return estimates[idx], nil
}

// Save creates or updates an estimate. Status and payment history are owned
// by Confirm, RevertToDraft and the allocator; Save keeps the stored values.
// Editing a confirmed estimate moves stock by the quantity difference.
func (s *Service) Save(ctx context.Context, input Estimate) (Estimate, error) {
	if err := s.validate.Struct(input); err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return Estimate{}, err
	}
	now := s.now()

	idx := -1
	if input.ID != "" {
		idx = indexByID(estimates, input.ID)
	}
	var adjustments []inventory.Adjustment
	if idx < 0 {
		if input.ID == "" {
			input.ID = uuid.NewString()
		}
		if input.Date == "" {
			input.Date = now.Format("2006-01-02")
		}
		if input.Status == "" {
			input.Status = StatusDraft
		}
		if input.Status == StatusConfirmed && input.InvoiceNumber == "" {
			return Estimate{}, fmt.Errorf("%w: confirmed estimate needs an invoice number", ErrValidation)
		}
		input.SyncAmountPaid()
		input.RefreshPaymentStatus()
		input.Touch(now)
		estimates = append(estimates, input)
		if input.IsConfirmed() {
			adjustments = diffUsage(nil, input.stockUsage())
		}
	} else {
		stored := estimates[idx]
		if stored.InvoiceNumber != "" && input.InvoiceNumber != "" && input.InvoiceNumber != stored.InvoiceNumber {
			return Estimate{}, fmt.Errorf("%w: %s", ErrInvoiceNumberImmutable, stored.InvoiceNumber)
		}
		input.InvoiceNumber = stored.InvoiceNumber
		input.Status = stored.Status
		input.PaymentHistory = stored.PaymentHistory
		input.AmountPaid = stored.AmountPaid
		if input.Date == "" {
			input.Date = stored.Date
		}
		input.RefreshPaymentStatus()
		input.Touch(now)
		if stored.IsConfirmed() {
			adjustments = diffUsage(stored.stockUsage(), input.stockUsage())
		}
		estimates[idx] = input
	}

	if err := s.commit(ctx, estimates, adjustments); err != nil {
		return Estimate{}, err
	}
	return input, nil
}

// Confirm turns a draft into an invoice. The invoice number is assigned on
// the first confirmation only and stock is deducted for linked lines.
func (s *Service) Confirm(ctx context.Context, id string) (Estimate, error) {
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return Estimate{}, err
	}
	idx := indexByID(estimates, id)
	if idx < 0 {
		return Estimate{}, ErrEstimateNotFound
	}
	est := estimates[idx]
	if est.IsConfirmed() {
		return Estimate{}, fmt.Errorf("%w: %s already confirmed", ErrInvalidTransition, id)
	}
	if len(est.Items) == 0 {
		return Estimate{}, fmt.Errorf("%w: estimate has no items", ErrValidation)
	}
	if est.InvoiceNumber == "" {
		est.InvoiceNumber = s.nextInvoiceNumber(estimates)
	}
	est.Status = StatusConfirmed
	est.RefreshPaymentStatus()
	est.Touch(s.now())
	estimates[idx] = est

	if err := s.commit(ctx, estimates, diffUsage(nil, est.stockUsage())); err != nil {
		return Estimate{}, err
	}
	s.logger.Info("sales: estimate confirmed", slog.String("estimate_id", est.ID), slog.String("invoice_number", est.InvoiceNumber))
	return est, nil
}

// RevertToDraft returns a confirmed estimate to draft and restores stock. The
// invoice number is kept.
func (s *Service) RevertToDraft(ctx context.Context, id string) (Estimate, error) {
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return Estimate{}, err
	}
	idx := indexByID(estimates, id)
	if idx < 0 {
		return Estimate{}, ErrEstimateNotFound
	}
	est := estimates[idx]
	if !est.IsConfirmed() {
		return Estimate{}, fmt.Errorf("%w: %s is not confirmed", ErrInvalidTransition, id)
	}
	est.Status = StatusDraft
	est.Touch(s.now())
	estimates[idx] = est

	if err := s.commit(ctx, estimates, diffUsage(est.stockUsage(), nil)); err != nil {
		return Estimate{}, err
	}
	return est, nil
}

// Delete removes an estimate, restoring stock when it was confirmed.
func (s *Service) Delete(ctx context.Context, id string) error {
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return err
	}
	idx := indexByID(estimates, id)
	if idx < 0 {
		return ErrEstimateNotFound
	}
	removed := estimates[idx]
	estimates = append(estimates[:idx], estimates[idx+1:]...)

	var adjustments []inventory.Adjustment
	if removed.IsConfirmed() {
		adjustments = diffUsage(removed.stockUsage(), nil)
	}
	return s.commit(ctx, estimates, adjustments)
}

// DeletePayment removes one history entry and recomputes the payment status.
func (s *Service) DeletePayment(ctx context.Context, estimateID, paymentID string) (Estimate, error) {
	estimates, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return Estimate{}, err
	}
	idx := indexByID(estimates, estimateID)
	if idx < 0 {
		return Estimate{}, ErrEstimateNotFound
	}
	est := estimates[idx]
	pos := -1
	for i, p := range est.PaymentHistory {
		if p.ID == paymentID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Estimate{}, ErrPaymentNotFound
	}
	history := make([]PaymentEntry, 0, len(est.PaymentHistory)-1)
	history = append(history, est.PaymentHistory[:pos]...)
	history = append(history, est.PaymentHistory[pos+1:]...)
	est.PaymentHistory = history
	if len(history) == 0 {
		est.PaymentHistory = nil
		zero := 0.0
		est.AmountPaid = &zero
	} else {
		est.SyncAmountPaid()
	}
	est.RefreshPaymentStatus()
	est.Touch(s.now())
	estimates[idx] = est

	if err := s.commit(ctx, estimates, nil); err != nil {
		return Estimate{}, err
	}
	return est, nil
}

// nextInvoiceNumber returns prefix followed by one more than the highest
// sequence already issued under that prefix.
func (s *Service) nextInvoiceNumber(estimates []Estimate) string {
	highest := 0
	for _, est := range estimates {
		if !strings.HasPrefix(est.InvoiceNumber, s.prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(est.InvoiceNumber, s.prefix))
		if err != nil {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return fmt.Sprintf("%s%04d", s.prefix, highest+1)
}

// commit saves the estimates first and then moves stock, so a failed stock
// write never leaves an unsaved estimate behind.
func (s *Service) commit(ctx context.Context, estimates []Estimate, adjustments []inventory.Adjustment) error {
	if err := s.repo.SaveEstimates(ctx, estimates); err != nil {
		return err
	}
	if len(adjustments) > 0 && s.stock != nil {
		if err := s.stock.AdjustStock(ctx, adjustments); err != nil {
			return fmt.Errorf("sales: adjust stock: %w", err)
		}
	}
	if s.notifier != nil {
		return s.notifier.NotifyEstimates(ctx)
	}
	return nil
}

// diffUsage turns old and new consumption into stock deltas. Consuming more
// lowers stock.
func diffUsage(before, after map[string]int) []inventory.Adjustment {
	ids := make(map[string]struct{}, len(before)+len(after))
	for id := range before {
		ids[id] = struct{}{}
	}
	for id := range after {
		ids[id] = struct{}{}
	}
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	var out []inventory.Adjustment
	for _, id := range keys {
		delta := before[id] - after[id]
		if delta != 0 {
			out = append(out, inventory.Adjustment{ItemID: id, Delta: delta})
		}
	}
	return out
}

func indexByID(estimates []Estimate, id string) int {
	for i := range estimates {
		if estimates[i].ID == id {
			return i
		}
	}
	return -1
}
