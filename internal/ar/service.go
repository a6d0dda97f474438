package ar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/shopledger/shopledger/internal/sales"
)

// RepositoryPort abstracts the persisted estimate list.
type RepositoryPort interface {
	LoadEstimates(ctx context.Context) ([]sales.Estimate, error)
	SaveEstimates(ctx context.Context, estimates []sales.Estimate) error
}

// Notifier is told after every durable estimate write.
type Notifier interface {
	NotifyEstimates(ctx context.Context) error
}

// AgingBucket summarises outstanding amounts by days since the invoice date.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"days30"`
	Bucket60  float64 `json:"days60"`
	Bucket90  float64 `json:"days90"`
	Bucket120 float64 `json:"days120Plus"`
}

// CustomerBalance is one ledger row.
type CustomerBalance struct {
	Key      string      `json:"key"`
	Name     string      `json:"name"`
	Phone    string      `json:"phone,omitempty"`
	Invoices int         `json:"invoices"`
	Billed   float64     `json:"billed"`
	Paid     float64     `json:"paid"`
	Due      float64     `json:"due"`
	Aging    AgingBucket `json:"aging"`
}

// Service handles receivable operations.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewService builds Service. notifier and now may be nil.
func NewService(repo RepositoryPort, notifier Notifier, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, validate: validator.New(), now: now, logger: logger}
}

// AllocatePayment records payment against targetID and spills any surplus
// onto the customer's older invoices.
func (s *Service) AllocatePayment(ctx context.Context, targetID string, payment Payment) (Allocation, error) {
	if err := s.validate.Struct(payment); err != nil {
		return Allocation{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	records, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return Allocation{}, err
	}
	allocation, err := Allocate(records, targetID, payment, s.now())
	if err != nil {
		return Allocation{}, err
	}
	if err := s.repo.SaveEstimates(ctx, records); err != nil {
		return Allocation{}, err
	}
	s.logger.Info("ar: payment allocated",
		slog.String("target_id", targetID),
		slog.Float64("amount", payment.Amount),
		slog.Int("records", len(allocation.Postings)))
	if s.notifier != nil {
		if err := s.notifier.NotifyEstimates(ctx); err != nil {
			return Allocation{}, err
		}
	}
	return allocation, nil
}

// Ledger groups confirmed invoices by customer key and ages what is still due
// as of asOf. Rows are ordered by due, largest first.
func (s *Service) Ledger(ctx context.Context, asOf time.Time) ([]CustomerBalance, error) {
	records, err := s.repo.LoadEstimates(ctx)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	return BuildLedger(records, asOf), nil
}

// BuildLedger is the pure part of Ledger.
func BuildLedger(records []sales.Estimate, asOf time.Time) []CustomerBalance {
	type acc struct {
		row                     CustomerBalance
		billed, paid, due       decimal.Decimal
		cur, d30, d60, d90, old decimal.Decimal
	}
	byKey := make(map[string]*acc)
	var keys []string
	for _, rec := range records {
		if !rec.IsConfirmed() {
			continue
		}
		key := rec.Customer.Key()
		a, ok := byKey[key]
		if !ok {
			a = &acc{row: CustomerBalance{Key: key, Name: rec.Customer.DisplayName(), Phone: rec.Customer.Phone}}
			byKey[key] = a
			keys = append(keys, key)
		}
		a.row.Invoices++
		a.billed = a.billed.Add(decimal.NewFromFloat(rec.Total()))
		a.paid = a.paid.Add(decimal.NewFromFloat(rec.Paid()))

		due := dueOf(rec)
		if due.LessThanOrEqual(tolerance) {
			continue
		}
		a.due = a.due.Add(due)
		days := int(asOf.Sub(rec.DateValue()).Hours() / 24)
		switch {
		case days <= 0:
			a.cur = a.cur.Add(due)
		case days <= 30:
			a.d30 = a.d30.Add(due)
		case days <= 60:
			a.d60 = a.d60.Add(due)
		case days <= 90:
			a.d90 = a.d90.Add(due)
		default:
			a.old = a.old.Add(due)
		}
	}

	out := make([]CustomerBalance, 0, len(keys))
	for _, key := range keys {
		a := byKey[key]
		row := a.row
		row.Billed = a.billed.Round(2).InexactFloat64()
		row.Paid = a.paid.Round(2).InexactFloat64()
		row.Due = a.due.Round(2).InexactFloat64()
		row.Aging = AgingBucket{
			Current:   a.cur.InexactFloat64(),
			Bucket30:  a.d30.InexactFloat64(),
			Bucket60:  a.d60.InexactFloat64(),
			Bucket90:  a.d90.InexactFloat64(),
			Bucket120: a.old.InexactFloat64(),
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Due > out[j].Due })
	return out
}
