// Package ar distributes customer payments across outstanding invoices and
// reports what each customer still owes.
package ar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopledger/shopledger/internal/sales"
)

var (
	// ErrInvalidAmount indicates a non-positive payment.
	ErrInvalidAmount = errors.New("ar: payment amount must be positive")
	// ErrTargetNotConfirmed indicates payment against a draft.
	ErrTargetNotConfirmed = errors.New("ar: target invoice is not confirmed")
	// ErrValidation wraps payment validation failures.
	ErrValidation = errors.New("ar: validation failed")
)

// OpeningBalanceNote labels the entry that carries a legacy cached amount into
// a record's first history.
const OpeningBalanceNote = "Opening balance"

// OpeningBalancePrefix starts the ID of a migrated opening-balance entry; the
// rest is the record ID, so the entry is stable across replays.
const OpeningBalancePrefix = "opening-"

// IsOpeningBalance reports whether entry was migrated from a cached amount
// rather than posted by a payment.
func IsOpeningBalance(entry sales.PaymentEntry) bool {
	return strings.HasPrefix(entry.ID, OpeningBalancePrefix)
}

// Payment is an incoming receipt.
type Payment struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Date   string  `json:"date"`
	Note   string  `json:"note"`
}

// Posting is the single entry one allocate call appended to one record.
type Posting struct {
	EstimateID    string             `json:"estimateId"`
	InvoiceNumber string             `json:"invoiceNumber"`
	Entry         sales.PaymentEntry `json:"entry"`
	Advance       float64            `json:"advance,omitempty"`
}

// Allocation reports every record touched by one payment.
type Allocation struct {
	TargetID string    `json:"targetId"`
	Postings []Posting `json:"postings"`
}

var tolerance = decimal.NewFromFloat(sales.PaymentTolerance)

// Allocate applies payment to the target estimate first, then to the same
// customer's other confirmed estimates oldest first, and finally books any
// surplus on the target as an advance. The amount is allocated exactly, so
// the postings always sum to it. records is mutated in place; each touched
// record gains exactly one payment entry and a fresh LastModified. A legacy
// record that only carries a cached AmountPaid also gains an opening-balance
// entry ahead of it, recognisable through IsOpeningBalance and never listed
// in the postings.
func Allocate(records []sales.Estimate, targetID string, payment Payment, at time.Time) (Allocation, error) {
	amount := decimal.NewFromFloat(payment.Amount)
	if !amount.IsPositive() {
		return Allocation{}, ErrInvalidAmount
	}
	target := -1
	for i := range records {
		if records[i].ID == targetID {
			target = i
			break
		}
	}
	if target < 0 {
		return Allocation{}, fmt.Errorf("ar: allocate %s: %w", targetID, sales.ErrEstimateNotFound)
	}
	if !records[target].IsConfirmed() {
		return Allocation{}, fmt.Errorf("ar: allocate %s: %w", targetID, ErrTargetNotConfirmed)
	}

	credits := make(map[int]decimal.Decimal)
	var order []int
	credit := func(idx int, value decimal.Decimal) {
		if _, ok := credits[idx]; !ok {
			order = append(order, idx)
		}
		credits[idx] = credits[idx].Add(value)
	}

	remaining := amount
	if due := dueOf(records[target]); due.IsPositive() {
		applied := decimal.Min(remaining, due)
		credit(target, applied)
		remaining = remaining.Sub(applied)
	}

	if remaining.IsPositive() {
		for _, idx := range siblings(records, target) {
			if !remaining.IsPositive() {
				break
			}
			applied := decimal.Min(remaining, dueOf(records[idx]))
			credit(idx, applied)
			remaining = remaining.Sub(applied)
		}
	}

	advance := decimal.Zero
	if remaining.IsPositive() {
		advance = remaining
		credit(target, remaining)
	}

	if payment.Date == "" {
		payment.Date = at.Format("2006-01-02")
	}
	targetNumber := records[target].InvoiceNumber
	result := Allocation{TargetID: targetID, Postings: make([]Posting, 0, len(order))}
	for _, idx := range order {
		rec := &records[idx]
		entry := sales.PaymentEntry{
			ID:     uuid.NewString(),
			Amount: credits[idx].InexactFloat64(),
			Date:   payment.Date,
			Note:   entryNote(payment.Note, targetNumber, idx == target, idx == target && advance.IsPositive()),
		}
		if len(rec.PaymentHistory) == 0 && rec.AmountPaid != nil && *rec.AmountPaid > 0 {
			rec.PaymentHistory = append(rec.PaymentHistory, sales.PaymentEntry{
				ID:     OpeningBalancePrefix + rec.ID,
				Amount: *rec.AmountPaid,
				Date:   rec.Date,
				Note:   OpeningBalanceNote,
			})
		}
		rec.PaymentHistory = append(rec.PaymentHistory, entry)
		rec.SyncAmountPaid()
		rec.RefreshPaymentStatus()
		posting := Posting{EstimateID: rec.ID, InvoiceNumber: rec.InvoiceNumber, Entry: entry}
		if idx == target && advance.IsPositive() {
			rec.PaymentStatus = sales.PaymentPaid
			posting.Advance = advance.InexactFloat64()
		}
		rec.Touch(at)
		result.Postings = append(result.Postings, posting)
	}
	return result, nil
}

// dueOf is total minus paid, rounded to paise and floored at zero.
func dueOf(rec sales.Estimate) decimal.Decimal {
	due := decimal.NewFromFloat(rec.Total()).Sub(decimal.NewFromFloat(rec.Paid())).Round(2)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// siblings lists the other confirmed, non-empty records of the target's
// customer that still owe more than the tolerance, oldest first.
func siblings(records []sales.Estimate, target int) []int {
	key := records[target].Customer.Key()
	var out []int
	for i := range records {
		if i == target {
			continue
		}
		rec := records[i]
		if !rec.IsConfirmed() || len(rec.Items) == 0 || rec.Customer.Key() != key {
			continue
		}
		if dueOf(rec).LessThanOrEqual(tolerance) {
			continue
		}
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, b int) bool {
		da, db := records[out[a]].DateValue(), records[out[b]].DateValue()
		if !da.Equal(db) {
			return da.Before(db)
		}
		return records[out[a]].InvoiceNumber < records[out[b]].InvoiceNumber
	})
	return out
}

func entryNote(note, targetNumber string, isTarget, withAdvance bool) string {
	switch {
	case isTarget && withAdvance && note != "":
		return note + " (includes advance)"
	case isTarget && withAdvance:
		return "Payment (includes advance)"
	case isTarget && note != "":
		return note
	case isTarget:
		return "Payment"
	case note != "":
		return fmt.Sprintf("%s (allocated from %s)", note, targetNumber)
	default:
		return "Allocated from " + targetNumber
	}
}
