package sales

import (
	"errors"
	"strings"
	"time"

	"github.com/shopledger/shopledger/internal/shared"
)

var (
	// ErrEstimateNotFound indicates no estimate carries the requested id.
	ErrEstimateNotFound = errors.New("sales: estimate not found")
	// ErrPaymentNotFound indicates the payment entry is not in the history.
	ErrPaymentNotFound = errors.New("sales: payment not found")
	// ErrInvalidTransition indicates the status change is not allowed.
	ErrInvalidTransition = errors.New("sales: invalid status transition")
	// ErrInvoiceNumberImmutable indicates an attempt to change an assigned number.
	ErrInvoiceNumberImmutable = errors.New("sales: invoice number is immutable")
	// ErrValidation wraps field validation failures.
	ErrValidation = errors.New("sales: validation failed")
)

// PaymentTolerance is the rounding slack, in currency units, used by every
// paid/due comparison.
const PaymentTolerance = 1.0

// ============================================================================
// STATUS
// ============================================================================

// Status is the lifecycle state of an estimate.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
)

// PaymentStatus summarises how much of the total has been collected.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// ============================================================================
// CUSTOMER
// ============================================================================

// Customer is the snapshot of the buyer stored on each estimate.
type Customer struct {
	Name    string `json:"name" validate:"required,max=200"`
	Firm    string `json:"firmName,omitempty" validate:"max=200"`
	Phone   string `json:"phone,omitempty" validate:"max=50"`
	Address string `json:"address,omitempty"`
	GSTIN   string `json:"gstin,omitempty" validate:"max=20"`
}

// Key identifies the customer for grouping and allocation: the folded
// firm-or-name joined with the folded phone.
func (c Customer) Key() string {
	display := c.Firm
	if strings.TrimSpace(display) == "" {
		display = c.Name
	}
	return shared.FoldKey(display) + "|" + shared.FoldKey(c.Phone)
}

// DisplayName returns the firm when present, else the person.
func (c Customer) DisplayName() string {
	if strings.TrimSpace(c.Firm) != "" {
		return c.Firm
	}
	return c.Name
}

// ============================================================================
// LINE ITEMS
// ============================================================================

// Line is one priced row of an estimate. It snapshots the inventory prices at
// the time it was added.
type Line struct {
	ItemID        string  `json:"itemId,omitempty"`
	ProductName   string  `json:"productName" validate:"required,max=200"`
	MRP           float64 `json:"mrp" validate:"gte=0"`
	GST           float64 `json:"gst" validate:"gte=0,lte=100"`
	LandingPrice  float64 `json:"landingPrice" validate:"gte=0"`
	MarginPercent float64 `json:"marginPercent"`
	SellingBasic  float64 `json:"sellingBasic" validate:"gte=0"`
	Quantity      int     `json:"quantity" validate:"gte=0"`
}

// SetLandingPrice updates the cost and re-derives the selling price from the
// current margin.
func (l *Line) SetLandingPrice(v float64) {
	l.LandingPrice = v
	l.SellingBasic = l.LandingPrice * (1 + l.MarginPercent/100)
}

// SetMargin updates the margin and re-derives the selling price.
func (l *Line) SetMargin(percent float64) {
	l.MarginPercent = percent
	l.SellingBasic = l.LandingPrice * (1 + l.MarginPercent/100)
}

// SetSellingBasic sets the pre-tax price directly and back-computes the margin.
// A zero landing price leaves the margin at zero.
func (l *Line) SetSellingBasic(v float64) {
	l.SellingBasic = v
	if l.LandingPrice == 0 {
		l.MarginPercent = 0
		return
	}
	l.MarginPercent = (l.SellingBasic/l.LandingPrice - 1) * 100
}

// Total is the tax-inclusive line amount.
func (l Line) Total() float64 {
	return l.SellingBasic * (1 + l.GST/100) * float64(l.Quantity)
}

// ============================================================================
// PAYMENTS
// ============================================================================

// PaymentEntry is one recorded receipt against an estimate.
type PaymentEntry struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
	Date   string  `json:"date"`
	Note   string  `json:"note,omitempty"`
}

// ============================================================================
// ESTIMATE
// ============================================================================

// Estimate is a quote that becomes an invoice once confirmed.
type Estimate struct {
	ID             string         `json:"id"`
	InvoiceNumber  string         `json:"invoiceNumber,omitempty"`
	Date           string         `json:"date"`
	LastModified   int64          `json:"lastModified"`
	Status         Status         `json:"status"`
	PaymentStatus  PaymentStatus  `json:"paymentStatus"`
	Customer       Customer       `json:"customer"`
	Items          []Line         `json:"items" validate:"dive"`
	Packing        float64        `json:"packing" validate:"gte=0"`
	Shipping       float64        `json:"shipping" validate:"gte=0"`
	Adjustment     float64        `json:"adjustment"`
	PaymentHistory []PaymentEntry `json:"paymentHistory,omitempty"`
	AmountPaid     *float64       `json:"amountPaid,omitempty"`
}

// Total sums the lines and the signed charges.
func (e Estimate) Total() float64 {
	var sum float64
	for _, line := range e.Items {
		sum += line.Total()
	}
	return sum + e.Adjustment + e.Packing + e.Shipping
}

// Paid is the history sum when history exists, else the cached amount.
func (e Estimate) Paid() float64 {
	if len(e.PaymentHistory) > 0 {
		var sum float64
		for _, p := range e.PaymentHistory {
			sum += p.Amount
		}
		return sum
	}
	if e.AmountPaid != nil {
		return *e.AmountPaid
	}
	return 0
}

// Due is the outstanding amount; negative when overpaid.
func (e Estimate) Due() float64 {
	return e.Total() - e.Paid()
}

// IsConfirmed reports whether the estimate has become an invoice.
func (e Estimate) IsConfirmed() bool {
	return e.Status == StatusConfirmed
}

// RefreshPaymentStatus derives PaymentStatus from Paid and Total.
func (e *Estimate) RefreshPaymentStatus() {
	paid := e.Paid()
	switch {
	case paid <= 0:
		e.PaymentStatus = PaymentUnpaid
	case paid >= e.Total()-PaymentTolerance:
		e.PaymentStatus = PaymentPaid
	default:
		e.PaymentStatus = PaymentPartial
	}
}

// SyncAmountPaid rewrites the cache from the history.
func (e *Estimate) SyncAmountPaid() {
	if len(e.PaymentHistory) == 0 {
		return
	}
	paid := e.Paid()
	e.AmountPaid = &paid
}

// DateValue parses Date as RFC 3339 or a plain calendar date. Unparseable
// dates sort first.
func (e Estimate) DateValue() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, e.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Touch stamps LastModified.
func (e *Estimate) Touch(at time.Time) {
	e.LastModified = at.UnixMilli()
}

// stockUsage maps inventory ids to the quantity the estimate consumes.
func (e Estimate) stockUsage() map[string]int {
	usage := make(map[string]int)
	for _, line := range e.Items {
		if line.ItemID == "" || line.Quantity == 0 {
			continue
		}
		usage[line.ItemID] += line.Quantity
	}
	return usage
}
