package ar

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/sales"
)

var allocatedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var acme = sales.Customer{Name: "Jane", Firm: "Acme", Phone: "98450"}

func invoice(id, number, date string, total float64, customer sales.Customer) sales.Estimate {
	return sales.Estimate{
		ID:            id,
		InvoiceNumber: number,
		Date:          date,
		Status:        sales.StatusConfirmed,
		PaymentStatus: sales.PaymentUnpaid,
		Customer:      customer,
		Items:         []sales.Line{{ProductName: "Goods", SellingBasic: total, Quantity: 1}},
		LastModified:  1,
	}
}

func byID(records []sales.Estimate, id string) sales.Estimate {
	for _, r := range records {
		if r.ID == id {
			return r
		}
	}
	return sales.Estimate{}
}

func sumPostings(a Allocation) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range a.Postings {
		sum = sum.Add(decimal.NewFromFloat(p.Entry.Amount))
	}
	return sum
}

func TestAllocateSurplusFlowsToOlderInvoice(t *testing.T) {
	records := []sales.Estimate{
		invoice("inv1", "INV-0001", "2024-01-10", 500, acme),
		invoice("inv2", "INV-0002", "2024-03-10", 300, acme),
	}

	allocation, err := Allocate(records, "inv2", Payment{Amount: 600, Date: "2024-06-01"}, allocatedAt)
	require.NoError(t, err)
	require.Len(t, allocation.Postings, 2)

	inv2 := byID(records, "inv2")
	require.Equal(t, sales.PaymentPaid, inv2.PaymentStatus)
	require.InDelta(t, 0, inv2.Due(), 1e-9)

	inv1 := byID(records, "inv1")
	require.Equal(t, sales.PaymentPartial, inv1.PaymentStatus)
	require.InDelta(t, 200, inv1.Due(), 1e-9)
	require.Len(t, inv1.PaymentHistory, 1)
	require.Contains(t, inv1.PaymentHistory[0].Note, "INV-0002")
}

func TestAllocateOldestFirst(t *testing.T) {
	records := []sales.Estimate{
		invoice("d2", "INV-0003", "2024-02-01", 300, acme),
		invoice("target", "INV-0004", "2024-04-01", 100, acme),
		invoice("d1", "INV-0002", "2024-01-01", 200, acme),
	}

	_, err := Allocate(records, "target", Payment{Amount: 301}, allocatedAt)
	require.NoError(t, err)

	require.Equal(t, sales.PaymentPaid, byID(records, "target").PaymentStatus)
	require.Equal(t, sales.PaymentPaid, byID(records, "d1").PaymentStatus)
	d2 := byID(records, "d2")
	require.Contains(t, []sales.PaymentStatus{sales.PaymentPartial, sales.PaymentUnpaid}, d2.PaymentStatus)
	require.InDelta(t, 299, d2.Due(), 1e-9)
}

func TestAllocateConservesAmount(t *testing.T) {
	for _, amount := range []float64{0.004, 0.01, 10.0049, 50, 100.005, 123.45, 600, 725.745, 999.99, 12345.67} {
		records := []sales.Estimate{
			invoice("a", "INV-0001", "2024-01-01", 199.99, acme),
			invoice("b", "INV-0002", "2024-02-01", 450.5, acme),
			invoice("c", "INV-0003", "2024-03-01", 75.25, acme),
		}
		allocation, err := Allocate(records, "c", Payment{Amount: amount}, allocatedAt)
		require.NoError(t, err)
		require.True(t, sumPostings(allocation).Equal(decimal.NewFromFloat(amount)), "amount %v allocated as %s", amount, sumPostings(allocation))
	}
}

func TestAllocateExactTotalLeavesNothingPartial(t *testing.T) {
	records := []sales.Estimate{
		invoice("a", "INV-0001", "2024-01-01", 199.99, acme),
		invoice("b", "INV-0002", "2024-02-01", 450.5, acme),
		invoice("c", "INV-0003", "2024-03-01", 75.25, acme),
	}
	allocation, err := Allocate(records, "b", Payment{Amount: 199.99 + 450.5 + 75.25}, allocatedAt)
	require.NoError(t, err)
	for _, rec := range records {
		require.Equal(t, sales.PaymentPaid, rec.PaymentStatus, rec.ID)
	}
	for _, p := range allocation.Postings {
		require.Zero(t, p.Advance)
	}
}

func TestAllocateOneEntryPerRecordWithAdvance(t *testing.T) {
	records := []sales.Estimate{invoice("t", "INV-0001", "2024-01-01", 100, acme)}

	allocation, err := Allocate(records, "t", Payment{Amount: 250, Note: "cash"}, allocatedAt)
	require.NoError(t, err)
	require.Len(t, allocation.Postings, 1)
	require.Equal(t, 250.0, allocation.Postings[0].Entry.Amount)
	require.Equal(t, 150.0, allocation.Postings[0].Advance)

	rec := records[0]
	require.Len(t, rec.PaymentHistory, 1)
	require.Equal(t, sales.PaymentPaid, rec.PaymentStatus)
	require.Equal(t, "cash (includes advance)", rec.PaymentHistory[0].Note)
	require.Equal(t, 250.0, *rec.AmountPaid)
}

func TestAllocateOnPaidTargetSpillsThenAdvances(t *testing.T) {
	paidTarget := invoice("t", "INV-0002", "2024-02-01", 100, acme)
	paidTarget.PaymentHistory = []sales.PaymentEntry{{ID: "old", Amount: 100}}
	paidTarget.PaymentStatus = sales.PaymentPaid
	records := []sales.Estimate{paidTarget, invoice("o", "INV-0001", "2024-01-01", 50, acme)}

	allocation, err := Allocate(records, "t", Payment{Amount: 80}, allocatedAt)
	require.NoError(t, err)
	require.Len(t, allocation.Postings, 2)
	require.Equal(t, "o", allocation.Postings[0].EstimateID)
	require.Equal(t, 50.0, allocation.Postings[0].Entry.Amount)
	require.Equal(t, "t", allocation.Postings[1].EstimateID)
	require.Equal(t, 30.0, allocation.Postings[1].Advance)
	require.Len(t, byID(records, "t").PaymentHistory, 2)
}

func TestAllocateSkipsIneligibleRecords(t *testing.T) {
	empty := invoice("empty", "INV-0001", "2023-01-01", 0, acme)
	empty.Items = nil
	empty.Adjustment = 40

	draft := invoice("draft", "", "2023-02-01", 70, acme)
	draft.Status = sales.StatusDraft

	other := invoice("other", "INV-0002", "2023-03-01", 90, sales.Customer{Name: "Jane", Firm: "Acme", Phone: "11111"})

	settled := invoice("settled", "INV-0003", "2023-04-01", 60, acme)
	settled.PaymentHistory = []sales.PaymentEntry{{ID: "x", Amount: 59.5}}

	records := []sales.Estimate{empty, draft, other, settled, invoice("t", "INV-0004", "2024-01-01", 10, acme)}
	allocation, err := Allocate(records, "t", Payment{Amount: 25}, allocatedAt)
	require.NoError(t, err)
	require.Len(t, allocation.Postings, 1)
	require.Equal(t, 15.0, allocation.Postings[0].Advance)

	for _, id := range []string{"empty", "draft", "other", "settled"} {
		require.Equal(t, int64(1), byID(records, id).LastModified, id)
	}
	require.Equal(t, allocatedAt.UnixMilli(), byID(records, "t").LastModified)
}

func TestAllocateMigratesCachedAmountPaid(t *testing.T) {
	legacy := invoice("t", "INV-0001", "2024-01-01", 100, acme)
	cached := 40.0
	legacy.AmountPaid = &cached
	legacy.PaymentStatus = sales.PaymentPartial
	records := []sales.Estimate{legacy}

	allocation, err := Allocate(records, "t", Payment{Amount: 60}, allocatedAt)
	require.NoError(t, err)
	require.Equal(t, 60.0, allocation.Postings[0].Entry.Amount)

	rec := records[0]
	require.Len(t, rec.PaymentHistory, 2)
	require.Equal(t, OpeningBalanceNote, rec.PaymentHistory[0].Note)
	require.Equal(t, 40.0, rec.PaymentHistory[0].Amount)
	require.Equal(t, OpeningBalancePrefix+"t", rec.PaymentHistory[0].ID)
	require.True(t, IsOpeningBalance(rec.PaymentHistory[0]))
	require.False(t, IsOpeningBalance(rec.PaymentHistory[1]))
	require.Equal(t, allocation.Postings[0].Entry, rec.PaymentHistory[1])
	require.Equal(t, 100.0, rec.Paid())
	require.Equal(t, sales.PaymentPaid, rec.PaymentStatus)
}

func TestAllocateErrors(t *testing.T) {
	draft := invoice("d", "", "2024-01-01", 10, acme)
	draft.Status = sales.StatusDraft
	records := []sales.Estimate{draft}

	_, err := Allocate(records, "missing", Payment{Amount: 1}, allocatedAt)
	require.ErrorIs(t, err, sales.ErrEstimateNotFound)

	_, err = Allocate(records, "d", Payment{Amount: 1}, allocatedAt)
	require.ErrorIs(t, err, ErrTargetNotConfirmed)

	_, err = Allocate(records, "d", Payment{Amount: 0}, allocatedAt)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Allocate(records, "d", Payment{Amount: -0.001}, allocatedAt)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Empty(t, records[0].PaymentHistory)
}
