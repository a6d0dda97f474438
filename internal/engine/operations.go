package engine

import (
	"context"
	"time"

	"github.com/shopledger/shopledger/internal/ar"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/sales"
)

// Items lists the inventory.
func (e *Engine) Items(ctx context.Context) ([]inventory.Item, error) {
	return e.inventory.List(ctx)
}

// AddItem adds or merges an inventory item.
func (e *Engine) AddItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.Add(ctx, item)
}

// ImportItems bulk-adds inventory items.
func (e *Engine) ImportItems(ctx context.Context, items []inventory.Item) (inventory.ImportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.Import(ctx, items)
}

// UpdateItem replaces an inventory item.
func (e *Engine) UpdateItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.Update(ctx, item)
}

// DeleteItem removes an inventory item.
func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory.Delete(ctx, id)
}

// Estimates lists estimates, newest first.
func (e *Engine) Estimates(ctx context.Context) ([]sales.Estimate, error) {
	return e.sales.List(ctx)
}

// SaveEstimate creates or updates an estimate.
func (e *Engine) SaveEstimate(ctx context.Context, est sales.Estimate) (sales.Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sales.Save(ctx, est)
}

// ConfirmEstimate turns an estimate into an invoice.
func (e *Engine) ConfirmEstimate(ctx context.Context, id string) (sales.Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sales.Confirm(ctx, id)
}

// RevertEstimate returns an invoice to draft.
func (e *Engine) RevertEstimate(ctx context.Context, id string) (sales.Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sales.RevertToDraft(ctx, id)
}

// DeleteEstimate removes an estimate.
func (e *Engine) DeleteEstimate(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sales.Delete(ctx, id)
}

// DeletePayment removes one payment entry.
func (e *Engine) DeletePayment(ctx context.Context, estimateID, paymentID string) (sales.Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sales.DeletePayment(ctx, estimateID, paymentID)
}

// AllocatePayment distributes a payment starting at targetID.
func (e *Engine) AllocatePayment(ctx context.Context, targetID string, payment ar.Payment) (ar.Allocation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ar.AllocatePayment(ctx, targetID, payment)
}

// Ledger reports balances per customer.
func (e *Engine) Ledger(ctx context.Context, asOf time.Time) ([]ar.CustomerBalance, error) {
	return e.ar.Ledger(ctx, asOf)
}
