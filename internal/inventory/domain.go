package inventory

import (
	"errors"

	"github.com/shopledger/shopledger/internal/shared"
)

var (
	// ErrItemNotFound indicates no item carries the requested id.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrItemExists indicates an explicit id collides with an existing item.
	ErrItemExists = errors.New("inventory: item already exists")
	// ErrValidation wraps field validation failures.
	ErrValidation = errors.New("inventory: validation failed")
)

// Item is one stocked product. Stock may go negative transiently while
// confirmed orders run ahead of purchases.
type Item struct {
	ID           string  `json:"id"`
	ProductName  string  `json:"productName" validate:"required,max=200"`
	Vendor       string  `json:"vendor,omitempty" validate:"max=200"`
	Date         string  `json:"date,omitempty"`
	MRP          float64 `json:"mrp" validate:"gte=0"`
	Discount     float64 `json:"discount" validate:"gte=0,lte=100"`
	GST          float64 `json:"gst" validate:"gte=0,lte=100"`
	LandingPrice float64 `json:"landingPrice" validate:"gte=0"`
	Stock        int     `json:"stock"`
	Note         string  `json:"note,omitempty"`
}

// NameKey is the case-insensitive dedup key used when an item arrives without id.
func (i Item) NameKey() string {
	return shared.FoldKey(i.ProductName)
}

// Adjustment is a signed stock delta for one item.
type Adjustment struct {
	ItemID string
	Delta  int
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Added  int `json:"added"`
	Merged int `json:"merged"`
}
