package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStock is the materialized on-hand quantity for one product.
// Only the ledger writes Quantity; Version increments on every write.
type ProductStock struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	Price     decimal.Decimal
	IsActive  bool
	Version   int64 // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Value is the on-hand quantity priced at the current unit price.
func (p ProductStock) Value() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}
