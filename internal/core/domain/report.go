package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryFilter selects ledger entries. Zero values mean "any".
type HistoryFilter struct {
	ProductID   string
	Type        TransactionType
	ReferenceID string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// Matches applies every filter field except paging.
func (f HistoryFilter) Matches(t InventoryTransaction) bool {
	if f.ProductID != "" && t.ProductID != f.ProductID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.ReferenceID != "" && t.ReferenceID != f.ReferenceID {
		return false
	}
	if !f.From.IsZero() && t.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

type HistoryPage struct {
	Transactions []InventoryTransaction
	Total        int
}

type ProductStats struct {
	ProductID      string
	CurrentStock   int
	StockValue     decimal.Decimal
	TotalIn        int
	TotalOut       int
	Transactions   int
	ByType         map[TransactionType]int
	LastMovementAt *time.Time
}

type TrendPoint struct {
	Day time.Time
	In  int
	Out int
	Net int
}

type ReconcileReport struct {
	ProductID      string
	StoredQuantity int
	LedgerQuantity int
	Entries        int
	Consistent     bool
}
