package domain

import (
	"fmt"
	"time"
)

type TransactionType string

const (
	TransactionStockIn       TransactionType = "stock_in"
	TransactionStockOut      TransactionType = "stock_out"
	TransactionSale          TransactionType = "sale"
	TransactionReturn        TransactionType = "return"
	TransactionAdjustmentIn  TransactionType = "adjustment_in"
	TransactionAdjustmentOut TransactionType = "adjustment_out"
	TransactionDamage        TransactionType = "damage"
)

// ShortfallPolicy decides what a decreasing transaction does when it asks
// for more than is on hand.
type ShortfallPolicy string

const (
	// PolicyStrict rejects the transaction with ErrInsufficientStock.
	PolicyStrict ShortfallPolicy = "strict"
	// PolicyClamp removes whatever is on hand and stops at zero.
	PolicyClamp ShortfallPolicy = "clamp"
)

type transactionRule struct {
	sign   int
	policy ShortfallPolicy
}

var transactionRules = map[TransactionType]transactionRule{
	TransactionStockIn:       {sign: +1},
	TransactionReturn:        {sign: +1},
	TransactionAdjustmentIn:  {sign: +1},
	TransactionStockOut:      {sign: -1, policy: PolicyStrict},
	TransactionSale:          {sign: -1, policy: PolicyClamp},
	TransactionAdjustmentOut: {sign: -1, policy: PolicyClamp},
	TransactionDamage:        {sign: -1, policy: PolicyClamp},
}

// TransactionTypes lists every known type in a stable order.
func TransactionTypes() []TransactionType {
	return []TransactionType{
		TransactionStockIn, TransactionStockOut, TransactionSale, TransactionReturn,
		TransactionAdjustmentIn, TransactionAdjustmentOut, TransactionDamage,
	}
}

func (t TransactionType) Valid() bool {
	_, ok := transactionRules[t]
	return ok
}

// Sign is +1 for types that add stock and -1 for types that remove it.
func (t TransactionType) Sign() int {
	return transactionRules[t].sign
}

func (t TransactionType) IsIncrease() bool {
	return t.Sign() > 0
}

// Policy returns the shortfall policy; empty for increasing types.
func (t TransactionType) Policy() ShortfallPolicy {
	return transactionRules[t].policy
}

// InventoryTransaction is one immutable ledger entry.
type InventoryTransaction struct {
	ID                string
	ProductID         string
	Type              TransactionType
	Quantity          int // applied magnitude
	RequestedQuantity int // magnitude the caller asked for; differs from Quantity only when clamped
	PreviousQuantity  int
	NewQuantity       int
	Reason            string
	ReferenceID       string
	PerformedBy       string
	OccurredAt        time.Time
	Seq               int64 // store-assigned, totally orders entries
}

// Delta is the signed stock change this entry applied.
func (t InventoryTransaction) Delta() int {
	return t.Type.Sign() * t.Quantity
}

func (t InventoryTransaction) Clamped() bool {
	return t.RequestedQuantity != t.Quantity
}

// Movement is the outcome of computing a transaction against current stock.
type Movement struct {
	Applied  int
	Previous int
	New      int
}

// ComputeMovement applies a transaction of type t and magnitude quantity to
// previous. strict forces PolicyStrict for decreasing types.
func ComputeMovement(t TransactionType, previous, quantity int, strict bool) (Movement, error) {
	if !t.Valid() {
		return Movement{}, fmt.Errorf("%w: %q", ErrInvalidTransactionType, t)
	}
	if quantity <= 0 {
		return Movement{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	if t.IsIncrease() {
		return Movement{Applied: quantity, Previous: previous, New: previous + quantity}, nil
	}

	if quantity <= previous {
		return Movement{Applied: quantity, Previous: previous, New: previous - quantity}, nil
	}
	if strict || t.Policy() == PolicyStrict {
		return Movement{}, fmt.Errorf("%w: requested %d, on hand %d", ErrInsufficientStock, quantity, previous)
	}
	// Entries always carry a positive magnitude, so an empty shelf cannot be clamped.
	if previous == 0 {
		return Movement{}, fmt.Errorf("%w: nothing on hand to remove", ErrInsufficientStock)
	}
	return Movement{Applied: previous, Previous: previous, New: 0}, nil
}
