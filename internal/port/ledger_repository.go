package port

import (
	"context"

	"github.com/rl1809/stockflow/internal/core/domain"
)

type LedgerRepository interface {
	// CreateProduct registers a product; a positive opening quantity is
	// written as a stock_in entry. An existing id returns ErrProductExists.
	CreateProduct(ctx context.Context, p domain.ProductStock) error

	// GetStock returns the product's current stock and version, or ErrProductNotFound
	GetStock(ctx context.Context, productID string) (*domain.ProductStock, error)

	// Append stores txn and sets the product quantity to txn.NewQuantity in one
	// atomic unit, provided the product is still at expectedVersion.
	// A version mismatch returns ErrStaleStock and changes nothing.
	Append(ctx context.Context, txn *domain.InventoryTransaction, expectedVersion int64) (*domain.ProductStock, error)

	// History returns entries matching filter, newest first, plus the unpaged total
	History(ctx context.Context, filter domain.HistoryFilter) (domain.HistoryPage, error)

	// Entries returns every entry for a product in ledger order (oldest first)
	Entries(ctx context.Context, productID string) ([]domain.InventoryTransaction, error)
}
