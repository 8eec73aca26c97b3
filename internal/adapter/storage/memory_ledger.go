package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// MemoryLedgerStore keeps products and their ledgers in process memory.
type MemoryLedgerStore struct {
	mu       sync.RWMutex
	products map[string]*domain.ProductStock
	entries  map[string][]domain.InventoryTransaction
	seq      int64
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		products: make(map[string]*domain.ProductStock),
		entries:  make(map[string][]domain.InventoryTransaction),
	}
}

// CreateProduct registers a product. A positive opening quantity is written
// as a stock_in entry so the ledger reproduces it.
func (m *MemoryLedgerStore) CreateProduct(ctx context.Context, p domain.ProductStock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ProductID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrProductExists, p.ProductID)
	}

	now := time.Now().UTC()
	opening := p.Quantity
	p.Quantity = 0
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ProductID] = &p

	if opening > 0 {
		m.appendLocked(&domain.InventoryTransaction{
			ID:                uuid.NewString(),
			ProductID:         p.ProductID,
			Type:              domain.TransactionStockIn,
			Quantity:          opening,
			RequestedQuantity: opening,
			PreviousQuantity:  0,
			NewQuantity:       opening,
			Reason:            openingBalanceReason,
			OccurredAt:        now,
		})
	}
	return nil
}

func (m *MemoryLedgerStore) GetStock(ctx context.Context, productID string) (*domain.ProductStock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryLedgerStore) Append(ctx context.Context, txn *domain.InventoryTransaction, expectedVersion int64) (*domain.ProductStock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[txn.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, txn.ProductID)
	}
	if p.Version != expectedVersion || p.Quantity != txn.PreviousQuantity {
		return nil, domain.ErrStaleStock
	}
	if ledger := m.entries[txn.ProductID]; len(ledger) > 0 && ledger[len(ledger)-1].NewQuantity != txn.PreviousQuantity {
		return nil, fmt.Errorf("%w: product %s", domain.ErrLedgerMismatch, txn.ProductID)
	}

	m.appendLocked(txn)
	cp := *m.products[txn.ProductID]
	return &cp, nil
}

// appendLocked writes the entry and moves the materialized quantity with it.
func (m *MemoryLedgerStore) appendLocked(txn *domain.InventoryTransaction) {
	ledger := m.entries[txn.ProductID]
	if n := len(ledger); n > 0 && txn.OccurredAt.Before(ledger[n-1].OccurredAt) {
		txn.OccurredAt = ledger[n-1].OccurredAt
	}
	m.seq++
	txn.Seq = m.seq
	m.entries[txn.ProductID] = append(ledger, *txn)

	p := m.products[txn.ProductID]
	p.Quantity = txn.NewQuantity
	p.Version++
	p.UpdatedAt = txn.OccurredAt
}

func (m *MemoryLedgerStore) History(ctx context.Context, filter domain.HistoryFilter) (domain.HistoryPage, error) {
	m.mu.RLock()
	var matched []domain.InventoryTransaction
	for pid, ledger := range m.entries {
		if filter.ProductID != "" && pid != filter.ProductID {
			continue
		}
		for _, e := range ledger {
			if filter.Matches(e) {
				matched = append(matched, e)
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })

	page := domain.HistoryPage{Total: len(matched)}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	page.Transactions = matched[filter.Offset:end]
	return page, nil
}

func (m *MemoryLedgerStore) Entries(ctx context.Context, productID string) ([]domain.InventoryTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.products[productID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return append([]domain.InventoryTransaction(nil), m.entries[productID]...), nil
}
