package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stockflow/internal/core/domain"
)

const transactionColumns = `seq, id, product_id, type, quantity, requested_quantity,
	previous_quantity, new_quantity, reason, reference_id, performed_by, occurred_at`

type MySQLLedgerStore struct {
	db *sql.DB
}

func NewMySQLLedgerStore(db *sql.DB) *MySQLLedgerStore {
	return &MySQLLedgerStore{db: db}
}

// CreateProduct inserts a product and, for a positive opening quantity, the
// stock_in entry that accounts for it.
func (m *MySQLLedgerStore) CreateProduct(ctx context.Context, p domain.ProductStock) error {
	return inTx(ctx, m.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (product_id, sku, name, quantity, price, is_active, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			p.ProductID, p.SKU, p.Name, p.Quantity, p.Price, p.IsActive, now, now,
		)
		if duplicateKey(err, "PRIMARY") {
			return fmt.Errorf("%w: %s", domain.ErrProductExists, p.ProductID)
		}
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		if p.Quantity <= 0 {
			return nil
		}

		_, err = insertTransaction(ctx, tx, &domain.InventoryTransaction{
			ID:                uuid.NewString(),
			ProductID:         p.ProductID,
			Type:              domain.TransactionStockIn,
			Quantity:          p.Quantity,
			RequestedQuantity: p.Quantity,
			NewQuantity:       p.Quantity,
			Reason:            openingBalanceReason,
			OccurredAt:        now,
		})
		return err
	})
}

func (m *MySQLLedgerStore) GetStock(ctx context.Context, productID string) (*domain.ProductStock, error) {
	return getStock(ctx, m.db, productID)
}

func (m *MySQLLedgerStore) Append(ctx context.Context, txn *domain.InventoryTransaction, expectedVersion int64) (*domain.ProductStock, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = ?, version = version + 1, updated_at = ?
		WHERE product_id = ? AND version = ? AND quantity = ?`,
		txn.NewQuantity, txn.OccurredAt, txn.ProductID, expectedVersion, txn.PreviousQuantity,
	)
	if err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := getStock(ctx, tx, txn.ProductID); err != nil {
			return nil, err
		}
		return nil, domain.ErrStaleStock
	}

	// The product row is now locked, so the ledger tail cannot move under us.
	var tail sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT new_quantity FROM inventory_transactions
		WHERE product_id = ? ORDER BY seq DESC LIMIT 1`, txn.ProductID,
	).Scan(&tail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	if tail.Valid && int(tail.Int64) != txn.PreviousQuantity {
		return nil, fmt.Errorf("%w: product %s tail %d, previous %d",
			domain.ErrLedgerMismatch, txn.ProductID, tail.Int64, txn.PreviousQuantity)
	}

	seq, err := insertTransaction(ctx, tx, txn)
	if err != nil {
		return nil, err
	}

	stock, err := getStock(ctx, tx, txn.ProductID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	txn.Seq = seq
	return stock, nil
}

func (m *MySQLLedgerStore) History(ctx context.Context, filter domain.HistoryFilter) (domain.HistoryPage, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.ReferenceID != "" {
		where = append(where, "reference_id = ?")
		args = append(args, filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, filter.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var page domain.HistoryPage
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_transactions`+clause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count history: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions` + clause + ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	txns, err := queryTransactions(ctx, m.db, query, args...)
	if err != nil {
		return page, err
	}
	page.Transactions = txns
	return page, nil
}

func (m *MySQLLedgerStore) Entries(ctx context.Context, productID string) ([]domain.InventoryTransaction, error) {
	if _, err := getStock(ctx, m.db, productID); err != nil {
		return nil, err
	}
	return queryTransactions(ctx, m.db,
		`SELECT `+transactionColumns+` FROM inventory_transactions WHERE product_id = ? ORDER BY seq ASC`,
		productID)
}

func getStock(ctx context.Context, q querier, productID string) (*domain.ProductStock, error) {
	var p domain.ProductStock
	err := q.QueryRowContext(ctx, `
		SELECT product_id, sku, name, quantity, price, is_active, version, created_at, updated_at
		FROM products WHERE product_id = ?`, productID,
	).Scan(&p.ProductID, &p.SKU, &p.Name, &p.Quantity, &p.Price, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func insertTransaction(ctx context.Context, q querier, txn *domain.InventoryTransaction) (int64, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO inventory_transactions (id, product_id, type, quantity, requested_quantity,
			previous_quantity, new_quantity, reason, reference_id, performed_by, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.ProductID, txn.Type, txn.Quantity, txn.RequestedQuantity,
		txn.PreviousQuantity, txn.NewQuantity, txn.Reason, txn.ReferenceID, txn.PerformedBy, txn.OccurredAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return result.LastInsertId()
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]domain.InventoryTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.InventoryTransaction
	for rows.Next() {
		var t domain.InventoryTransaction
		if err := rows.Scan(&t.Seq, &t.ID, &t.ProductID, &t.Type, &t.Quantity, &t.RequestedQuantity,
			&t.PreviousQuantity, &t.NewQuantity, &t.Reason, &t.ReferenceID, &t.PerformedBy, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}
