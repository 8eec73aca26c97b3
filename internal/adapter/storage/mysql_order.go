package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// MySQLOrderGateway reads and moves orders that live in the same database.
// Called inside a shipment unit of work it joins that transaction.
type MySQLOrderGateway struct {
	db *sql.DB
}

func NewMySQLOrderGateway(db *sql.DB) *MySQLOrderGateway {
	return &MySQLOrderGateway{db: db}
}

func (g *MySQLOrderGateway) conn(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return g.db
}

// PutOrder upserts an order and its items, recording the status it arrives in.
func (g *MySQLOrderGateway) PutOrder(ctx context.Context, o domain.Order) error {
	return inTx(ctx, g.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, status, shipping_address, tracking_number, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), shipping_address = VALUES(shipping_address),
				tracking_number = VALUES(tracking_number), updated_at = VALUES(updated_at)`,
			o.ID, o.Status, o.ShippingAddress, o.TrackingNumber, now,
		)
		if err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, o.ID); err != nil {
			return fmt.Errorf("clear order items: %w", err)
		}
		for i, it := range o.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, position, product_id, sku, quantity)
				VALUES (?, ?, ?, ?, ?)`, o.ID, i, it.ProductID, it.SKU, it.Quantity)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return appendOrderHistory(ctx, tx, o.ID, o.Status, "order registered", now)
	})
}

func (g *MySQLOrderGateway) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	q := g.conn(ctx)

	var o domain.Order
	err := q.QueryRowContext(ctx, `
		SELECT id, status, shipping_address, tracking_number, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.Status, &o.ShippingAddress, &o.TrackingNumber, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, sku, quantity FROM order_items
		WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (g *MySQLOrderGateway) MarkShipped(ctx context.Context, orderID, trackingNumber string) error {
	return g.move(ctx, orderID, domain.OrderStatusShipped, "shipped with tracking "+trackingNumber,
		[]domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusProcessing}, trackingNumber)
}

func (g *MySQLOrderGateway) MarkDelivered(ctx context.Context, orderID string) error {
	return g.move(ctx, orderID, domain.OrderStatusDelivered, "delivered",
		[]domain.OrderStatus{domain.OrderStatusShipped}, "")
}

func (g *MySQLOrderGateway) RevertToProcessing(ctx context.Context, orderID, reason string) error {
	return g.move(ctx, orderID, domain.OrderStatusProcessing, reason,
		[]domain.OrderStatus{domain.OrderStatusShipped}, "")
}

// History returns the order's status entries, oldest first.
func (g *MySQLOrderGateway) History(ctx context.Context, orderID string) ([]domain.OrderStatusEntry, error) {
	rows, err := g.conn(ctx).QueryContext(ctx, `
		SELECT status, note, created_at FROM order_status_history
		WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order history: %w", err)
	}
	defer rows.Close()

	var entries []domain.OrderStatusEntry
	for rows.Next() {
		var e domain.OrderStatusEntry
		if err := rows.Scan(&e.Status, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// move is a conditional UPDATE: it only fires when the order is in one of the
// allowed source statuses.
func (g *MySQLOrderGateway) move(ctx context.Context, orderID string, to domain.OrderStatus, note string, from []domain.OrderStatus, trackingNumber string) error {
	return inTx(ctx, g.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
		args := []any{to, now, trackingNumber, trackingNumber, orderID}
		for _, s := range from {
			args = append(args, s)
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = ?, updated_at = ?,
				tracking_number = IF(? = '', tracking_number, ?)
			WHERE id = ? AND status IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if rows, _ := result.RowsAffected(); rows == 0 {
			current, err := g.FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: order %s is %s, cannot become %s", domain.ErrInvalidOrderStatus, orderID, current.Status, to)
		}
		return appendOrderHistory(ctx, tx, orderID, to, note, now)
	})
}

func appendOrderHistory(ctx context.Context, q querier, orderID string, status domain.OrderStatus, note string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, created_at)
		VALUES (?, ?, ?, ?)`, orderID, status, note, at)
	if err != nil {
		return fmt.Errorf("insert order history: %w", err)
	}
	return nil
}
