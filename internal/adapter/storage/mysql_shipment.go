package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/port"
)

const (
	uqActiveOrder    = "uq_shipments_active_order"
	uqTrackingNumber = "uq_shipments_tracking_number"

	shipmentColumns = `id, order_id, tracking_number, carrier, status, shipping_address,
		shipped_at, estimated_delivery_at, delivered_at, cancelled_at, cancellation_reason,
		version, created_at, updated_at`
)

// MySQLShipmentStore locks the shipment row for the length of a mutation and
// hands the transaction to the order gateway through the context.
type MySQLShipmentStore struct {
	db *sql.DB
}

func NewMySQLShipmentStore(db *sql.DB) *MySQLShipmentStore {
	return &MySQLShipmentStore{db: db}
}

func (m *MySQLShipmentStore) Create(ctx context.Context, s *domain.Shipment, beforeCommit func(ctx context.Context) error) error {
	return inTx(ctx, m.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shipments (id, order_id, active_order_id, tracking_number, carrier, status,
				shipping_address, shipped_at, estimated_delivery_at, delivered_at, cancelled_at,
				cancellation_reason, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.OrderID, activeOrderID(s), s.TrackingNumber, s.Carrier, s.Status,
			s.ShippingAddress, nullTime(s.ShippedAt), nullTime(s.EstimatedDeliveryAt),
			nullTime(s.DeliveredAt), nullTime(s.CancelledAt),
			s.CancellationReason, s.Version, s.CreatedAt, s.UpdatedAt,
		)
		switch {
		case duplicateKey(err, uqActiveOrder):
			return fmt.Errorf("%w: order %s", domain.ErrShipmentAlreadyExists, s.OrderID)
		case duplicateKey(err, uqTrackingNumber):
			return fmt.Errorf("%w: %s", domain.ErrTrackingNumberTaken, s.TrackingNumber)
		case err != nil:
			return fmt.Errorf("insert shipment: %w", err)
		}

		for i, it := range s.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO shipment_items (shipment_id, position, product_id, sku, quantity)
				VALUES (?, ?, ?, ?, ?)`, s.ID, i, it.ProductID, it.SKU, it.Quantity)
			if err != nil {
				return fmt.Errorf("insert shipment item: %w", err)
			}
		}
		if err := insertTrackingEvents(ctx, tx, s.ID, s.TrackingHistory); err != nil {
			return err
		}

		if beforeCommit != nil {
			return beforeCommit(ctx)
		}
		return nil
	})
}

func (m *MySQLShipmentStore) Update(ctx context.Context, id string, mutate port.ShipmentMutation) (*domain.Shipment, error) {
	var updated *domain.Shipment
	err := inTx(ctx, m.db, func(ctx context.Context, tx *sql.Tx) error {
		s, err := loadShipment(ctx, tx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ? FOR UPDATE`, id)
		if err != nil {
			return err
		}
		recorded := len(s.TrackingHistory)

		if err := mutate(ctx, s); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE shipments
			SET active_order_id = ?, status = ?, shipped_at = ?, delivered_at = ?, cancelled_at = ?,
				cancellation_reason = ?, version = ?, updated_at = ?
			WHERE id = ?`,
			activeOrderID(s), s.Status, nullTime(s.ShippedAt), nullTime(s.DeliveredAt),
			nullTime(s.CancelledAt), s.CancellationReason, s.Version, s.UpdatedAt, s.ID,
		)
		if err != nil {
			return fmt.Errorf("update shipment: %w", err)
		}
		if err := insertTrackingEvents(ctx, tx, s.ID, s.TrackingHistory[recorded:]); err != nil {
			return err
		}

		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *MySQLShipmentStore) Get(ctx context.Context, id string) (*domain.Shipment, error) {
	return loadShipment(ctx, m.db, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`, id)
}

func (m *MySQLShipmentStore) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	return loadShipment(ctx, m.db, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = ?`, trackingNumber)
}

func (m *MySQLShipmentStore) FindActiveByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	s, err := loadShipment(ctx, m.db, `SELECT `+shipmentColumns+` FROM shipments WHERE active_order_id = ?`, orderID)
	if errors.Is(err, domain.ErrShipmentNotFound) {
		return nil, nil
	}
	return s, err
}

func (m *MySQLShipmentStore) ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM shipments WHERE order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan shipment id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipments: %w", err)
	}

	out := make([]*domain.Shipment, 0, len(ids))
	for _, id := range ids {
		s, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func loadShipment(ctx context.Context, q querier, query string, arg any) (*domain.Shipment, error) {
	var (
		s                                         domain.Shipment
		shipped, estimated, delivered, cancelled sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.OrderID, &s.TrackingNumber, &s.Carrier, &s.Status, &s.ShippingAddress,
		&shipped, &estimated, &delivered, &cancelled, &s.CancellationReason,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", domain.ErrShipmentNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("query shipment: %w", err)
	}
	s.ShippedAt = timePtr(shipped)
	s.EstimatedDeliveryAt = timePtr(estimated)
	s.DeliveredAt = timePtr(delivered)
	s.CancelledAt = timePtr(cancelled)

	if s.Items, err = loadShipmentItems(ctx, q, s.ID); err != nil {
		return nil, err
	}
	if s.TrackingHistory, err = loadTrackingEvents(ctx, q, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

func loadShipmentItems(ctx context.Context, q querier, shipmentID string) ([]domain.ShipmentItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, sku, quantity FROM shipment_items
		WHERE shipment_id = ? ORDER BY position`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("query shipment items: %w", err)
	}
	defer rows.Close()

	var items []domain.ShipmentItem
	for rows.Next() {
		var it domain.ShipmentItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan shipment item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadTrackingEvents(ctx context.Context, q querier, shipmentID string) ([]domain.TrackingEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, status, location, description, notes, occurred_at FROM shipment_tracking_events
		WHERE shipment_id = ? ORDER BY seq`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("query tracking events: %w", err)
	}
	defer rows.Close()

	var events []domain.TrackingEvent
	for rows.Next() {
		var e domain.TrackingEvent
		if err := rows.Scan(&e.ID, &e.Status, &e.Location, &e.Description, &e.Notes, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func insertTrackingEvents(ctx context.Context, q querier, shipmentID string, events []domain.TrackingEvent) error {
	for _, e := range events {
		_, err := q.ExecContext(ctx, `
			INSERT INTO shipment_tracking_events (id, shipment_id, status, location, description, notes, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, shipmentID, e.Status, e.Location, e.Description, e.Notes, e.Timestamp)
		if err != nil {
			return fmt.Errorf("insert tracking event: %w", err)
		}
	}
	return nil
}

// activeOrderID feeds the unique index that allows one live shipment per order.
func activeOrderID(s *domain.Shipment) sql.NullString {
	return sql.NullString{String: s.OrderID, Valid: s.IsActive()}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
