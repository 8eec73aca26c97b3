package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/stockflow/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockflow?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestMySQLLedger_CreateAndAppend(t *testing.T) {
	db := getMySQLDB(t)
	store := NewMySQLLedgerStore(db)
	ctx := context.Background()
	productID := testID("test-product")

	if err := store.CreateProduct(ctx, domain.ProductStock{ProductID: productID, Name: "Widget", Quantity: 10, IsActive: true}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.CreateProduct(ctx, domain.ProductStock{ProductID: productID}); !errors.Is(err, domain.ErrProductExists) {
		t.Errorf("expected ErrProductExists, got %v", err)
	}

	p, err := store.GetStock(ctx, productID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p.Quantity != 10 {
		t.Errorf("expected opening quantity 10, got %d", p.Quantity)
	}

	updated, err := store.Append(ctx, saleEntry(productID, 10, 4), p.Version)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if updated.Quantity != 6 || updated.Version != p.Version+1 {
		t.Errorf("unexpected stock after append: %+v", updated)
	}

	if _, err := store.Append(ctx, saleEntry(productID, 10, 1), p.Version); !errors.Is(err, domain.ErrStaleStock) {
		t.Errorf("expected ErrStaleStock, got %v", err)
	}
	if _, err := store.Append(ctx, saleEntry(testID("missing"), 1, 1), 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}

	entries, err := store.Entries(ctx, productID)
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Reason != openingBalanceReason || entries[1].NewQuantity != 6 {
		t.Errorf("unexpected ledger: %+v", entries)
	}

	page, err := store.History(ctx, domain.HistoryFilter{ProductID: productID, Type: domain.TransactionSale})
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if page.Total != 1 || page.Transactions[0].Quantity != 4 {
		t.Errorf("unexpected history page: %+v", page)
	}
}

func TestMySQLShipment_CreateRollsBackWithOrder(t *testing.T) {
	db := getMySQLDB(t)
	shipments := NewMySQLShipmentStore(db)
	orders := NewMySQLOrderGateway(db)
	ctx := context.Background()
	orderID := testID("test-order")

	if err := orders.PutOrder(ctx, domain.Order{ID: orderID, Status: domain.OrderStatusConfirmed}); err != nil {
		t.Fatalf("put order failed: %v", err)
	}

	failed := newTestShipment(orderID, testID("TRK"))
	hookErr := errors.New("abort")
	err := shipments.Create(ctx, failed, func(ctx context.Context) error {
		if err := orders.MarkShipped(ctx, orderID, failed.TrackingNumber); err != nil {
			return err
		}
		return hookErr
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if _, err := shipments.Get(ctx, failed.ID); !errors.Is(err, domain.ErrShipmentNotFound) {
		t.Errorf("shipment survived rollback: %v", err)
	}
	o, _ := orders.FindByID(ctx, orderID)
	if o.Status != domain.OrderStatusConfirmed {
		t.Errorf("order change survived rollback: %s", o.Status)
	}

	s := newTestShipment(orderID, testID("TRK"))
	err = shipments.Create(ctx, s, func(ctx context.Context) error {
		return orders.MarkShipped(ctx, orderID, s.TrackingNumber)
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	o, _ = orders.FindByID(ctx, orderID)
	if o.Status != domain.OrderStatusShipped || o.TrackingNumber != s.TrackingNumber {
		t.Errorf("unexpected order after create: %+v", o)
	}

	dup := newTestShipment(orderID, testID("TRK"))
	if err := shipments.Create(ctx, dup, nil); !errors.Is(err, domain.ErrShipmentAlreadyExists) {
		t.Errorf("expected ErrShipmentAlreadyExists, got %v", err)
	}
	taken := newTestShipment(testID("test-order"), s.TrackingNumber)
	if err := shipments.Create(ctx, taken, nil); !errors.Is(err, domain.ErrTrackingNumberTaken) {
		t.Errorf("expected ErrTrackingNumberTaken, got %v", err)
	}
}

func TestMySQLShipment_UpdateWithOrderSideEffect(t *testing.T) {
	db := getMySQLDB(t)
	shipments := NewMySQLShipmentStore(db)
	orders := NewMySQLOrderGateway(db)
	ctx := context.Background()
	orderID := testID("test-order")

	orders.PutOrder(ctx, domain.Order{ID: orderID, Status: domain.OrderStatusShipped})
	s := newTestShipment(orderID, testID("TRK"))
	if err := shipments.Create(ctx, s, nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Cancellation with a failing side effect leaves both rows untouched.
	_, err := shipments.Update(ctx, s.ID, func(ctx context.Context, sh *domain.Shipment) error {
		if err := sh.TransitionTo(domain.ShipmentStatusCancelled, domain.TrackingEvent{ID: uuid.NewString(), Timestamp: time.Now().UTC()}); err != nil {
			return err
		}
		if err := orders.RevertToProcessing(ctx, orderID, "test"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected update to fail")
	}
	got, _ := shipments.Get(ctx, s.ID)
	if got.Status != domain.ShipmentStatusPending || len(got.TrackingHistory) != 1 {
		t.Errorf("shipment change survived rollback: %+v", got)
	}
	if o, _ := orders.FindByID(ctx, orderID); o.Status != domain.OrderStatusShipped {
		t.Errorf("order change survived rollback: %s", o.Status)
	}

	updated, err := shipments.Update(ctx, s.ID, func(ctx context.Context, sh *domain.Shipment) error {
		if err := sh.TransitionTo(domain.ShipmentStatusCancelled, domain.TrackingEvent{ID: uuid.NewString(), Timestamp: time.Now().UTC()}); err != nil {
			return err
		}
		sh.Version++
		return orders.RevertToProcessing(ctx, orderID, "customer request")
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if updated.CancelledAt == nil || updated.Version != 2 {
		t.Errorf("unexpected cancelled shipment: %+v", updated)
	}

	stored, _ := shipments.GetByTrackingNumber(ctx, s.TrackingNumber)
	if stored.Status != domain.ShipmentStatusCancelled || len(stored.TrackingHistory) != 2 {
		t.Errorf("unexpected stored shipment: %+v", stored)
	}
	if active, _ := shipments.FindActiveByOrder(ctx, orderID); active != nil {
		t.Errorf("cancelled shipment still active: %s", active.ID)
	}

	history, err := orders.History(ctx, orderID)
	if err != nil {
		t.Fatalf("order history failed: %v", err)
	}
	if last := history[len(history)-1]; last.Status != domain.OrderStatusProcessing || last.Note != "customer request" {
		t.Errorf("unexpected order history entry: %+v", last)
	}
}

func TestMySQLOrderGateway_RejectsIllegalMove(t *testing.T) {
	db := getMySQLDB(t)
	orders := NewMySQLOrderGateway(db)
	ctx := context.Background()
	orderID := testID("test-order")

	orders.PutOrder(ctx, domain.Order{ID: orderID, Status: domain.OrderStatusPending})
	if err := orders.MarkShipped(ctx, orderID, "TRK20250101-00000001"); !errors.Is(err, domain.ErrInvalidOrderStatus) {
		t.Errorf("expected ErrInvalidOrderStatus, got %v", err)
	}
	if err := orders.MarkDelivered(ctx, testID("missing")); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
