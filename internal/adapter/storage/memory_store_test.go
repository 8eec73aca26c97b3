package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stockflow/internal/core/domain"
)

func saleEntry(productID string, prev, qty int) *domain.InventoryTransaction {
	return &domain.InventoryTransaction{
		ID:                uuid.NewString(),
		ProductID:         productID,
		Type:              domain.TransactionSale,
		Quantity:          qty,
		RequestedQuantity: qty,
		PreviousQuantity:  prev,
		NewQuantity:       prev - qty,
		OccurredAt:        time.Now().UTC(),
	}
}

func TestMemoryLedger_CreateProduct(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	if err := store.CreateProduct(ctx, domain.ProductStock{ProductID: "P1", Quantity: 10}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.CreateProduct(ctx, domain.ProductStock{ProductID: "P1"}); !errors.Is(err, domain.ErrProductExists) {
		t.Errorf("expected ErrProductExists, got %v", err)
	}

	p, err := store.GetStock(ctx, "P1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p.Quantity != 10 || p.Version != 2 {
		t.Errorf("expected quantity 10 at version 2, got %d at %d", p.Quantity, p.Version)
	}

	entries, _ := store.Entries(ctx, "P1")
	if len(entries) != 1 || entries[0].Type != domain.TransactionStockIn || entries[0].Reason != openingBalanceReason {
		t.Errorf("expected opening balance entry, got %+v", entries)
	}

	if _, err := store.GetStock(ctx, "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}
}

func TestMemoryLedger_AppendOptimisticLock(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	store.CreateProduct(ctx, domain.ProductStock{ProductID: "P1", Quantity: 10})

	p, _ := store.GetStock(ctx, "P1")
	updated, err := store.Append(ctx, saleEntry("P1", 10, 3), p.Version)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if updated.Quantity != 7 || updated.Version != p.Version+1 {
		t.Errorf("unexpected stock after append: %+v", updated)
	}

	// Second writer still holding the old version.
	if _, err := store.Append(ctx, saleEntry("P1", 10, 1), p.Version); !errors.Is(err, domain.ErrStaleStock) {
		t.Errorf("expected ErrStaleStock, got %v", err)
	}
	if _, err := store.Append(ctx, saleEntry("missing", 1, 1), 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}

	entries, _ := store.Entries(ctx, "P1")
	if len(entries) != 2 {
		t.Errorf("rejected append left an entry: %d entries", len(entries))
	}
}

func TestMemoryLedger_ConcurrentAppendsOneWinner(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	store.CreateProduct(ctx, domain.ProductStock{ProductID: "P1", Quantity: 10})
	p, _ := store.GetStock(ctx, "P1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, saleEntry("P1", 10, 1), p.Version); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryLedger_HistoryPaging(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	store.CreateProduct(ctx, domain.ProductStock{ProductID: "P1", Quantity: 10})
	store.CreateProduct(ctx, domain.ProductStock{ProductID: "P2", Quantity: 5})

	qty := 10
	for i := 0; i < 3; i++ {
		p, _ := store.GetStock(ctx, "P1")
		if _, err := store.Append(ctx, saleEntry("P1", qty, 1), p.Version); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		qty--
	}

	page, _ := store.History(ctx, domain.HistoryFilter{})
	if page.Total != 5 {
		t.Errorf("expected 5 entries across products, got %d", page.Total)
	}
	for i := 1; i < len(page.Transactions); i++ {
		if page.Transactions[i-1].Seq < page.Transactions[i].Seq {
			t.Fatalf("history not newest first: %d before %d", page.Transactions[i-1].Seq, page.Transactions[i].Seq)
		}
	}

	page, _ = store.History(ctx, domain.HistoryFilter{ProductID: "P1", Limit: 2, Offset: 3})
	if page.Total != 4 || len(page.Transactions) != 1 {
		t.Errorf("expected last page of 1 out of 4, got %d of %d", len(page.Transactions), page.Total)
	}

	page, _ = store.History(ctx, domain.HistoryFilter{ProductID: "P1", Offset: 10})
	if page.Total != 4 || len(page.Transactions) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(page.Transactions))
	}
}

func newTestShipment(orderID, tracking string) *domain.Shipment {
	now := time.Now().UTC()
	return &domain.Shipment{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		TrackingNumber:  tracking,
		Carrier:         "DHL",
		Status:          domain.ShipmentStatusPending,
		Items:           []domain.ShipmentItem{{ProductID: "P1", Quantity: 1}},
		TrackingHistory: []domain.TrackingEvent{{ID: uuid.NewString(), Status: domain.ShipmentStatusPending, Timestamp: now}},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestMemoryShipment_CreateRules(t *testing.T) {
	store := NewMemoryShipmentStore()
	ctx := context.Background()

	first := newTestShipment("O1", "TRK20250101-00000001")
	if err := store.Create(ctx, first, nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := store.Create(ctx, newTestShipment("O1", "TRK20250101-00000002"), nil)
	if !errors.Is(err, domain.ErrShipmentAlreadyExists) {
		t.Errorf("expected ErrShipmentAlreadyExists, got %v", err)
	}
	err = store.Create(ctx, newTestShipment("O2", "TRK20250101-00000001"), nil)
	if !errors.Is(err, domain.ErrTrackingNumberTaken) {
		t.Errorf("expected ErrTrackingNumberTaken, got %v", err)
	}

	hookErr := errors.New("order gateway down")
	failed := newTestShipment("O3", "TRK20250101-00000003")
	if err := store.Create(ctx, failed, func(context.Context) error { return hookErr }); !errors.Is(err, hookErr) {
		t.Errorf("expected hook error, got %v", err)
	}
	if _, err := store.Get(ctx, failed.ID); !errors.Is(err, domain.ErrShipmentNotFound) {
		t.Errorf("shipment stored despite failed hook: %v", err)
	}

	got, err := store.GetByTrackingNumber(ctx, first.TrackingNumber)
	if err != nil || got.ID != first.ID {
		t.Errorf("tracking lookup failed: %v", err)
	}
}

func TestMemoryShipment_UpdateRollsBackOnError(t *testing.T) {
	store := NewMemoryShipmentStore()
	ctx := context.Background()
	s := newTestShipment("O1", "TRK20250101-00000001")
	store.Create(ctx, s, nil)

	_, err := store.Update(ctx, s.ID, func(ctx context.Context, sh *domain.Shipment) error {
		sh.Status = domain.ShipmentStatusPickedUp
		sh.Carrier = "UPS"
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected update error")
	}
	got, _ := store.Get(ctx, s.ID)
	if got.Status != domain.ShipmentStatusPending || got.Carrier != "DHL" {
		t.Errorf("failed mutation leaked: %+v", got)
	}

	// Cancelling frees the order's active slot.
	_, err = store.Update(ctx, s.ID, func(ctx context.Context, sh *domain.Shipment) error {
		return sh.TransitionTo(domain.ShipmentStatusCancelled, domain.TrackingEvent{Timestamp: time.Now()})
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if active, _ := store.FindActiveByOrder(ctx, "O1"); active != nil {
		t.Errorf("cancelled shipment still active: %+v", active)
	}
	if err := store.Create(ctx, newTestShipment("O1", "TRK20250101-00000002"), nil); err != nil {
		t.Errorf("create after cancel failed: %v", err)
	}
	list, _ := store.ListByOrder(ctx, "O1")
	if len(list) != 2 {
		t.Errorf("expected 2 shipments for order, got %d", len(list))
	}

	if _, err := store.Update(ctx, "missing", nil); !errors.Is(err, domain.ErrShipmentNotFound) {
		t.Errorf("expected ErrShipmentNotFound, got %v", err)
	}
}

func TestMemoryShipment_GetReturnsSnapshot(t *testing.T) {
	store := NewMemoryShipmentStore()
	ctx := context.Background()
	s := newTestShipment("O1", "TRK20250101-00000001")
	store.Create(ctx, s, nil)

	got, _ := store.Get(ctx, s.ID)
	got.TrackingHistory[0].Location = "tampered"
	s.Carrier = "tampered"

	again, _ := store.Get(ctx, s.ID)
	if again.TrackingHistory[0].Location == "tampered" || again.Carrier == "tampered" {
		t.Error("store shares state with callers")
	}
}

func TestMemoryOrderGateway_Moves(t *testing.T) {
	g := NewMemoryOrderGateway()
	ctx := context.Background()
	g.PutOrder(domain.Order{ID: "O1", Status: domain.OrderStatusConfirmed})

	if err := g.MarkDelivered(ctx, "O1"); !errors.Is(err, domain.ErrInvalidOrderStatus) {
		t.Errorf("expected ErrInvalidOrderStatus, got %v", err)
	}
	if err := g.MarkShipped(ctx, "O1", "TRK20250101-00000001"); err != nil {
		t.Fatalf("mark shipped failed: %v", err)
	}
	o, _ := g.FindByID(ctx, "O1")
	if o.Status != domain.OrderStatusShipped || o.TrackingNumber != "TRK20250101-00000001" {
		t.Errorf("unexpected order: %+v", o)
	}
	if err := g.RevertToProcessing(ctx, "O1", "carrier lost parcel"); err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if err := g.MarkShipped(ctx, "O1", "TRK20250101-00000002"); err != nil {
		t.Fatalf("reship failed: %v", err)
	}
	if err := g.MarkDelivered(ctx, "O1"); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	history := g.History("O1")
	want := []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusShipped,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d history entries, got %d", len(want), len(history))
	}
	for i, st := range want {
		if history[i].Status != st {
			t.Errorf("history[%d] = %s, want %s", i, history[i].Status, st)
		}
	}
	if history[2].Note != "carrier lost parcel" {
		t.Errorf("expected revert reason, got %q", history[2].Note)
	}

	if _, err := g.FindByID(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMemoryCache_StockVersionGuard(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.SetStock(ctx, "P1", 10, 5)
	c.SetStock(ctx, "P1", 99, 4)
	if qty, ok, _ := c.GetStock(ctx, "P1"); !ok || qty != 10 {
		t.Errorf("older version overwrote mirror: %d", qty)
	}
	c.SetStock(ctx, "P1", 8, 6)
	if qty, _, _ := c.GetStock(ctx, "P1"); qty != 8 {
		t.Errorf("expected 8, got %d", qty)
	}
	c.InvalidateStock(ctx, "P1")
	if _, ok, _ := c.GetStock(ctx, "P1"); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestMemoryCache_Idempotency(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if ok, _ := c.SetIdempotency(ctx, "k"); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := c.SetIdempotency(ctx, "k"); ok {
		t.Error("second claim should fail")
	}
	c.ReleaseIdempotency(ctx, "k")
	if ok, _ := c.SetIdempotency(ctx, "k"); !ok {
		t.Error("claim after release should succeed")
	}

	now = now.Add(idempotencyKeyTTL + time.Second)
	if ok, _ := c.SetIdempotency(ctx, "k"); !ok {
		t.Error("claim after expiry should succeed")
	}
}

func TestMemoryCache_TrackingNumbersResetDaily(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	now := time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	first, _ := c.NextTrackingNumber(ctx)
	second, _ := c.NextTrackingNumber(ctx)
	if first != "TRK20250307-00000001" || second != "TRK20250307-00000002" {
		t.Errorf("unexpected sequence %s, %s", first, second)
	}

	now = now.Add(2 * time.Minute)
	next, _ := c.NextTrackingNumber(ctx)
	if next != "TRK20250308-00000001" {
		t.Errorf("expected sequence reset on new day, got %s", next)
	}
}
