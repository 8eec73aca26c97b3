package handler

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rl1809/stockflow/internal/adapter/messaging"
	"github.com/rl1809/stockflow/internal/adapter/storage"
	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/core/service"
)

const (
	testProduct = "P1"
	testOrder   = "O1"
)

type fixture struct {
	ledger    *service.LedgerService
	shipments *service.ShipmentService
}

// newFixture wires memory-backed services with product P1 (10 on hand) and
// confirmed order O1.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	tracer := noop.NewTracerProvider().Tracer("test")
	cache := storage.NewMemoryCache()
	publisher := messaging.NewMemoryPublisher()
	orders := storage.NewMemoryOrderGateway()

	ledger := service.NewLedgerService(storage.NewMemoryLedgerStore(), cache, publisher, zap.NewNop(), tracer, 0)
	shipments := service.NewShipmentService(storage.NewMemoryShipmentStore(), orders, cache, publisher, zap.NewNop(), tracer)

	_, err := ledger.RegisterProduct(context.Background(), domain.ProductStock{
		ProductID: testProduct,
		Name:      "Widget",
		Quantity:  10,
		Price:     decimal.RequireFromString("2.50"),
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	orders.PutOrder(domain.Order{
		ID:              testOrder,
		Status:          domain.OrderStatusConfirmed,
		Items:           []domain.OrderItem{{ProductID: testProduct, Quantity: 2}},
		ShippingAddress: "1 Main St",
	})

	return &fixture{ledger: ledger, shipments: shipments}
}
