package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// MemoryOrderGateway stands in for the order service.
type MemoryOrderGateway struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	history map[string][]domain.OrderStatusEntry
}

func NewMemoryOrderGateway() *MemoryOrderGateway {
	return &MemoryOrderGateway{
		orders:  make(map[string]*domain.Order),
		history: make(map[string][]domain.OrderStatusEntry),
	}
}

func (g *MemoryOrderGateway) PutOrder(o domain.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o.Items = append([]domain.OrderItem(nil), o.Items...)
	g.orders[o.ID] = &o
	g.history[o.ID] = append(g.history[o.ID], domain.OrderStatusEntry{
		Status: o.Status, Note: "order registered", CreatedAt: time.Now().UTC(),
	})
}

func (g *MemoryOrderGateway) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (g *MemoryOrderGateway) MarkShipped(ctx context.Context, orderID, trackingNumber string) error {
	return g.move(orderID, domain.OrderStatusShipped, "shipped with tracking "+trackingNumber, func(o *domain.Order) bool {
		if !o.Status.IsFulfillmentReady() {
			return false
		}
		o.TrackingNumber = trackingNumber
		return true
	})
}

func (g *MemoryOrderGateway) MarkDelivered(ctx context.Context, orderID string) error {
	return g.move(orderID, domain.OrderStatusDelivered, "delivered", func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusShipped
	})
}

func (g *MemoryOrderGateway) RevertToProcessing(ctx context.Context, orderID, reason string) error {
	return g.move(orderID, domain.OrderStatusProcessing, reason, func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusShipped
	})
}

// History returns the order's status entries, oldest first.
func (g *MemoryOrderGateway) History(orderID string) []domain.OrderStatusEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderStatusEntry(nil), g.history[orderID]...)
}

func (g *MemoryOrderGateway) move(orderID string, to domain.OrderStatus, note string, allowed func(*domain.Order) bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if !allowed(o) {
		return fmt.Errorf("%w: order %s is %s, cannot become %s", domain.ErrInvalidOrderStatus, orderID, o.Status, to)
	}
	now := time.Now().UTC()
	o.Status = to
	o.UpdatedAt = now
	g.history[orderID] = append(g.history[orderID], domain.OrderStatusEntry{Status: to, Note: note, CreatedAt: now})
	return nil
}
