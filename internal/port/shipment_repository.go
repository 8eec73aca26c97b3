package port

import (
	"context"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// ShipmentMutation edits a locked shipment. Returning an error aborts the unit
// of work and leaves the stored shipment untouched.
type ShipmentMutation func(ctx context.Context, s *domain.Shipment) error

type ShipmentRepository interface {
	// Create inserts s, then runs beforeCommit inside the same unit of work.
	// Fails with ErrShipmentAlreadyExists if the order has an active shipment.
	Create(ctx context.Context, s *domain.Shipment, beforeCommit func(ctx context.Context) error) error

	// Update locks the shipment, applies mutate and persists the result atomically.
	Update(ctx context.Context, id string, mutate ShipmentMutation) (*domain.Shipment, error)

	Get(ctx context.Context, id string) (*domain.Shipment, error)

	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error)

	// FindActiveByOrder returns the order's non-cancelled shipment, or nil
	FindActiveByOrder(ctx context.Context, orderID string) (*domain.Shipment, error)

	ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error)
}
