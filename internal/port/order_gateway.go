package port

import (
	"context"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// OrderGateway is the only path to the order aggregate. Each mutation appends
// its own status-history entry on the order side.
type OrderGateway interface {
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)
	MarkShipped(ctx context.Context, orderID, trackingNumber string) error
	MarkDelivered(ctx context.Context, orderID string) error
	RevertToProcessing(ctx context.Context, orderID, reason string) error
}
