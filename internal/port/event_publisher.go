package port

import (
	"context"

	"github.com/rl1809/stockflow/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}
