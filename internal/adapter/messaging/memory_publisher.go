package messaging

import (
	"context"
	"sync"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, events ...domain.Event) error { return nil }

// MemoryPublisher records events in publish order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *MemoryPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

// OfType returns the recorded events with the given type.
func (p *MemoryPublisher) OfType(eventType string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
