package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/port"
)

// MemoryShipmentStore serializes work per shipment with one mutex each.
// Creates are serialized store-wide so the one-active-shipment rule holds.
type MemoryShipmentStore struct {
	createMu sync.Mutex

	mu         sync.Mutex
	shipments  map[string]*domain.Shipment
	locks      map[string]*sync.Mutex
	byTracking map[string]string
	active     map[string]string // order id -> shipment id
}

func NewMemoryShipmentStore() *MemoryShipmentStore {
	return &MemoryShipmentStore{
		shipments:  make(map[string]*domain.Shipment),
		locks:      make(map[string]*sync.Mutex),
		byTracking: make(map[string]string),
		active:     make(map[string]string),
	}
}

func (m *MemoryShipmentStore) Create(ctx context.Context, s *domain.Shipment, beforeCommit func(ctx context.Context) error) error {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.mu.Lock()
	if id, ok := m.active[s.OrderID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: order %s has shipment %s", domain.ErrShipmentAlreadyExists, s.OrderID, id)
	}
	if _, ok := m.byTracking[s.TrackingNumber]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTrackingNumberTaken, s.TrackingNumber)
	}
	m.mu.Unlock()

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[s.ID] = s.Clone()
	m.locks[s.ID] = &sync.Mutex{}
	m.byTracking[s.TrackingNumber] = s.ID
	if s.IsActive() {
		m.active[s.OrderID] = s.ID
	}
	return nil
}

func (m *MemoryShipmentStore) Update(ctx context.Context, id string, mutate port.ShipmentMutation) (*domain.Shipment, error) {
	m.mu.Lock()
	lock, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrShipmentNotFound, id)
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	working := m.shipments[id].Clone()
	m.mu.Unlock()

	if err := mutate(ctx, working); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[id] = working.Clone()
	if !working.IsActive() && m.active[working.OrderID] == id {
		delete(m.active, working.OrderID)
	}
	return working, nil
}

func (m *MemoryShipmentStore) Get(ctx context.Context, id string) (*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrShipmentNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryShipmentStore) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	m.mu.Lock()
	id, ok := m.byTracking[trackingNumber]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: tracking %s", domain.ErrShipmentNotFound, trackingNumber)
	}
	return m.Get(ctx, id)
}

func (m *MemoryShipmentStore) FindActiveByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.active[orderID]
	if !ok {
		return nil, nil
	}
	return m.shipments[id].Clone(), nil
}

func (m *MemoryShipmentStore) ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Shipment
	for _, s := range m.shipments {
		if s.OrderID == orderID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
