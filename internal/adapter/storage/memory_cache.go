package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/stockflow/internal/core/domain"
)

type cachedStock struct {
	quantity int
	version  int64
}

// MemoryCache implements the cache and tracking sequence without Redis.
type MemoryCache struct {
	mu          sync.Mutex
	stock       map[string]cachedStock
	idempotency map[string]time.Time
	seqDay      string
	seq         int64
	now         func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		stock:       make(map[string]cachedStock),
		idempotency: make(map[string]time.Time),
		now:         time.Now,
	}
}

func (c *MemoryCache) SetStock(ctx context.Context, productID string, quantity int, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.stock[productID]; ok && cur.version >= version {
		return nil
	}
	c.stock[productID] = cachedStock{quantity: quantity, version: version}
	return nil
}

func (c *MemoryCache) GetStock(ctx context.Context, productID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.stock[productID]
	return cur.quantity, ok, nil
}

func (c *MemoryCache) InvalidateStock(ctx context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.stock, productID)
	return nil
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.idempotency[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.idempotency[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.idempotency, key)
	return nil
}

func (c *MemoryCache) NextTrackingNumber(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := c.now().UTC()
	if key := day.Format(trackingDayLayout); key != c.seqDay {
		c.seqDay = key
		c.seq = 0
	}
	c.seq++
	return domain.FormatTrackingNumber(day, c.seq), nil
}
