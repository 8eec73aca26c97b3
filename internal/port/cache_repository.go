package port

import "context"

type CacheRepository interface {
	// SetStock mirrors a committed quantity; ignored when version is not newer
	// than the cached one
	SetStock(ctx context.Context, productID string, quantity int, version int64) error

	// GetStock returns the mirrored quantity; ok is false on a miss
	GetStock(ctx context.Context, productID string) (quantity int, ok bool, err error)

	// InvalidateStock drops the mirror so the next read hits the store
	InvalidateStock(ctx context.Context, productID string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request did not commit
	ReleaseIdempotency(ctx context.Context, key string) error
}

type TrackingNumberGenerator interface {
	// NextTrackingNumber returns a globally unique tracking number
	NextTrackingNumber(ctx context.Context) (string, error)
}
