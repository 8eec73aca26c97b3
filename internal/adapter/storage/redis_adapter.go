package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockflow/internal/core/domain"
)

const (
	stockKeyPrefix    = "stock:"
	trackingKeyPrefix = "tracking:seq:"
	trackingDayLayout = "20060102"
	idempotencyKeyTTL = 24 * time.Hour
	stockMirrorTTL    = 10 * time.Minute
	trackingSeqTTL    = 48 * time.Hour
)

// setStockScript writes the mirror only if the incoming version is newer, so
// late writers cannot roll the cached quantity back.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = ARGV[1]
local version = tonumber(ARGV[2])

local current = redis.call('HGET', key, 'v')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'q', quantity, 'v', version)
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

// nextTrackingScript bumps the day's counter and sets its expiry in one step,
// so a failure between the two can never leave a counter that lives forever.
var nextTrackingScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return seq
`)

type RedisAdapter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, now: time.Now}
}

func (r *RedisAdapter) SetStock(ctx context.Context, productID string, quantity int, version int64) error {
	key := stockKeyPrefix + productID
	return setStockScript.Run(ctx, r.client, []string{key}, quantity, version, stockMirrorTTL.Milliseconds()).Err()
}

func (r *RedisAdapter) GetStock(ctx context.Context, productID string) (int, bool, error) {
	key := stockKeyPrefix + productID

	qty, err := r.client.HGet(ctx, key, "q").Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

func (r *RedisAdapter) InvalidateStock(ctx context.Context, productID string) error {
	return r.client.Del(ctx, stockKeyPrefix+productID).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// NextTrackingNumber draws from a per-day counter shared by every instance.
func (r *RedisAdapter) NextTrackingNumber(ctx context.Context) (string, error) {
	day := r.now().UTC()
	key := trackingKeyPrefix + day.Format(trackingDayLayout)

	seq, err := nextTrackingScript.Run(ctx, r.client, []string{key}, trackingSeqTTL.Milliseconds()).Int64()
	if err != nil {
		return "", err
	}
	return domain.FormatTrackingNumber(day, seq), nil
}
