package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockflow/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisSetStock_VersionGuard(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, stockKeyPrefix+"test-product")
	defer client.Del(ctx, stockKeyPrefix+"test-product")

	if err := adapter.SetStock(ctx, "test-product", 10, 5); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	adapter.SetStock(ctx, "test-product", 99, 3)

	qty, ok, err := adapter.GetStock(ctx, "test-product")
	if err != nil || !ok {
		t.Fatalf("expected cached stock, got ok=%v err=%v", ok, err)
	}
	if qty != 10 {
		t.Errorf("older version overwrote mirror: %d", qty)
	}

	adapter.SetStock(ctx, "test-product", 7, 6)
	if qty, _, _ := adapter.GetStock(ctx, "test-product"); qty != 7 {
		t.Errorf("expected 7, got %d", qty)
	}

	ttl := client.PTTL(ctx, stockKeyPrefix+"test-product").Val()
	if ttl <= 0 || ttl > stockMirrorTTL {
		t.Errorf("unexpected mirror ttl %v", ttl)
	}
}

func TestRedisGetStock_Miss(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, stockKeyPrefix+"test-missing")
	if _, ok, err := adapter.GetStock(ctx, "test-missing"); ok || err != nil {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	adapter.SetStock(ctx, "test-missing", 1, 1)
	adapter.InvalidateStock(ctx, "test-missing")
	if _, ok, _ := adapter.GetStock(ctx, "test-missing"); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestRedisSetStock_ConcurrentWritersKeepNewest(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, stockKeyPrefix+"test-concurrent")
	defer client.Del(ctx, stockKeyPrefix+"test-concurrent")

	var wg sync.WaitGroup
	for v := 1; v <= 50; v++ {
		wg.Add(1)
		go func(version int) {
			defer wg.Done()
			adapter.SetStock(ctx, "test-concurrent", 100-version, int64(version))
		}(v)
	}
	wg.Wait()

	if qty, _, _ := adapter.GetStock(ctx, "test-concurrent"); qty != 50 {
		t.Errorf("expected quantity of version 50, got %d", qty)
	}
}

func TestRedisIdempotency(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	key := "idem:test-key"
	client.Del(ctx, key)
	defer client.Del(ctx, key)

	ok, err := adapter.SetIdempotency(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first claim failed: ok=%v err=%v", ok, err)
	}
	if ok, _ := adapter.SetIdempotency(ctx, key); ok {
		t.Error("second claim should fail")
	}
	adapter.ReleaseIdempotency(ctx, key)
	if ok, _ := adapter.SetIdempotency(ctx, key); !ok {
		t.Error("claim after release should succeed")
	}
}

func TestRedisNextTrackingNumber_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	day := time.Date(2031, 1, 2, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return day }
	key := trackingKeyPrefix + day.Format(trackingDayLayout)
	client.Del(ctx, key)
	defer client.Del(ctx, key)

	var wg sync.WaitGroup
	var failures atomic.Int32
	seen := sync.Map{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tn, err := adapter.NextTrackingNumber(ctx)
			if err != nil {
				failures.Add(1)
				return
			}
			if _, dup := seen.LoadOrStore(tn, true); dup {
				t.Errorf("duplicate tracking number %s", tn)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d tracking number draws failed", failures.Load())
	}
	if ttl := client.TTL(ctx, key).Val(); ttl <= 0 {
		t.Errorf("expected sequence key to expire, ttl %v", ttl)
	}
	if seq, _ := client.Get(ctx, key).Int(); seq != 100 {
		t.Errorf("expected sequence 100, got %d", seq)
	}
}

func TestRedisNextTrackingNumber_RestoresMissingExpiry(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	day := time.Date(2031, 1, 3, 8, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return day }
	key := trackingKeyPrefix + day.Format(trackingDayLayout)
	// A counter left behind without an expiry.
	client.Set(ctx, key, 41, 0)
	defer client.Del(ctx, key)

	tn, err := adapter.NextTrackingNumber(ctx)
	if err != nil {
		t.Fatalf("NextTrackingNumber failed: %v", err)
	}
	if tn != domain.FormatTrackingNumber(day, 42) {
		t.Errorf("expected sequence 42, got %s", tn)
	}
	if ttl := client.PTTL(ctx, key).Val(); ttl <= 0 || ttl > trackingSeqTTL {
		t.Errorf("expected expiry restored within %v, got %v", trackingSeqTTL, ttl)
	}
}
