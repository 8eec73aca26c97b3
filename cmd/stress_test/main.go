package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rl1809/stockflow/internal/adapter/messaging"
	"github.com/rl1809/stockflow/internal/adapter/storage"
	"github.com/rl1809/stockflow/internal/config"
	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/core/service"
	"github.com/rl1809/stockflow/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	maxRetries    = 50
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	repo, cache, closeFn := openStores(ctx, cfg)
	defer closeFn()

	ledger := service.NewLedgerService(repo, cache, messaging.NopPublisher{}, zap.NewNop(), noop.NewTracerProvider().Tracer("stress"), maxRetries)

	productID := "stress-" + uuid.NewString()[:8]
	if _, err := ledger.RegisterProduct(ctx, domain.ProductStock{
		ProductID: productID,
		Name:      "stress test item",
		Quantity:  initialStock,
		Price:     decimal.NewFromInt(10),
		IsActive:  true,
	}); err != nil {
		log.Fatalf("failed to register product: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32
	var contendedCount atomic.Int32

	// Spawn concurrent strict withdrawals of one unit each
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := ledger.ApplyTransaction(ctx, service.ApplyRequest{
				ProductID:   productID,
				Type:        domain.TransactionSale,
				Quantity:    1,
				ReferenceID: fmt.Sprintf("order-%d", n),
				Strict:      true,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindInvariant:
				contendedCount.Add(1)
			default:
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()
	contended := contendedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Storage:          %s\n", cfg.Storage)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", fail)
	fmt.Printf("Gave Up Retrying: %d\n", contended)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if success+contended == 0 || success > int32(initialStock) {
		fmt.Printf("FAIL: %d sales succeeded against %d units\n", success, initialStock)
		ok = false
	}

	stock, err := repo.GetStock(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	if want := initialStock - int(success); stock.Quantity != want {
		fmt.Printf("FAIL: lost update, expected stock %d, got %d\n", want, stock.Quantity)
		ok = false
	} else {
		fmt.Printf("PASS: stock %d = %d - %d successful sales\n", stock.Quantity, initialStock, success)
	}

	report, err := ledger.Reconcile(ctx, productID)
	if err != nil {
		log.Fatalf("failed to reconcile: %v", err)
	}
	if report.Consistent {
		fmt.Printf("PASS: ledger replay (%d entries) equals stored quantity %d\n", report.Entries, report.StoredQuantity)
	} else {
		fmt.Printf("FAIL: ledger replays to %d, stored %d\n", report.LedgerQuantity, report.StoredQuantity)
		ok = false
	}

	if !ok {
		os.Exit(1)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (port.LedgerRepository, port.CacheRepository, func()) {
	if cfg.Storage == config.StorageMemory {
		return storage.NewMemoryLedgerStore(), storage.NewMemoryCache(), func() {}
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	return storage.NewMySQLLedgerStore(db), storage.NewRedisAdapter(rdb), func() {
		rdb.Close()
		db.Close()
	}
}
