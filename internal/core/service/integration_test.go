package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rl1809/stockflow/internal/adapter/messaging"
	"github.com/rl1809/stockflow/internal/adapter/storage"
	"github.com/rl1809/stockflow/internal/core/domain"
)

type integrationEnv struct {
	mysql     *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	shipments *ShipmentService
	orders    *storage.MySQLOrderGateway
}

func setupIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/stockflow?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	cache := storage.NewRedisAdapter(rdb)
	tracer := noop.NewTracerProvider().Tracer("test")
	orders := storage.NewMySQLOrderGateway(db)

	return &integrationEnv{
		mysql:     db,
		redis:     rdb,
		ledger:    NewLedgerService(storage.NewMySQLLedgerStore(db), cache, messaging.NopPublisher{}, zap.NewNop(), tracer, 1000),
		shipments: NewShipmentService(storage.NewMySQLShipmentStore(db), orders, cache, messaging.NopPublisher{}, zap.NewNop(), tracer),
		orders:    orders,
	}
}

func TestIntegration_ConcurrentSalesNeverOversell(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	productID := "integration-" + uuid.NewString()[:8]
	initialStock := 10

	if _, err := env.ledger.RegisterProduct(ctx, domain.ProductStock{ProductID: productID, Quantity: initialStock, IsActive: true}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.ApplyTransaction(ctx, ApplyRequest{
				ProductID: productID, Type: domain.TransactionSale, Quantity: 1,
				ReferenceID: uuid.NewString(), Strict: true,
			})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful sales, got %d", initialStock, successCount.Load())
	}

	var stored int
	env.mysql.QueryRowContext(ctx, `SELECT quantity FROM products WHERE product_id = ?`, productID).Scan(&stored)
	if stored != 0 {
		t.Errorf("expected MySQL stock 0, got %d", stored)
	}
	if qty, ok, _ := storage.NewRedisAdapter(env.redis).GetStock(ctx, productID); ok && qty != 0 {
		t.Errorf("expected Redis mirror 0, got %d", qty)
	}

	report, err := env.ledger.Reconcile(ctx, productID)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !report.Consistent || report.Entries != initialStock+1 {
		t.Errorf("unexpected reconcile report: %+v", report)
	}
}

func TestIntegration_IdempotencyPreventsDoubleApply(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	productID := "integration-" + uuid.NewString()[:8]
	key := "integration-" + uuid.NewString()

	env.ledger.RegisterProduct(ctx, domain.ProductStock{ProductID: productID, Quantity: 10, IsActive: true})

	req := ApplyRequest{ProductID: productID, Type: domain.TransactionSale, Quantity: 1, IdempotencyKey: key}
	if _, err := env.ledger.ApplyTransaction(ctx, req); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if _, err := env.ledger.ApplyTransaction(ctx, req); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got %v", err)
	}

	p, _ := env.ledger.repo.GetStock(ctx, productID)
	if p.Quantity != 9 {
		t.Errorf("expected stock 9, got %d", p.Quantity)
	}
}

func TestIntegration_ShipmentDeliveryUpdatesOrder(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	orderID := "integration-" + uuid.NewString()[:8]

	if err := env.orders.PutOrder(ctx, domain.Order{ID: orderID, Status: domain.OrderStatusConfirmed}); err != nil {
		t.Fatalf("put order failed: %v", err)
	}

	s, err := env.shipments.Create(ctx, CreateShipmentRequest{
		OrderID: orderID,
		Items:   []domain.ShipmentItem{{ProductID: "P1", Quantity: 1}},
		Carrier: "DHL",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, next := range []domain.ShipmentStatus{
		domain.ShipmentStatusPickedUp,
		domain.ShipmentStatusInTransit,
		domain.ShipmentStatusOutForDelivery,
		domain.ShipmentStatusDelivered,
	} {
		if _, err := env.shipments.Transition(ctx, TransitionRequest{ShipmentID: s.ID, Target: next}); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}

	o, err := env.orders.FindByID(ctx, orderID)
	if err != nil {
		t.Fatalf("find order failed: %v", err)
	}
	if o.Status != domain.OrderStatusDelivered || o.TrackingNumber != s.TrackingNumber {
		t.Errorf("unexpected order after delivery: %+v", o)
	}

	got, _ := env.shipments.GetByTrackingNumber(ctx, s.TrackingNumber)
	if got.Status != domain.ShipmentStatusDelivered || len(got.TrackingHistory) != 5 || got.Version != 5 {
		t.Errorf("unexpected stored shipment: status=%s history=%d version=%d", got.Status, len(got.TrackingHistory), got.Version)
	}
}
