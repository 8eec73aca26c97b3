package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/stockflow/internal/adapter/handler"
	"github.com/rl1809/stockflow/internal/adapter/messaging"
	"github.com/rl1809/stockflow/internal/adapter/storage"
	"github.com/rl1809/stockflow/internal/config"
	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/core/service"
	"github.com/rl1809/stockflow/internal/platform/observability"
	"github.com/rl1809/stockflow/internal/port"
)

const (
	demoProductID = "demo-product"
	demoOrderID   = "demo-order"
)

type backends struct {
	ledger   port.LedgerRepository
	ships    port.ShipmentRepository
	orders   port.OrderGateway
	cache    port.CacheRepository
	tracking port.TrackingNumberGenerator
	closers  []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.NewLogger(cfg.LogFormat)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, shutdownTracing, err := observability.SetupTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}

	var publisher port.EventPublisher = messaging.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, otel.GetTracerProvider(), observability.ServiceName)
		if err != nil {
			logger.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		b.closers = append(b.closers, kp.Close)
		publisher = kp
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	ledger := service.NewLedgerService(b.ledger, b.cache, publisher, logger.Named("ledger"), tracer, cfg.LedgerMaxRetries)
	shipments := service.NewShipmentService(b.ships, b.orders, b.tracking, publisher, logger.Named("shipment"), tracer)

	if cfg.Storage == config.StorageMemory {
		seedDemo(ctx, ledger, b.orders.(*storage.MemoryOrderGateway), logger)
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.UnaryLoggingInterceptor(logger.Named("grpc"))))
	handler.RegisterGRPC(grpcServer, handler.NewGRPCHandler(ledger, shipments))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(ledger, shipments, logger.Named("http")).Register(mux)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Error("failed to close resource", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}
	logger.Info("connections closed")
}

func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	if cfg.Storage == config.StorageMemory {
		cache := storage.NewMemoryCache()
		logger.Info("using in-memory storage")
		return &backends{
			ledger:   storage.NewMemoryLedgerStore(),
			ships:    storage.NewMemoryShipmentStore(),
			orders:   storage.NewMemoryOrderGateway(),
			cache:    cache,
			tracking: cache,
		}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	redisAdapter := storage.NewRedisAdapter(rdb)
	return &backends{
		ledger:   storage.NewMySQLLedgerStore(db),
		ships:    storage.NewMySQLShipmentStore(db),
		orders:   storage.NewMySQLOrderGateway(db),
		cache:    redisAdapter,
		tracking: redisAdapter,
		closers:  []func() error{db.Close, rdb.Close},
	}, nil
}

// seedDemo gives an in-memory instance one product and one confirmed order to
// work against.
func seedDemo(ctx context.Context, ledger *service.LedgerService, orders *storage.MemoryOrderGateway, logger *zap.Logger) {
	_, err := ledger.RegisterProduct(ctx, domain.ProductStock{
		ProductID: demoProductID,
		SKU:       "DEMO-001",
		Name:      "Demo product",
		Quantity:  100,
		Price:     decimal.RequireFromString("19.99"),
		IsActive:  true,
	})
	if err != nil {
		logger.Fatal("failed to seed demo product", zap.Error(err))
	}

	orders.PutOrder(domain.Order{
		ID:              demoOrderID,
		Status:          domain.OrderStatusConfirmed,
		Items:           []domain.OrderItem{{ProductID: demoProductID, SKU: "DEMO-001", Quantity: 2}},
		ShippingAddress: "1 Demo Street",
	})
	logger.Info("seeded demo data",
		zap.String("product_id", demoProductID),
		zap.String("order_id", demoOrderID))
}
