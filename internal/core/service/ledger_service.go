package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/port"
)

const (
	DefaultMaxRetries = 5
	// DefaultPublishTimeout bounds how long a committed request waits on the
	// event broker.
	DefaultPublishTimeout = 2 * time.Second
	retryBaseDelay    = 2 * time.Millisecond
	idempotencyPrefix = "ledger:idem:"
)

type ApplyRequest struct {
	ProductID   string
	Type        domain.TransactionType
	Quantity    int
	Reason      string
	ReferenceID string
	PerformedBy string
	// Strict rejects a shortfall even for types whose policy is clamp.
	Strict bool
	// IdempotencyKey, when set, makes a repeated request fail with ErrDuplicateRequest.
	IdempotencyKey string
}

// movementPlan decides the transaction to write given the stock read in the
// current attempt. It is re-run on every retry.
type movementPlan func(current int) (domain.TransactionType, int, error)

type LedgerService struct {
	repo       port.LedgerRepository
	cache      port.CacheRepository
	publisher  port.EventPublisher
	logger     *zap.Logger
	tracer     trace.Tracer
	maxRetries int

	// publishTimeout bounds the post-commit publish.
	publishTimeout time.Duration
	now            func() time.Time
}

func NewLedgerService(
	repo port.LedgerRepository,
	cache port.CacheRepository,
	publisher port.EventPublisher,
	logger *zap.Logger,
	tracer trace.Tracer,
	maxRetries int,
) *LedgerService {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &LedgerService{
		repo:           repo,
		cache:          cache,
		publisher:      publisher,
		logger:         logger,
		tracer:         tracer,
		maxRetries:     maxRetries,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
	}
}

// RegisterProduct adds a product to the ledger with its opening quantity.
func (s *LedgerService) RegisterProduct(ctx context.Context, p domain.ProductStock) (*domain.ProductStock, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.register_product", trace.WithAttributes(
		attribute.String("product.id", p.ProductID),
	))
	defer span.End()

	if p.ProductID == "" {
		return nil, s.fail(span, domain.ErrInvalidProduct)
	}
	if p.Quantity < 0 {
		return nil, s.fail(span, fmt.Errorf("%w: opening quantity %d", domain.ErrInvalidQuantity, p.Quantity))
	}
	if p.Price.IsNegative() {
		return nil, s.fail(span, fmt.Errorf("%w: price %s", domain.ErrInvalidPrice, p.Price))
	}

	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, s.fail(span, err)
	}
	stock, err := s.repo.GetStock(ctx, p.ProductID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.logger.Info("product registered",
		zap.String("product_id", stock.ProductID),
		zap.Int("opening_quantity", stock.Quantity))
	if err := s.cache.SetStock(context.WithoutCancel(ctx), stock.ProductID, stock.Quantity, stock.Version); err != nil {
		s.logger.Warn("failed to mirror stock", zap.String("product_id", stock.ProductID), zap.Error(err))
	}
	return stock, nil
}

// ApplyTransaction records one stock movement and updates the product's
// quantity as a single atomic unit.
func (s *LedgerService) ApplyTransaction(ctx context.Context, req ApplyRequest) (*domain.InventoryTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.apply_transaction", trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.String("transaction.type", string(req.Type)),
		attribute.Int("transaction.quantity", req.Quantity),
	))
	defer span.End()

	if !req.Type.Valid() {
		return nil, s.fail(span, fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, req.Type))
	}
	if req.Quantity <= 0 {
		return nil, s.fail(span, fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, req.Quantity))
	}

	if req.IdempotencyKey != "" {
		key := idempotencyPrefix + req.IdempotencyKey
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return nil, s.fail(span, fmt.Errorf("idempotency check failed: %w", err))
		}
		if !ok {
			return nil, s.fail(span, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, req.IdempotencyKey))
		}
		txn, err := s.commit(ctx, req, fixedPlan(req))
		if err != nil {
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
			return nil, s.fail(span, err)
		}
		return txn, nil
	}

	txn, err := s.commit(ctx, req, fixedPlan(req))
	if err != nil {
		return nil, s.fail(span, err)
	}
	return txn, nil
}

// AdjustStock sets the product's stock to target by writing the matching
// adjustment entry.
func (s *LedgerService) AdjustStock(ctx context.Context, productID string, target int, reason, performedBy string) (*domain.InventoryTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.adjust_stock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("stock.target", target),
	))
	defer span.End()

	if target < 0 {
		return nil, s.fail(span, fmt.Errorf("%w: target %d", domain.ErrInvalidQuantity, target))
	}

	req := ApplyRequest{ProductID: productID, Reason: reason, PerformedBy: performedBy}
	txn, err := s.commit(ctx, req, func(current int) (domain.TransactionType, int, error) {
		diff := target - current
		switch {
		case diff == 0:
			return "", 0, fmt.Errorf("%w: stock is already %d", domain.ErrNoStockChange, current)
		case diff > 0:
			return domain.TransactionAdjustmentIn, diff, nil
		default:
			return domain.TransactionAdjustmentOut, -diff, nil
		}
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	return txn, nil
}

func (s *LedgerService) StockIn(ctx context.Context, productID string, quantity int, reason, performedBy string) (*domain.InventoryTransaction, error) {
	return s.ApplyTransaction(ctx, ApplyRequest{
		ProductID: productID, Type: domain.TransactionStockIn, Quantity: quantity,
		Reason: reason, PerformedBy: performedBy,
	})
}

// StockOut is an explicit withdrawal; a shortfall always fails.
func (s *LedgerService) StockOut(ctx context.Context, productID string, quantity int, reason, performedBy string) (*domain.InventoryTransaction, error) {
	return s.ApplyTransaction(ctx, ApplyRequest{
		ProductID: productID, Type: domain.TransactionStockOut, Quantity: quantity,
		Reason: reason, PerformedBy: performedBy, Strict: true,
	})
}

func (s *LedgerService) RecordSale(ctx context.Context, productID string, quantity int, orderID string) (*domain.InventoryTransaction, error) {
	return s.ApplyTransaction(ctx, ApplyRequest{
		ProductID: productID, Type: domain.TransactionSale, Quantity: quantity,
		Reason: "sale", ReferenceID: orderID,
	})
}

func (s *LedgerService) RecordReturn(ctx context.Context, productID string, quantity int, orderID, reason string) (*domain.InventoryTransaction, error) {
	return s.ApplyTransaction(ctx, ApplyRequest{
		ProductID: productID, Type: domain.TransactionReturn, Quantity: quantity,
		Reason: reason, ReferenceID: orderID,
	})
}

func (s *LedgerService) RecordDamage(ctx context.Context, productID string, quantity int, reason, performedBy string) (*domain.InventoryTransaction, error) {
	return s.ApplyTransaction(ctx, ApplyRequest{
		ProductID: productID, Type: domain.TransactionDamage, Quantity: quantity,
		Reason: reason, PerformedBy: performedBy,
	})
}

func fixedPlan(req ApplyRequest) movementPlan {
	return func(int) (domain.TransactionType, int, error) {
		return req.Type, req.Quantity, nil
	}
}

// commit runs read-compute-append until the append wins the version check.
func (s *LedgerService) commit(ctx context.Context, req ApplyRequest, plan movementPlan) (*domain.InventoryTransaction, error) {
	for attempt := 1; ; attempt++ {
		stock, err := s.repo.GetStock(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}

		txType, quantity, err := plan(stock.Quantity)
		if err != nil {
			return nil, err
		}
		mv, err := domain.ComputeMovement(txType, stock.Quantity, quantity, req.Strict)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", req.ProductID, err)
		}

		txn := &domain.InventoryTransaction{
			ID:                uuid.NewString(),
			ProductID:         req.ProductID,
			Type:              txType,
			Quantity:          mv.Applied,
			RequestedQuantity: quantity,
			PreviousQuantity:  mv.Previous,
			NewQuantity:       mv.New,
			Reason:            req.Reason,
			ReferenceID:       req.ReferenceID,
			PerformedBy:       req.PerformedBy,
			OccurredAt:        s.now().UTC(),
		}

		updated, err := s.repo.Append(ctx, txn, stock.Version)
		if err == nil {
			s.afterCommit(ctx, txn, updated)
			return txn, nil
		}
		if !domain.IsStale(err) {
			return nil, fmt.Errorf("append transaction: %w", err)
		}
		if attempt >= s.maxRetries {
			return nil, fmt.Errorf("%w: product %s after %d attempts", domain.ErrConcurrentUpdate, req.ProductID, attempt)
		}

		s.logger.Debug("stock version conflict, retrying",
			zap.String("product_id", req.ProductID),
			zap.Int("attempt", attempt))
		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// afterCommit mirrors and announces a committed entry. Neither step can undo
// the commit, so failures are logged only.
func (s *LedgerService) afterCommit(ctx context.Context, txn *domain.InventoryTransaction, stock *domain.ProductStock) {
	ctx = context.WithoutCancel(ctx)

	if err := s.cache.SetStock(ctx, stock.ProductID, stock.Quantity, stock.Version); err != nil {
		s.logger.Warn("failed to mirror stock", zap.String("product_id", stock.ProductID), zap.Error(err))
		if err := s.cache.InvalidateStock(ctx, stock.ProductID); err != nil {
			s.logger.Error("failed to invalidate stock mirror", zap.String("product_id", stock.ProductID), zap.Error(err))
		}
	}

	event := domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventStockChanged,
		Key:        txn.ProductID,
		OccurredAt: txn.OccurredAt,
		Payload: domain.StockChanged{
			TransactionID:    txn.ID,
			ProductID:        txn.ProductID,
			Type:             txn.Type,
			Quantity:         txn.Quantity,
			PreviousQuantity: txn.PreviousQuantity,
			NewQuantity:      txn.NewQuantity,
			ReferenceID:      txn.ReferenceID,
		},
	}
	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Error("failed to publish stock event", zap.String("transaction_id", txn.ID), zap.Error(err))
	}

	s.logger.Info("stock transaction applied",
		zap.String("transaction_id", txn.ID),
		zap.String("product_id", txn.ProductID),
		zap.String("type", string(txn.Type)),
		zap.Int("quantity", txn.Quantity),
		zap.Int("previous_quantity", txn.PreviousQuantity),
		zap.Int("new_quantity", txn.NewQuantity),
		zap.Bool("clamped", txn.Clamped()))
}

func (s *LedgerService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(domain.KindOf(err)))
	return err
}

func sleepBackoff(ctx context.Context, attempt int) error {
	d := retryBaseDelay * time.Duration(attempt)
	d += time.Duration(rand.Int64N(int64(retryBaseDelay)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
