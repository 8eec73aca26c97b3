package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stockflow/internal/core/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultTrendDays    = 30
	maxTrendDays        = 365
)

// CurrentStock reads the mirrored quantity, falling back to the store.
func (s *LedgerService) CurrentStock(ctx context.Context, productID string) (int, error) {
	if qty, ok, err := s.cache.GetStock(ctx, productID); err != nil {
		s.logger.Warn("stock mirror read failed", zap.String("product_id", productID), zap.Error(err))
	} else if ok {
		return qty, nil
	}

	stock, err := s.repo.GetStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetStock(ctx, productID, stock.Quantity, stock.Version); err != nil {
		s.logger.Warn("failed to mirror stock", zap.String("product_id", productID), zap.Error(err))
	}
	return stock.Quantity, nil
}

func (s *LedgerService) GetHistory(ctx context.Context, filter domain.HistoryFilter) (domain.HistoryPage, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_history", trace.WithAttributes(
		attribute.String("product.id", filter.ProductID),
	))
	defer span.End()

	if filter.Type != "" && !filter.Type.Valid() {
		return domain.HistoryPage{}, s.fail(span, fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, filter.Type))
	}
	if filter.ProductID != "" {
		if _, err := s.repo.GetStock(ctx, filter.ProductID); err != nil {
			return domain.HistoryPage{}, s.fail(span, err)
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	page, err := s.repo.History(ctx, filter)
	if err != nil {
		return domain.HistoryPage{}, s.fail(span, fmt.Errorf("query history: %w", err))
	}
	return page, nil
}

func (s *LedgerService) GetProductStats(ctx context.Context, productID string) (*domain.ProductStats, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_product_stats", trace.WithAttributes(
		attribute.String("product.id", productID),
	))
	defer span.End()

	stock, entries, err := s.snapshot(ctx, productID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	stats := &domain.ProductStats{
		ProductID:    productID,
		CurrentStock: stock.Quantity,
		StockValue:   stock.Value(),
		Transactions: len(entries),
		ByType:       make(map[domain.TransactionType]int),
	}
	for _, e := range entries {
		stats.ByType[e.Type] += e.Quantity
		if e.Type.IsIncrease() {
			stats.TotalIn += e.Quantity
		} else {
			stats.TotalOut += e.Quantity
		}
	}
	if n := len(entries); n > 0 {
		last := entries[n-1].OccurredAt
		stats.LastMovementAt = &last
	}
	return stats, nil
}

// GetTrendAnalysis buckets movements per UTC day over the last days days,
// today included.
func (s *LedgerService) GetTrendAnalysis(ctx context.Context, productID string, days int) ([]domain.TrendPoint, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.get_trend_analysis", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("trend.days", days),
	))
	defer span.End()

	if days <= 0 {
		days = defaultTrendDays
	}
	if days > maxTrendDays {
		days = maxTrendDays
	}

	_, entries, err := s.snapshot(ctx, productID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	points := make([]domain.TrendPoint, days)
	for i := range points {
		points[i].Day = start.AddDate(0, 0, i)
	}

	for _, e := range entries {
		day := e.OccurredAt.UTC().Truncate(24 * time.Hour)
		if day.Before(start) || day.After(today) {
			continue
		}
		p := &points[int(day.Sub(start).Hours()/24)]
		if e.Type.IsIncrease() {
			p.In += e.Quantity
		} else {
			p.Out += e.Quantity
		}
		p.Net += e.Delta()
	}
	return points, nil
}

// Reconcile replays the product's ledger and compares the result with the
// stored quantity. Each entry must start where the previous one ended.
func (s *LedgerService) Reconcile(ctx context.Context, productID string) (*domain.ReconcileReport, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.reconcile", trace.WithAttributes(
		attribute.String("product.id", productID),
	))
	defer span.End()

	stock, entries, err := s.snapshot(ctx, productID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	report := &domain.ReconcileReport{
		ProductID:      productID,
		StoredQuantity: stock.Quantity,
		Entries:        len(entries),
		Consistent:     true,
	}
	running, prev := 0, 0
	for _, e := range entries {
		if e.PreviousQuantity != prev || e.NewQuantity != e.PreviousQuantity+e.Delta() {
			report.Consistent = false
		}
		running += e.Delta()
		prev = e.NewQuantity
	}
	report.LedgerQuantity = running
	if running != stock.Quantity {
		report.Consistent = false
	}

	if !report.Consistent {
		s.logger.Error("ledger does not reproduce stored stock",
			zap.String("product_id", productID),
			zap.Int("stored", report.StoredQuantity),
			zap.Int("ledger", report.LedgerQuantity))
	}
	return report, nil
}

// snapshot reads stock and entries; entries are re-read if the stock moved
// in between so both describe the same version.
func (s *LedgerService) snapshot(ctx context.Context, productID string) (*domain.ProductStock, []domain.InventoryTransaction, error) {
	for attempt := 1; ; attempt++ {
		stock, err := s.repo.GetStock(ctx, productID)
		if err != nil {
			return nil, nil, err
		}
		entries, err := s.repo.Entries(ctx, productID)
		if err != nil {
			return nil, nil, fmt.Errorf("load entries: %w", err)
		}
		n := len(entries)
		if n == 0 || entries[n-1].NewQuantity == stock.Quantity || attempt >= s.maxRetries {
			return stock, entries, nil
		}
	}
}
