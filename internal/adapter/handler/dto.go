package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/core/service"
)

// Request and response bodies shared by the HTTP and gRPC transports.

type RegisterProductRequest struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type ProductResponse struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	IsActive  bool            `json:"is_active"`
	Version   int64           `json:"version"`
}

type ApplyTransactionRequest struct {
	ProductID      string `json:"product_id"`
	Type           string `json:"type"`
	Quantity       int    `json:"quantity"`
	Reason         string `json:"reason"`
	ReferenceID    string `json:"reference_id"`
	PerformedBy    string `json:"performed_by"`
	Strict         bool   `json:"strict"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r ApplyTransactionRequest) toService() service.ApplyRequest {
	return service.ApplyRequest{
		ProductID:      r.ProductID,
		Type:           domain.TransactionType(r.Type),
		Quantity:       r.Quantity,
		Reason:         r.Reason,
		ReferenceID:    r.ReferenceID,
		PerformedBy:    r.PerformedBy,
		Strict:         r.Strict,
		IdempotencyKey: r.IdempotencyKey,
	}
}

type AdjustStockRequest struct {
	ProductID      string `json:"product_id"`
	TargetQuantity int    `json:"target_quantity"`
	Reason         string `json:"reason"`
	PerformedBy    string `json:"performed_by"`
}

type TransactionResponse struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	Type              string    `json:"type"`
	Quantity          int       `json:"quantity"`
	RequestedQuantity int       `json:"requested_quantity"`
	PreviousQuantity  int       `json:"previous_quantity"`
	NewQuantity       int       `json:"new_quantity"`
	Clamped           bool      `json:"clamped"`
	Reason            string    `json:"reason,omitempty"`
	ReferenceID       string    `json:"reference_id,omitempty"`
	PerformedBy       string    `json:"performed_by,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type HistoryRequest struct {
	ProductID   string    `json:"product_id"`
	Type        string    `json:"type"`
	ReferenceID string    `json:"reference_id"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Limit       int       `json:"limit"`
	Offset      int       `json:"offset"`
}

func (r HistoryRequest) toFilter() domain.HistoryFilter {
	return domain.HistoryFilter{
		ProductID:   r.ProductID,
		Type:        domain.TransactionType(r.Type),
		ReferenceID: r.ReferenceID,
		From:        r.From,
		To:          r.To,
		Limit:       r.Limit,
		Offset:      r.Offset,
	}
}

type HistoryResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
}

type ProductRequest struct {
	ProductID string `json:"product_id"`
	Days      int    `json:"days,omitempty"`
}

type StatsResponse struct {
	ProductID      string         `json:"product_id"`
	CurrentStock   int            `json:"current_stock"`
	StockValue     string         `json:"stock_value"`
	TotalIn        int            `json:"total_in"`
	TotalOut       int            `json:"total_out"`
	Transactions   int            `json:"transactions"`
	ByType         map[string]int `json:"by_type"`
	LastMovementAt *time.Time     `json:"last_movement_at,omitempty"`
}

type TrendPointResponse struct {
	Day string `json:"day"`
	In  int    `json:"in"`
	Out int    `json:"out"`
	Net int    `json:"net"`
}

type TrendResponse struct {
	ProductID string               `json:"product_id"`
	Points    []TrendPointResponse `json:"points"`
}

type ReconcileResponse struct {
	ProductID      string `json:"product_id"`
	StoredQuantity int    `json:"stored_quantity"`
	LedgerQuantity int    `json:"ledger_quantity"`
	Entries        int    `json:"entries"`
	Consistent     bool   `json:"consistent"`
}

type StockResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ShipmentItemBody struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int    `json:"quantity"`
}

type CreateShipmentRequest struct {
	OrderID             string             `json:"order_id"`
	Items               []ShipmentItemBody `json:"items"`
	Carrier             string             `json:"carrier"`
	TrackingNumber      string             `json:"tracking_number"`
	ShippingAddress     string             `json:"shipping_address"`
	EstimatedDeliveryAt *time.Time         `json:"estimated_delivery_at"`
	Location            string             `json:"location"`
	Notes               string             `json:"notes"`
}

func (r CreateShipmentRequest) toService() service.CreateShipmentRequest {
	items := make([]domain.ShipmentItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, domain.ShipmentItem{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity})
	}
	return service.CreateShipmentRequest{
		OrderID:             r.OrderID,
		Items:               items,
		Carrier:             r.Carrier,
		TrackingNumber:      r.TrackingNumber,
		ShippingAddress:     r.ShippingAddress,
		EstimatedDeliveryAt: r.EstimatedDeliveryAt,
		Location:            r.Location,
		Notes:               r.Notes,
	}
}

type TransitionShipmentRequest struct {
	ShipmentID  string `json:"shipment_id"`
	Status      string `json:"status"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
	Reason      string `json:"reason"`
}

func (r TransitionShipmentRequest) toService() service.TransitionRequest {
	return service.TransitionRequest{
		ShipmentID:  r.ShipmentID,
		Target:      domain.ShipmentStatus(r.Status),
		Location:    r.Location,
		Description: r.Description,
		Notes:       r.Notes,
		Reason:      r.Reason,
	}
}

type CancelShipmentRequest struct {
	ShipmentID string `json:"shipment_id"`
	Reason     string `json:"reason"`
}

type ShipmentLookupRequest struct {
	ShipmentID     string `json:"shipment_id,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
}

type TrackingEventResponse struct {
	Status      string    `json:"status"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description"`
	Notes       string    `json:"notes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type ShipmentResponse struct {
	ID                  string                  `json:"id"`
	OrderID             string                  `json:"order_id"`
	TrackingNumber      string                  `json:"tracking_number"`
	Carrier             string                  `json:"carrier"`
	Status              string                  `json:"status"`
	NextStatuses        []string                `json:"next_statuses"`
	Items               []ShipmentItemBody      `json:"items"`
	ShippingAddress     string                  `json:"shipping_address,omitempty"`
	ShippedAt           *time.Time              `json:"shipped_at,omitempty"`
	EstimatedDeliveryAt *time.Time              `json:"estimated_delivery_at,omitempty"`
	DeliveredAt         *time.Time              `json:"delivered_at,omitempty"`
	CancelledAt         *time.Time              `json:"cancelled_at,omitempty"`
	CancellationReason  string                  `json:"cancellation_reason,omitempty"`
	TrackingHistory     []TrackingEventResponse `json:"tracking_history"`
	Version             int64                   `json:"version"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

type ShipmentListResponse struct {
	Shipments []ShipmentResponse `json:"shipments"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func toProductResponse(p *domain.ProductStock) ProductResponse {
	return ProductResponse{
		ProductID: p.ProductID,
		SKU:       p.SKU,
		Name:      p.Name,
		Quantity:  p.Quantity,
		Price:     p.Price,
		IsActive:  p.IsActive,
		Version:   p.Version,
	}
}

func toTransactionResponse(t domain.InventoryTransaction) TransactionResponse {
	return TransactionResponse{
		ID:                t.ID,
		ProductID:         t.ProductID,
		Type:              string(t.Type),
		Quantity:          t.Quantity,
		RequestedQuantity: t.RequestedQuantity,
		PreviousQuantity:  t.PreviousQuantity,
		NewQuantity:       t.NewQuantity,
		Clamped:           t.Clamped(),
		Reason:            t.Reason,
		ReferenceID:       t.ReferenceID,
		PerformedBy:       t.PerformedBy,
		OccurredAt:        t.OccurredAt,
	}
}

func toHistoryResponse(page domain.HistoryPage) HistoryResponse {
	resp := HistoryResponse{Total: page.Total, Transactions: make([]TransactionResponse, 0, len(page.Transactions))}
	for _, t := range page.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(t))
	}
	return resp
}

func toStatsResponse(s *domain.ProductStats) StatsResponse {
	byType := make(map[string]int, len(s.ByType))
	for t, n := range s.ByType {
		byType[string(t)] = n
	}
	return StatsResponse{
		ProductID:      s.ProductID,
		CurrentStock:   s.CurrentStock,
		StockValue:     s.StockValue.StringFixed(2),
		TotalIn:        s.TotalIn,
		TotalOut:       s.TotalOut,
		Transactions:   s.Transactions,
		ByType:         byType,
		LastMovementAt: s.LastMovementAt,
	}
}

func toTrendResponse(productID string, points []domain.TrendPoint) TrendResponse {
	resp := TrendResponse{ProductID: productID, Points: make([]TrendPointResponse, 0, len(points))}
	for _, p := range points {
		resp.Points = append(resp.Points, TrendPointResponse{
			Day: p.Day.Format(time.DateOnly),
			In:  p.In,
			Out: p.Out,
			Net: p.Net,
		})
	}
	return resp
}

func toReconcileResponse(r *domain.ReconcileReport) ReconcileResponse {
	return ReconcileResponse{
		ProductID:      r.ProductID,
		StoredQuantity: r.StoredQuantity,
		LedgerQuantity: r.LedgerQuantity,
		Entries:        r.Entries,
		Consistent:     r.Consistent,
	}
}

func toShipmentResponse(s *domain.Shipment) ShipmentResponse {
	resp := ShipmentResponse{
		ID:                  s.ID,
		OrderID:             s.OrderID,
		TrackingNumber:      s.TrackingNumber,
		Carrier:             s.Carrier,
		Status:              string(s.Status),
		NextStatuses:        []string{},
		Items:               make([]ShipmentItemBody, 0, len(s.Items)),
		ShippingAddress:     s.ShippingAddress,
		ShippedAt:           s.ShippedAt,
		EstimatedDeliveryAt: s.EstimatedDeliveryAt,
		DeliveredAt:         s.DeliveredAt,
		CancelledAt:         s.CancelledAt,
		CancellationReason:  s.CancellationReason,
		TrackingHistory:     make([]TrackingEventResponse, 0, len(s.TrackingHistory)),
		Version:             s.Version,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
	for _, next := range s.Status.NextStatuses() {
		resp.NextStatuses = append(resp.NextStatuses, string(next))
	}
	for _, it := range s.Items {
		resp.Items = append(resp.Items, ShipmentItemBody{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity})
	}
	for _, e := range s.TrackingHistory {
		resp.TrackingHistory = append(resp.TrackingHistory, TrackingEventResponse{
			Status:      string(e.Status),
			Location:    e.Location,
			Description: e.Description,
			Notes:       e.Notes,
			Timestamp:   e.Timestamp,
		})
	}
	return resp
}

func toShipmentList(shipments []*domain.Shipment) ShipmentListResponse {
	resp := ShipmentListResponse{Shipments: make([]ShipmentResponse, 0, len(shipments))}
	for _, s := range shipments {
		resp.Shipments = append(resp.Shipments, toShipmentResponse(s))
	}
	return resp
}
