package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/core/service"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	ledger    *service.LedgerService
	shipments *service.ShipmentService
	logger    *zap.Logger
}

func NewHTTPHandler(ledger *service.LedgerService, shipments *service.ShipmentService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{ledger: ledger, shipments: shipments, logger: logger}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/products", h.RegisterProduct)
	mux.HandleFunc("POST /api/inventory/transactions", h.ApplyTransaction)
	mux.HandleFunc("POST /api/inventory/adjust", h.AdjustStock)
	mux.HandleFunc("GET /api/inventory/history", h.GetHistory)
	mux.HandleFunc("GET /api/inventory/{id}", h.CurrentStock)
	mux.HandleFunc("GET /api/inventory/{id}/history", h.GetHistory)
	mux.HandleFunc("GET /api/inventory/{id}/stats", h.GetProductStats)
	mux.HandleFunc("GET /api/inventory/{id}/trend", h.GetTrendAnalysis)
	mux.HandleFunc("GET /api/inventory/{id}/reconcile", h.Reconcile)

	mux.HandleFunc("POST /api/shipments", h.CreateShipment)
	mux.HandleFunc("GET /api/shipments", h.GetShipmentByTrackingNumber)
	mux.HandleFunc("GET /api/shipments/{id}", h.GetShipment)
	mux.HandleFunc("POST /api/shipments/{id}/transition", h.TransitionShipment)
	mux.HandleFunc("POST /api/shipments/{id}/cancel", h.CancelShipment)
	mux.HandleFunc("GET /api/orders/{id}/shipments", h.ListOrderShipments)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *HTTPHandler) RegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req RegisterProductRequest
	if !decode(w, r, &req) {
		return
	}

	stock, err := h.ledger.RegisterProduct(r.Context(), domain.ProductStock{
		ProductID: req.ProductID,
		SKU:       req.SKU,
		Name:      req.Name,
		Quantity:  req.Quantity,
		Price:     req.Price,
		IsActive:  true,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(stock))
}

func (h *HTTPHandler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var req ApplyTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	if key := r.Header.Get(idempotencyHeader); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	txn, err := h.ledger.ApplyTransaction(r.Context(), req.toService())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(*txn))
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if !decode(w, r, &req) {
		return
	}

	txn, err := h.ledger.AdjustStock(r.Context(), req.ProductID, req.TargetQuantity, req.Reason, req.PerformedBy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(*txn))
}

func (h *HTTPHandler) CurrentStock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	qty, err := h.ledger.CurrentStock(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StockResponse{ProductID: id, Quantity: qty})
}

func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := HistoryRequest{
		ProductID:   r.PathValue("id"),
		Type:        q.Get("type"),
		ReferenceID: q.Get("reference_id"),
	}
	if req.ProductID == "" {
		req.ProductID = q.Get("product_id")
	}

	var err error
	if req.From, err = timeParam(q.Get("from")); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.To, err = timeParam(q.Get("to")); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, err)
		return
	}

	page, err := h.ledger.GetHistory(r.Context(), req.toFilter())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(page))
}

func (h *HTTPHandler) GetProductStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GetProductStats(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

func (h *HTTPHandler) GetTrendAnalysis(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	id := r.PathValue("id")
	points, err := h.ledger.GetTrendAnalysis(r.Context(), id, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrendResponse(id, points))
}

func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(report))
}

func (h *HTTPHandler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req CreateShipmentRequest
	if !decode(w, r, &req) {
		return
	}

	shipment, err := h.shipments.Create(r.Context(), req.toService())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentResponse(shipment))
}

func (h *HTTPHandler) GetShipment(w http.ResponseWriter, r *http.Request) {
	shipment, err := h.shipments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponse(shipment))
}

func (h *HTTPHandler) GetShipmentByTrackingNumber(w http.ResponseWriter, r *http.Request) {
	tracking := r.URL.Query().Get("tracking_number")
	if tracking == "" {
		writeBadRequest(w, fmt.Errorf("tracking_number is required"))
		return
	}

	shipment, err := h.shipments.GetByTrackingNumber(r.Context(), tracking)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponse(shipment))
}

func (h *HTTPHandler) TransitionShipment(w http.ResponseWriter, r *http.Request) {
	var req TransitionShipmentRequest
	if !decode(w, r, &req) {
		return
	}
	req.ShipmentID = r.PathValue("id")

	shipment, err := h.shipments.Transition(r.Context(), req.toService())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponse(shipment))
}

func (h *HTTPHandler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	var req CancelShipmentRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	shipment, err := h.shipments.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResponse(shipment))
}

func (h *HTTPHandler) ListOrderShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := h.shipments.ListByOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentList(shipments))
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	switch {
	case isContextError(err):
		h.logger.Debug("request abandoned",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	case code >= http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, code, errorBody(err))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Code: "INVALID_REQUEST", Message: err.Error()}})
}

func timeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339", v)
	}
	return t, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
