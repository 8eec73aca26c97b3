package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockflow/internal/core/domain"
	"github.com/rl1809/stockflow/internal/core/service"
)

const ServiceName = "stockflow.v1.Stockflow"

// StockflowServer is the gRPC surface. Messages are the JSON bodies in dto.go.
type StockflowServer interface {
	RegisterProduct(context.Context, *RegisterProductRequest) (*ProductResponse, error)
	ApplyTransaction(context.Context, *ApplyTransactionRequest) (*TransactionResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*TransactionResponse, error)
	GetCurrentStock(context.Context, *ProductRequest) (*StockResponse, error)
	GetHistory(context.Context, *HistoryRequest) (*HistoryResponse, error)
	GetProductStats(context.Context, *ProductRequest) (*StatsResponse, error)
	GetTrendAnalysis(context.Context, *ProductRequest) (*TrendResponse, error)
	Reconcile(context.Context, *ProductRequest) (*ReconcileResponse, error)
	CreateShipment(context.Context, *CreateShipmentRequest) (*ShipmentResponse, error)
	GetShipment(context.Context, *ShipmentLookupRequest) (*ShipmentResponse, error)
	TransitionShipment(context.Context, *TransitionShipmentRequest) (*ShipmentResponse, error)
	CancelShipment(context.Context, *CancelShipmentRequest) (*ShipmentResponse, error)
	ListShipments(context.Context, *ShipmentLookupRequest) (*ShipmentListResponse, error)
}

var stockflowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StockflowServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RegisterProduct", StockflowServer.RegisterProduct),
		unary("ApplyTransaction", StockflowServer.ApplyTransaction),
		unary("AdjustStock", StockflowServer.AdjustStock),
		unary("GetCurrentStock", StockflowServer.GetCurrentStock),
		unary("GetHistory", StockflowServer.GetHistory),
		unary("GetProductStats", StockflowServer.GetProductStats),
		unary("GetTrendAnalysis", StockflowServer.GetTrendAnalysis),
		unary("Reconcile", StockflowServer.Reconcile),
		unary("CreateShipment", StockflowServer.CreateShipment),
		unary("GetShipment", StockflowServer.GetShipment),
		unary("TransitionShipment", StockflowServer.TransitionShipment),
		unary("CancelShipment", StockflowServer.CancelShipment),
		unary("ListShipments", StockflowServer.ListShipments),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockflow/v1/stockflow",
}

func unary[Req, Resp any](method string, call func(StockflowServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StockflowServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(StockflowServer), ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	ledger    *service.LedgerService
	shipments *service.ShipmentService
}

func NewGRPCHandler(ledger *service.LedgerService, shipments *service.ShipmentService) *GRPCHandler {
	return &GRPCHandler{ledger: ledger, shipments: shipments}
}

// RegisterGRPC mounts the service and a health endpoint reporting it as serving.
func RegisterGRPC(s *grpc.Server, h *GRPCHandler) *health.Server {
	s.RegisterService(&stockflowServiceDesc, h)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// UnaryLoggingInterceptor logs every call with its outcome.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("grpc call", fields...)
		}
		return resp, err
	}
}

func (h *GRPCHandler) RegisterProduct(ctx context.Context, req *RegisterProductRequest) (*ProductResponse, error) {
	stock, err := h.ledger.RegisterProduct(ctx, domain.ProductStock{
		ProductID: req.ProductID,
		SKU:       req.SKU,
		Name:      req.Name,
		Quantity:  req.Quantity,
		Price:     req.Price,
		IsActive:  true,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toProductResponse(stock)
	return &resp, nil
}

func (h *GRPCHandler) ApplyTransaction(ctx context.Context, req *ApplyTransactionRequest) (*TransactionResponse, error) {
	txn, err := h.ledger.ApplyTransaction(ctx, req.toService())
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toTransactionResponse(*txn)
	return &resp, nil
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*TransactionResponse, error) {
	txn, err := h.ledger.AdjustStock(ctx, req.ProductID, req.TargetQuantity, req.Reason, req.PerformedBy)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toTransactionResponse(*txn)
	return &resp, nil
}

func (h *GRPCHandler) GetCurrentStock(ctx context.Context, req *ProductRequest) (*StockResponse, error) {
	qty, err := h.ledger.CurrentStock(ctx, req.ProductID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &StockResponse{ProductID: req.ProductID, Quantity: qty}, nil
}

func (h *GRPCHandler) GetHistory(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	page, err := h.ledger.GetHistory(ctx, req.toFilter())
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toHistoryResponse(page)
	return &resp, nil
}

func (h *GRPCHandler) GetProductStats(ctx context.Context, req *ProductRequest) (*StatsResponse, error) {
	stats, err := h.ledger.GetProductStats(ctx, req.ProductID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toStatsResponse(stats)
	return &resp, nil
}

func (h *GRPCHandler) GetTrendAnalysis(ctx context.Context, req *ProductRequest) (*TrendResponse, error) {
	points, err := h.ledger.GetTrendAnalysis(ctx, req.ProductID, req.Days)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toTrendResponse(req.ProductID, points)
	return &resp, nil
}

func (h *GRPCHandler) Reconcile(ctx context.Context, req *ProductRequest) (*ReconcileResponse, error) {
	report, err := h.ledger.Reconcile(ctx, req.ProductID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toReconcileResponse(report)
	return &resp, nil
}

func (h *GRPCHandler) CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*ShipmentResponse, error) {
	shipment, err := h.shipments.Create(ctx, req.toService())
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toShipmentResponse(shipment)
	return &resp, nil
}

// GetShipment looks a shipment up by id, or by tracking number when no id is given.
func (h *GRPCHandler) GetShipment(ctx context.Context, req *ShipmentLookupRequest) (*ShipmentResponse, error) {
	var (
		shipment *domain.Shipment
		err      error
	)
	if req.ShipmentID != "" {
		shipment, err = h.shipments.Get(ctx, req.ShipmentID)
	} else {
		shipment, err = h.shipments.GetByTrackingNumber(ctx, req.TrackingNumber)
	}
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toShipmentResponse(shipment)
	return &resp, nil
}

func (h *GRPCHandler) TransitionShipment(ctx context.Context, req *TransitionShipmentRequest) (*ShipmentResponse, error) {
	shipment, err := h.shipments.Transition(ctx, req.toService())
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toShipmentResponse(shipment)
	return &resp, nil
}

func (h *GRPCHandler) CancelShipment(ctx context.Context, req *CancelShipmentRequest) (*ShipmentResponse, error) {
	shipment, err := h.shipments.Cancel(ctx, req.ShipmentID, req.Reason)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toShipmentResponse(shipment)
	return &resp, nil
}

func (h *GRPCHandler) ListShipments(ctx context.Context, req *ShipmentLookupRequest) (*ShipmentListResponse, error) {
	shipments, err := h.shipments.ListByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toShipmentList(shipments)
	return &resp, nil
}
