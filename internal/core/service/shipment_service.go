package service

import (
	"context"
	"errors"
	"fmt"
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
	creationDescription = "Shipment created"
	maxTrackingAttempts = 2
)

type CreateShipmentRequest struct {
	OrderID             string
	Items               []domain.ShipmentItem
	Carrier             string
	TrackingNumber      string // generated when empty
	ShippingAddress     string // defaults to the order's address
	EstimatedDeliveryAt *time.Time
	Location            string
	Notes               string
}

type TransitionRequest struct {
	ShipmentID  string
	Target      domain.ShipmentStatus
	Location    string
	Description string
	Notes       string
	// Reason is recorded as the cancellation reason when Target is cancelled
	// and forwarded to the order when it is reverted.
	Reason string
}

type ShipmentService struct {
	repo      port.ShipmentRepository
	orders    port.OrderGateway
	tracking  port.TrackingNumberGenerator
	publisher port.EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	// publishTimeout bounds the post-commit publish.
	publishTimeout time.Duration
	now            func() time.Time
}

func NewShipmentService(
	repo port.ShipmentRepository,
	orders port.OrderGateway,
	tracking port.TrackingNumberGenerator,
	publisher port.EventPublisher,
	logger *zap.Logger,
	tracer trace.Tracer,
) *ShipmentService {
	return &ShipmentService{
		repo:           repo,
		orders:         orders,
		tracking:       tracking,
		publisher:      publisher,
		logger:         logger,
		tracer:         tracer,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
	}
}

// Create opens a shipment for a fulfillment-ready order and marks the order
// shipped in the same unit of work.
func (s *ShipmentService) Create(ctx context.Context, req CreateShipmentRequest) (*domain.Shipment, error) {
	ctx, span := s.tracer.Start(ctx, "shipment.create", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int("shipment.items", len(req.Items)),
	))
	defer span.End()

	if err := validateItems(req.Items); err != nil {
		return nil, s.fail(span, err)
	}
	if req.Carrier == "" {
		return nil, s.fail(span, domain.ErrMissingCarrier)
	}

	generated := req.TrackingNumber == ""
	if !generated {
		if err := domain.ValidateSuppliedTrackingNumber(req.TrackingNumber); err != nil {
			return nil, s.fail(span, err)
		}
	}

	order, err := s.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !order.Status.IsFulfillmentReady() {
		return nil, s.fail(span, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderStatus, order.ID, order.Status))
	}

	existing, err := s.repo.FindActiveByOrder(ctx, order.ID)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("find active shipment: %w", err))
	}
	if existing != nil {
		return nil, s.fail(span, fmt.Errorf("%w: order %s has shipment %s", domain.ErrShipmentAlreadyExists, order.ID, existing.ID))
	}

	address := req.ShippingAddress
	if address == "" {
		address = order.ShippingAddress
	}

	now := s.now().UTC()
	shipment := &domain.Shipment{
		ID:                  uuid.NewString(),
		OrderID:             order.ID,
		TrackingNumber:      req.TrackingNumber,
		Carrier:             req.Carrier,
		Status:              domain.ShipmentStatusPending,
		Items:               append([]domain.ShipmentItem(nil), req.Items...),
		ShippingAddress:     address,
		EstimatedDeliveryAt: req.EstimatedDeliveryAt,
		TrackingHistory: []domain.TrackingEvent{{
			ID:          uuid.NewString(),
			Status:      domain.ShipmentStatusPending,
			Location:    req.Location,
			Description: creationDescription,
			Notes:       req.Notes,
			Timestamp:   now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	markShipped := func(ctx context.Context) error {
		return s.orders.MarkShipped(ctx, order.ID, shipment.TrackingNumber)
	}
	// A generated number collides only when the day's counter was reset. The
	// number is regenerated a bounded number of times before giving up.
	for attempt := 0; ; attempt++ {
		if generated {
			if shipment.TrackingNumber, err = s.tracking.NextTrackingNumber(ctx); err != nil {
				return nil, s.fail(span, fmt.Errorf("generate tracking number: %w", err))
			}
		}
		err = s.repo.Create(ctx, shipment, markShipped)
		if generated && attempt < maxTrackingAttempts-1 && errors.Is(err, domain.ErrTrackingNumberTaken) {
			s.logger.Warn("generated tracking number taken, regenerating",
				zap.String("order_id", order.ID),
				zap.String("tracking_number", shipment.TrackingNumber))
			continue
		}
		break
	}
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("shipment.id", shipment.ID))
	s.logger.Info("shipment created",
		zap.String("shipment_id", shipment.ID),
		zap.String("order_id", shipment.OrderID),
		zap.String("tracking_number", shipment.TrackingNumber),
		zap.String("carrier", shipment.Carrier))
	s.announce(ctx, shipment, "")
	return shipment, nil
}

// Transition moves a shipment along the status graph and applies the order
// side effect of the new status atomically with it.
func (s *ShipmentService) Transition(ctx context.Context, req TransitionRequest) (*domain.Shipment, error) {
	ctx, span := s.tracer.Start(ctx, "shipment.transition", trace.WithAttributes(
		attribute.String("shipment.id", req.ShipmentID),
		attribute.String("shipment.target_status", string(req.Target)),
	))
	defer span.End()

	if !req.Target.Valid() {
		return nil, s.fail(span, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, req.Target))
	}

	var from domain.ShipmentStatus
	updated, err := s.repo.Update(ctx, req.ShipmentID, func(ctx context.Context, sh *domain.Shipment) error {
		from = sh.Status
		return s.apply(ctx, sh, req)
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.logger.Info("shipment status changed",
		zap.String("shipment_id", updated.ID),
		zap.String("order_id", updated.OrderID),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)))
	s.announce(ctx, updated, from)
	return updated, nil
}

// Cancel cancels a shipment that has not been delivered.
func (s *ShipmentService) Cancel(ctx context.Context, shipmentID, reason string) (*domain.Shipment, error) {
	ctx, span := s.tracer.Start(ctx, "shipment.cancel", trace.WithAttributes(
		attribute.String("shipment.id", shipmentID),
	))
	defer span.End()

	req := TransitionRequest{
		ShipmentID: shipmentID,
		Target:     domain.ShipmentStatusCancelled,
		Notes:      reason,
		Reason:     reason,
	}

	var from domain.ShipmentStatus
	updated, err := s.repo.Update(ctx, shipmentID, func(ctx context.Context, sh *domain.Shipment) error {
		if sh.Status == domain.ShipmentStatusDelivered {
			return fmt.Errorf("%w: shipment %s", domain.ErrCannotCancelDelivered, sh.ID)
		}
		from = sh.Status
		return s.apply(ctx, sh, req)
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.logger.Info("shipment cancelled",
		zap.String("shipment_id", updated.ID),
		zap.String("order_id", updated.OrderID),
		zap.String("from", string(from)),
		zap.String("reason", reason))
	s.announce(ctx, updated, from)
	return updated, nil
}

func (s *ShipmentService) Get(ctx context.Context, id string) (*domain.Shipment, error) {
	return s.repo.Get(ctx, id)
}

// GetByTrackingNumber looks up generated and carrier-supplied numbers alike.
func (s *ShipmentService) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	if trackingNumber == "" {
		return nil, domain.ErrInvalidTrackingNumber
	}
	return s.repo.GetByTrackingNumber(ctx, trackingNumber)
}

func (s *ShipmentService) ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// apply runs inside the store's unit of work: the status change and the order
// side effect commit or roll back together.
func (s *ShipmentService) apply(ctx context.Context, sh *domain.Shipment, req TransitionRequest) error {
	event := domain.TrackingEvent{
		ID:          uuid.NewString(),
		Location:    req.Location,
		Description: req.Description,
		Notes:       req.Notes,
		Timestamp:   s.now().UTC(),
	}
	if err := sh.TransitionTo(req.Target, event); err != nil {
		return fmt.Errorf("shipment %s: %w", sh.ID, err)
	}
	sh.Version++

	switch req.Target {
	case domain.ShipmentStatusDelivered:
		if err := s.orders.MarkDelivered(ctx, sh.OrderID); err != nil {
			return fmt.Errorf("mark order %s delivered: %w", sh.OrderID, err)
		}
	case domain.ShipmentStatusCancelled:
		sh.CancellationReason = req.Reason
		order, err := s.orders.FindByID(ctx, sh.OrderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", sh.OrderID, err)
		}
		if order.Status == domain.OrderStatusShipped {
			reason := req.Reason
			if reason == "" {
				reason = "shipment cancelled"
			}
			if err := s.orders.RevertToProcessing(ctx, sh.OrderID, reason); err != nil {
				return fmt.Errorf("revert order %s: %w", sh.OrderID, err)
			}
		}
	}
	return nil
}

func (s *ShipmentService) announce(ctx context.Context, sh *domain.Shipment, from domain.ShipmentStatus) {
	last := sh.TrackingHistory[len(sh.TrackingHistory)-1]
	event := domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventShipmentStatusChanged,
		Key:        sh.ID,
		OccurredAt: last.Timestamp,
		Payload: domain.ShipmentStatusChanged{
			ShipmentID:     sh.ID,
			OrderID:        sh.OrderID,
			TrackingNumber: sh.TrackingNumber,
			From:           from,
			To:             sh.Status,
			Location:       last.Location,
		},
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Error("failed to publish shipment event", zap.String("shipment_id", sh.ID), zap.Error(err))
	}
}

func (s *ShipmentService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(domain.KindOf(err)))
	return err
}

func validateItems(items []domain.ShipmentItem) error {
	if len(items) == 0 {
		return domain.ErrEmptyShipment
	}
	for i, it := range items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item %d has no product", domain.ErrEmptyShipment, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity %d", domain.ErrInvalidQuantity, i, it.Quantity)
		}
	}
	return nil
}
