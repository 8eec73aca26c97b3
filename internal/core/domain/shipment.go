package domain

import (
	"fmt"
	"time"
)

type ShipmentStatus string

const (
	ShipmentStatusPending        ShipmentStatus = "pending"
	ShipmentStatusPickedUp       ShipmentStatus = "picked_up"
	ShipmentStatusInTransit      ShipmentStatus = "in_transit"
	ShipmentStatusOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered      ShipmentStatus = "delivered"
	ShipmentStatusReturned       ShipmentStatus = "returned"
	ShipmentStatusCancelled      ShipmentStatus = "cancelled"
	ShipmentStatusFailed         ShipmentStatus = "failed"
)

// shipmentTransitions is the complete graph of legal status changes.
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPending:        {ShipmentStatusPickedUp, ShipmentStatusCancelled, ShipmentStatusFailed},
	ShipmentStatusPickedUp:       {ShipmentStatusInTransit, ShipmentStatusFailed},
	ShipmentStatusInTransit:      {ShipmentStatusOutForDelivery, ShipmentStatusReturned, ShipmentStatusCancelled, ShipmentStatusFailed},
	ShipmentStatusOutForDelivery: {ShipmentStatusDelivered, ShipmentStatusReturned},
	ShipmentStatusReturned:       {ShipmentStatusInTransit},
	ShipmentStatusFailed:         {ShipmentStatusPending},
	ShipmentStatusDelivered:      nil,
	ShipmentStatusCancelled:      nil,
}

var statusDescriptions = map[ShipmentStatus]string{
	ShipmentStatusPending:        "Shipment is awaiting carrier pickup",
	ShipmentStatusPickedUp:       "Package picked up by carrier",
	ShipmentStatusInTransit:      "Package is in transit",
	ShipmentStatusOutForDelivery: "Package is out for delivery",
	ShipmentStatusDelivered:      "Package delivered",
	ShipmentStatusReturned:       "Package returned to sender",
	ShipmentStatusCancelled:      "Shipment cancelled",
	ShipmentStatusFailed:         "Delivery attempt failed",
}

func ShipmentStatuses() []ShipmentStatus {
	return []ShipmentStatus{
		ShipmentStatusPending, ShipmentStatusPickedUp, ShipmentStatusInTransit,
		ShipmentStatusOutForDelivery, ShipmentStatusDelivered, ShipmentStatusReturned,
		ShipmentStatusCancelled, ShipmentStatusFailed,
	}
}

func (s ShipmentStatus) Valid() bool {
	_, ok := shipmentTransitions[s]
	return ok
}

func (s ShipmentStatus) IsTerminal() bool {
	return s.Valid() && len(shipmentTransitions[s]) == 0
}

// NextStatuses returns the statuses reachable from s in one step.
func (s ShipmentStatus) NextStatuses() []ShipmentStatus {
	next := shipmentTransitions[s]
	out := make([]ShipmentStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition is the single legality check for status changes.
func CanTransition(from, to ShipmentStatus) bool {
	for _, s := range shipmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ShipmentItem struct {
	ProductID string
	SKU       string
	Quantity  int
}

type TrackingEvent struct {
	ID          string
	Status      ShipmentStatus
	Location    string
	Description string
	Notes       string
	Timestamp   time.Time
}

type Shipment struct {
	ID                  string
	OrderID             string
	TrackingNumber      string
	Carrier             string
	Status              ShipmentStatus
	Items               []ShipmentItem
	ShippingAddress     string
	ShippedAt           *time.Time
	EstimatedDeliveryAt *time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
	CancellationReason  string
	TrackingHistory     []TrackingEvent
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive reports whether the shipment still blocks a new one for its order.
func (s *Shipment) IsActive() bool {
	return s.Status != ShipmentStatusCancelled
}

// Clone returns a deep copy so stores can hand out snapshots.
func (s *Shipment) Clone() *Shipment {
	c := *s
	c.Items = append([]ShipmentItem(nil), s.Items...)
	c.TrackingHistory = append([]TrackingEvent(nil), s.TrackingHistory...)
	c.ShippedAt = cloneTime(s.ShippedAt)
	c.EstimatedDeliveryAt = cloneTime(s.EstimatedDeliveryAt)
	c.DeliveredAt = cloneTime(s.DeliveredAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	return &c
}

// TransitionTo moves the shipment to target, stamping the status timestamp on
// first entry and appending exactly one tracking event.
func (s *Shipment) TransitionTo(target ShipmentStatus, event TrackingEvent) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if !CanTransition(s.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, s.Status, target)
	}

	at := event.Timestamp
	switch target {
	case ShipmentStatusPickedUp:
		if s.ShippedAt == nil {
			s.ShippedAt = &at
		}
	case ShipmentStatusDelivered:
		if s.DeliveredAt == nil {
			s.DeliveredAt = &at
		}
	case ShipmentStatusCancelled:
		if s.CancelledAt == nil {
			s.CancelledAt = &at
		}
	}

	s.Status = target
	s.UpdatedAt = at
	event.Status = target
	if event.Description == "" {
		event.Description = statusDescriptions[target]
	}
	s.TrackingHistory = append(s.TrackingHistory, event)
	return nil
}

// DefaultDescription is the tracking text used when the caller supplies none.
func DefaultDescription(status ShipmentStatus) string {
	return statusDescriptions[status]
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
