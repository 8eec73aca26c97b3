package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsFulfillmentReady reports whether a shipment may be created for the order.
func (s OrderStatus) IsFulfillmentReady() bool {
	return s == OrderStatusConfirmed || s == OrderStatusProcessing
}

type OrderItem struct {
	ProductID string
	SKU       string
	Quantity  int
}

// Order is the read view of the order aggregate. The core never writes it
// directly; mutations go through the order gateway.
type Order struct {
	ID              string
	Status          OrderStatus
	Items           []OrderItem
	ShippingAddress string
	TrackingNumber  string
	UpdatedAt       time.Time
}

type OrderStatusEntry struct {
	Status    OrderStatus
	Note      string
	CreatedAt time.Time
}
