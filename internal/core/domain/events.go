package domain

import "time"

const (
	EventStockChanged          = "stock.changed"
	EventShipmentStatusChanged = "shipment.status_changed"
)

// Event is a fact published after a mutation has committed.
type Event struct {
	ID         string
	Type       string
	Key        string // aggregate id, used for partitioning
	OccurredAt time.Time
	Payload    any
}

type StockChanged struct {
	TransactionID    string          `json:"transaction_id"`
	ProductID        string          `json:"product_id"`
	Type             TransactionType `json:"type"`
	Quantity         int             `json:"quantity"`
	PreviousQuantity int             `json:"previous_quantity"`
	NewQuantity      int             `json:"new_quantity"`
	ReferenceID      string          `json:"reference_id,omitempty"`
}

type ShipmentStatusChanged struct {
	ShipmentID     string         `json:"shipment_id"`
	OrderID        string         `json:"order_id"`
	TrackingNumber string         `json:"tracking_number"`
	From           ShipmentStatus `json:"from,omitempty"`
	To             ShipmentStatus `json:"to"`
	Location       string         `json:"location,omitempty"`
}
