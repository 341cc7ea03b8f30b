package orders

import (
	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/enums"
)

// Actor identifies who is performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// PlaceOrderInput captures a buyer's order request. Pricing inputs such as
// the discount come from the listing, never from the buyer.
type PlaceOrderInput struct {
	Buyer        Actor
	ListingID    uuid.UUID
	Quantity     int
	DeliveryType enums.DeliveryType
}

// UpdateStatusInput moves an order along the fulfilment track.
type UpdateStatusInput struct {
	Actor       Actor
	OrderID     uuid.UUID
	Target      enums.OrderStatus
	Description string
}

// CancelInput cancels an order with a reason.
type CancelInput struct {
	Actor   Actor
	OrderID uuid.UUID
	Reason  string
}

// DisputeInput raises a dispute against an order.
type DisputeInput struct {
	Actor   Actor
	OrderID uuid.UUID
	Reason  string
}

// ResolveDisputeInput settles an open dispute, optionally refunding the buyer.
type ResolveDisputeInput struct {
	Actor       Actor
	OrderID     uuid.UUID
	Resolution  string
	RefundPaise int64
}

// ReturnInput records a buyer's return request on a delivered order.
type ReturnInput struct {
	Actor   Actor
	OrderID uuid.UUID
	Reason  string
}

// OrderCreatedEvent is emitted when an order is placed.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	FarmerID    uuid.UUID         `json:"farmer_id"`
	ListingID   uuid.UUID         `json:"listing_id"`
	Quantity    int               `json:"quantity"`
	TotalPaise  int64             `json:"total_paise"`
	Status      enums.OrderStatus `json:"status"`
}

// OrderStatusChangedEvent is emitted on every status track move.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	FarmerID    uuid.UUID         `json:"farmer_id"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
}

// OrderDeliveredEvent is emitted when settlement completes.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	FarmerID    uuid.UUID `json:"farmer_id"`
	NetPaise    int64     `json:"net_paise"`
	TotalPaise  int64     `json:"total_paise"`
}

// OrderCancelledEvent is emitted when an order is cancelled or expires.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	FarmerID    uuid.UUID `json:"farmer_id"`
	Reason      string    `json:"reason"`
	RefundPaise int64     `json:"refund_paise"`
}

// DisputeEvent is emitted when a dispute is raised or resolved.
type DisputeEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	FarmerID    uuid.UUID `json:"farmer_id"`
	Reason      string    `json:"reason,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
	RefundPaise int64     `json:"refund_paise,omitempty"`
}

// ReturnRequestedEvent is emitted when a buyer opens a return.
type ReturnRequestedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	FarmerID    uuid.UUID `json:"farmer_id"`
	Reason      string    `json:"reason"`
}
