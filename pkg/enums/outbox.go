package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateListing OutboxAggregateType = "listing"
	AggregatePayment OutboxAggregateType = "payment"
	AggregateWallet  OutboxAggregateType = "wallet"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateListing,
	AggregatePayment,
	AggregateWallet,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated         OutboxEventType = "order_created"
	EventOrderStatusChanged   OutboxEventType = "order_status_changed"
	EventOrderDelivered       OutboxEventType = "order_delivered"
	EventOrderCancelled       OutboxEventType = "order_cancelled"
	EventOrderExpired         OutboxEventType = "order_expired"
	EventOrderReturnRequested OutboxEventType = "order_return_requested"
	EventPaymentInitiated     OutboxEventType = "payment_initiated"
	EventPaymentCaptured      OutboxEventType = "payment_captured"
	EventPaymentFailed        OutboxEventType = "payment_failed"
	EventPaymentSettled       OutboxEventType = "payment_settled"
	EventRefundProcessed      OutboxEventType = "refund_processed"
	EventDisputeRaised        OutboxEventType = "dispute_raised"
	EventDisputeResolved      OutboxEventType = "dispute_resolved"
	EventWithdrawalReserved   OutboxEventType = "withdrawal_reserved"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderDelivered,
	EventOrderCancelled,
	EventOrderExpired,
	EventOrderReturnRequested,
	EventPaymentInitiated,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventPaymentSettled,
	EventRefundProcessed,
	EventDisputeRaised,
	EventDisputeResolved,
	EventWithdrawalReserved,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
