package orders

import (
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
)

// forwardRank orders the in-flight statuses along the fulfilment track.
// Transitions may skip ahead (a pickup order can go confirmed→delivered)
// but never move backwards.
var forwardRank = map[enums.OrderStatus]int{
	enums.OrderStatusPending:          0,
	enums.OrderStatusConfirmed:        1,
	enums.OrderStatusProcessing:       2,
	enums.OrderStatusReadyForDelivery: 3,
	enums.OrderStatusShipped:          4,
	enums.OrderStatusInTransit:        5,
	enums.OrderStatusOutForDelivery:   6,
	enums.OrderStatusDelivered:        7,
}

// cancellableFrom lists the only states an order may be cancelled from.
var cancellableFrom = map[enums.OrderStatus]bool{
	enums.OrderStatusPending:   true,
	enums.OrderStatusConfirmed: true,
}

// CanTransition reports whether the status track allows moving from one
// state to another. Terminal states reject every transition.
func CanTransition(from, to enums.OrderStatus) bool {
	if to == enums.OrderStatusReturned {
		return from == enums.OrderStatusDelivered
	}
	if from.IsTerminal() {
		return false
	}
	if to == enums.OrderStatusCancelled {
		return cancellableFrom[from]
	}
	fromRank, ok := forwardRank[from]
	if !ok {
		return false
	}
	toRank, ok := forwardRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// CanCancel reports whether cancellation is allowed from the given state.
func CanCancel(from enums.OrderStatus) bool {
	return cancellableFrom[from]
}
