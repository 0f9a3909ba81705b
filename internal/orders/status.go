package orders

// UnitStatus is the lifecycle state of a fulfillment unit (one seller's slice
// of a buyer order).
type UnitStatus string

const (
	UnitWaitingConfirmation UnitStatus = "WAITING_CONFIRMATION"
	UnitProcessing          UnitStatus = "PROCESSING"
	UnitShipped             UnitStatus = "SHIPPED"
	UnitDelivered           UnitStatus = "DELIVERED"
	UnitCancelled           UnitStatus = "CANCELLED"
	UnitReturned            UnitStatus = "RETURNED"
)

// validNext is the single source of truth for unit transitions. Every guard in
// the repo consults this table; nothing re-derives allowed moves locally.
var validNext = map[UnitStatus]map[UnitStatus]bool{
	UnitWaitingConfirmation: {UnitProcessing: true, UnitShipped: true, UnitCancelled: true},
	UnitProcessing:          {UnitShipped: true, UnitCancelled: true},
	UnitShipped:             {UnitDelivered: true, UnitReturned: true},
	UnitDelivered:           {},
	UnitCancelled:           {},
	UnitReturned:            {},
}

func CanTransition(from, to UnitStatus) bool {
	return validNext[from][to]
}

func (s UnitStatus) Terminal() bool {
	return len(validNext[s]) == 0
}

// OrderStatus is the buyer-facing status of the parent order. It is a
// projection over unit statuses, persisted alongside each unit transition so
// readers never see a stale parent.
type OrderStatus string

const (
	OrderPaid               OrderStatus = "PAID"
	OrderPartiallyFulfilled OrderStatus = "PARTIALLY_FULFILLED"
	OrderCompleted          OrderStatus = "COMPLETED"
	OrderCancelled          OrderStatus = "CANCELLED"
)

// DeriveOrderStatus maps the statuses of an order's units to the parent
// status: COMPLETED when every unit is delivered, CANCELLED when every unit is
// cancelled, PARTIALLY_FULFILLED for any other mix that contains a terminal
// unit, PAID otherwise.
func DeriveOrderStatus(units []UnitStatus) OrderStatus {
	if len(units) == 0 {
		return OrderPaid
	}
	terminal, delivered, cancelled := 0, 0, 0
	for _, s := range units {
		if s.Terminal() {
			terminal++
		}
		switch s {
		case UnitDelivered:
			delivered++
		case UnitCancelled:
			cancelled++
		}
	}
	switch {
	case delivered == len(units):
		return OrderCompleted
	case cancelled == len(units):
		return OrderCancelled
	case terminal > 0:
		return OrderPartiallyFulfilled
	default:
		return OrderPaid
	}
}
