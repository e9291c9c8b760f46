package domain

import (
	"fmt"
	"strings"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusInProcess OrderStatus = "inProcess"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusReturned  OrderStatus = "returned"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusInProcess,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// forward holds the single next step of the happy path.
var forward = map[OrderStatus]OrderStatus{
	OrderStatusPending:   OrderStatusConfirmed,
	OrderStatusConfirmed: OrderStatusInProcess,
	OrderStatusInProcess: OrderStatusShipped,
	OrderStatusShipped:   OrderStatusDelivered,
}

// OrderStatuses lists every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return append([]OrderStatus(nil), orderStatuses...)
}

// ParseOrderStatus matches raw against the known statuses ignoring case and
// surrounding whitespace.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	for _, status := range orderStatuses {
		if strings.EqualFold(raw, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// IsTerminal reports whether no further transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is part of the order flow.
// Repeating the current status is allowed. Cancellation and return are
// reachable from every non-terminal status.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == OrderStatusCancelled || to == OrderStatusReturned {
		return true
	}
	return forward[from] == to
}
