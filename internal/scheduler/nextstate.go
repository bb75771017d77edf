package scheduler

import (
	"time"

	"bazaar/internal/model"
)

// Thresholds are the elapsed-time gates between automatic transitions.
type Thresholds struct {
	ProcessingAfter time.Duration // confirmed -> processing
	ShippedAfter    time.Duration // processing -> shipped
	DeliveredAfter  time.Duration // shipped -> delivered
	CompleteWindow  time.Duration // delivered -> completed
}

// Transition is one forward step the sweep should apply.
type Transition struct {
	Order    model.OrderStatus
	Shipping model.ShippingStatus

	// Timestamps to stamp on the shipping record when set.
	MarkInTransit bool
	MarkDelivered bool
}

// NextState decides whether an order is due for its next forward
// transition at the given instant. It is a pure function so the state
// machine is testable without a live scheduler. Terminal orders and
// orders not yet past their threshold return nil. It never proposes a
// backward move.
func NextState(o *model.Order, s *model.Shipping, now time.Time, th Thresholds) *Transition {
	if o.Status.Terminal() {
		return nil
	}

	switch o.Status {
	case model.OrderConfirmed:
		if now.Sub(o.UpdatedAt) >= th.ProcessingAfter {
			return &Transition{Order: model.OrderProcessing, Shipping: model.ShippingPending}
		}
	case model.OrderProcessing:
		if now.Sub(o.UpdatedAt) >= th.ShippedAfter {
			return &Transition{Order: model.OrderShipped, Shipping: model.ShippingInTransit, MarkInTransit: true}
		}
	case model.OrderShipped:
		anchor := o.UpdatedAt
		if s.InTransitAt != nil {
			anchor = *s.InTransitAt
		}
		if now.Sub(anchor) >= th.DeliveredAfter {
			return &Transition{Order: model.OrderDelivered, Shipping: model.ShippingDelivered, MarkDelivered: true}
		}
	case model.OrderDelivered:
		if s.DeliveredAt != nil && now.Sub(*s.DeliveredAt) >= th.CompleteWindow {
			return &Transition{Order: model.OrderCompleted, Shipping: model.ShippingDelivered}
		}
	}
	return nil
}
