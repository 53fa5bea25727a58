package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unimart/backend/internal/models"
)

// Actor is the party allowed to apply a transition to its target status.
type Actor string

const (
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
	ActorEither Actor = "either"
	ActorSystem Actor = "system"
)

// orderTransition is one legal edge of the order lifecycle.
type orderTransition struct {
	From  string
	To    string
	Actor Actor
}

// orderTransitions is the single source of truth for the order state
// machine: which moves are legal and who may make them. A target status
// always requires the same actor no matter the source state, which
// TestTransitionTableConsistency asserts.
var orderTransitions = []orderTransition{
	{models.OrderStatusPending, models.OrderStatusPaid, ActorSystem},
	{models.OrderStatusPending, models.OrderStatusCancelled, ActorEither},

	{models.OrderStatusPaid, models.OrderStatusSellerConfirmed, ActorSeller},
	{models.OrderStatusPaid, models.OrderStatusCancelled, ActorEither},
	{models.OrderStatusPaid, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusSellerConfirmed, models.OrderStatusPreparing, ActorSeller},
	{models.OrderStatusSellerConfirmed, models.OrderStatusCancelled, ActorEither},
	{models.OrderStatusSellerConfirmed, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusPreparing, models.OrderStatusReadyForPickup, ActorSeller},
	{models.OrderStatusPreparing, models.OrderStatusShipped, ActorSeller},
	{models.OrderStatusPreparing, models.OrderStatusCancelled, ActorEither},
	{models.OrderStatusPreparing, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusReadyForPickup, models.OrderStatusShipped, ActorSeller},
	{models.OrderStatusReadyForPickup, models.OrderStatusOutForDelivery, ActorSeller},
	{models.OrderStatusReadyForPickup, models.OrderStatusDelivered, ActorSeller},
	{models.OrderStatusReadyForPickup, models.OrderStatusCancelled, ActorEither},
	{models.OrderStatusReadyForPickup, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusShipped, models.OrderStatusOutForDelivery, ActorSeller},
	{models.OrderStatusShipped, models.OrderStatusDelivered, ActorSeller},
	{models.OrderStatusShipped, models.OrderStatusCancelled, ActorEither},
	{models.OrderStatusShipped, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusOutForDelivery, models.OrderStatusDelivered, ActorSeller},
	{models.OrderStatusOutForDelivery, models.OrderStatusCancelled, ActorEither},
	{models.OrderStatusOutForDelivery, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusDelivered, models.OrderStatusBuyerConfirmed, ActorBuyer},
	{models.OrderStatusDelivered, models.OrderStatusDisputed, ActorEither},

	{models.OrderStatusBuyerConfirmed, models.OrderStatusCompleted, ActorSystem},

	{models.OrderStatusDisputed, models.OrderStatusRefunded, ActorSystem},
	{models.OrderStatusDisputed, models.OrderStatusCompleted, ActorSystem},
}

var orderStatuses = []string{
	models.OrderStatusPending,
	models.OrderStatusPaid,
	models.OrderStatusSellerConfirmed,
	models.OrderStatusPreparing,
	models.OrderStatusReadyForPickup,
	models.OrderStatusShipped,
	models.OrderStatusOutForDelivery,
	models.OrderStatusDelivered,
	models.OrderStatusBuyerConfirmed,
	models.OrderStatusCompleted,
	models.OrderStatusCancelled,
	models.OrderStatusDisputed,
	models.OrderStatusRefunded,
}

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotParticipant    = errors.New("user is not a party to this order")
	ErrActorNotAllowed   = errors.New("user role cannot apply this status")
	ErrSystemOnlyStatus  = errors.New("status is reserved for system processing")
	ErrUnknownStatus     = errors.New("unknown order status")
)

// InvalidTransitionError reports an illegal move together with the legal
// next states so clients can repair their UI without guessing.
type InvalidTransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("cannot move order from %s to %s: %s is a terminal status", e.From, e.To, e.From)
	}
	return fmt.Sprintf("cannot move order from %s to %s: allowed next statuses are %s",
		e.From, e.To, strings.Join(e.Allowed, ", "))
}

func isValidOrderStatus(s string) bool {
	for _, status := range orderStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func isTerminalOrderStatus(s string) bool {
	return len(allowedNextStatuses(s)) == 0
}

func allowedNextStatuses(from string) []string {
	allowed := []string{}
	for _, t := range orderTransitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

func canTransition(from, to string) bool {
	for _, t := range orderTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// requiredActor returns who must request a transition into the target
// status. The second return is false for statuses that are never a target
// (pending, the initial state).
func requiredActor(to string) (Actor, bool) {
	for _, t := range orderTransitions {
		if t.To == to {
			return t.Actor, true
		}
	}
	return "", false
}

// checkTransition validates a user-requested move end to end: legality of
// the edge, then the actor requirement for the target. System-only targets
// are rejected unconditionally here; only the internal reconciliation path
// may apply them.
func checkTransition(order *models.Order, requestedBy int, newStatus string) error {
	if !isValidOrderStatus(newStatus) {
		return ErrUnknownStatus
	}

	if requestedBy != order.BuyerID && requestedBy != order.SellerID {
		return ErrNotParticipant
	}

	if !canTransition(order.Status, newStatus) {
		return &InvalidTransitionError{
			From:    order.Status,
			To:      newStatus,
			Allowed: allowedNextStatuses(order.Status),
		}
	}

	actor, ok := requiredActor(newStatus)
	if !ok {
		return ErrUnknownStatus
	}

	switch actor {
	case ActorSystem:
		return ErrSystemOnlyStatus
	case ActorBuyer:
		if requestedBy != order.BuyerID {
			return ErrActorNotAllowed
		}
	case ActorSeller:
		if requestedBy != order.SellerID {
			return ErrActorNotAllowed
		}
	case ActorEither:
		// Participant check above already passed.
	}

	return nil
}
