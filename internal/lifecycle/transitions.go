package lifecycle

import (
	"time"

	"telego/internal/domain"
)

// Action is a request to move a delivery through its lifecycle.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionRefuse  Action = "refuse"
	ActionPickUp  Action = "pick_up"
	ActionDeliver Action = "deliver"
	ActionCancel  Action = "cancel"
	ActionExpire  Action = "expire"
)

// RoleSystem identifies automatic transitions not driven by a user.
const RoleSystem domain.Role = "SYSTEM"

// Actor is whoever requests a transition.
type Actor struct {
	ID   string
	Role domain.Role
}

// System is the actor the expiry sweep acts as.
var System = Actor{ID: "system", Role: RoleSystem}

// Transition is a single allowed edge in the delivery state machine.
type Transition struct {
	From   domain.Status
	To     domain.Status
	Action Action
	Role   domain.Role
	Guard  guardFunc
}

// Decision records whether a transition is allowed and why not.
type Decision struct {
	Allowed bool
	Reason  string
}

// guardFunc returns an empty string when the transition may proceed.
type guardFunc func(d domain.Delivery, actor Actor, now time.Time, ttl time.Duration) string

var transitionsTable = []Transition{
	{From: domain.StatusPending, To: domain.StatusAccepted, Action: ActionAccept, Role: domain.RoleCourier, Guard: offerable},
	// refusal never moves the status
	{From: domain.StatusPending, To: domain.StatusPending, Action: ActionRefuse, Role: domain.RoleCourier, Guard: refusable},

	{From: domain.StatusAccepted, To: domain.StatusPickedUp, Action: ActionPickUp, Role: domain.RoleCourier, Guard: assignedToActor},
	{From: domain.StatusPickedUp, To: domain.StatusDelivered, Action: ActionDeliver, Role: domain.RoleCourier, Guard: assignedToActor},

	{From: domain.StatusPending, To: domain.StatusCancelled, Action: ActionCancel, Role: domain.RoleRestaurant, Guard: ownedByActor},
	{From: domain.StatusAccepted, To: domain.StatusCancelled, Action: ActionCancel, Role: domain.RoleRestaurant, Guard: ownedByActor},

	{From: domain.StatusPending, To: domain.StatusExpired, Action: ActionExpire, Role: RoleSystem, Guard: stale},
}

// TransitionFor returns the table row for a given state and action.
func TransitionFor(from domain.Status, a Action) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Action == a {
			return tr, true
		}
	}
	return Transition{}, false
}

func offerable(d domain.Delivery, actor Actor, _ time.Time, _ time.Duration) string {
	if d.CourierID != "" {
		return "already assigned"
	}
	if d.RefusedByCourier(actor.ID) {
		return "refused by courier"
	}
	return ""
}

func refusable(d domain.Delivery, actor Actor, _ time.Time, _ time.Duration) string {
	if d.CourierID != "" {
		return "already assigned"
	}
	if d.RefusedByCourier(actor.ID) {
		return "already refused"
	}
	return ""
}

func assignedToActor(d domain.Delivery, actor Actor, _ time.Time, _ time.Duration) string {
	if !d.AssignedTo(actor.ID) {
		return "not assigned to courier"
	}
	return ""
}

func ownedByActor(d domain.Delivery, actor Actor, _ time.Time, _ time.Duration) string {
	if d.RestaurantID == "" || d.RestaurantID != actor.ID {
		return "not owned by restaurant"
	}
	return ""
}

func stale(d domain.Delivery, _ Actor, now time.Time, ttl time.Duration) string {
	if now.Sub(d.CreatedAt) < ttl {
		return "not stale yet"
	}
	return ""
}
