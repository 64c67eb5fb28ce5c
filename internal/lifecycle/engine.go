// Package lifecycle validates and applies delivery status transitions.
//
// Rejected transitions are not errors: the delivery comes back unchanged
// together with a Decision explaining why, and callers treat that as a no-op.
package lifecycle

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"telego/internal/apperr"
	"telego/internal/domain"
)

// DefaultExpiryTTL is how long a delivery may stay PENDING.
const DefaultExpiryTTL = 15 * time.Minute

// Engine applies the transition table.
type Engine struct {
	ttl time.Duration
}

// NewEngine returns an Engine expiring PENDING deliveries after ttl.
func NewEngine(ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultExpiryTTL
	}
	return &Engine{ttl: ttl}
}

// TTL returns the configured expiry threshold.
func (e *Engine) TTL() time.Duration { return e.ttl }

// Decide checks whether actor may apply a to d at now.
func (e *Engine) Decide(d domain.Delivery, a Action, actor Actor, now time.Time) Decision {
	tr, ok := TransitionFor(d.Status, a)
	if !ok {
		return Decision{Reason: fmt.Sprintf("%s not allowed from %s", a, d.Status)}
	}
	if tr.Role != actor.Role {
		return Decision{Reason: fmt.Sprintf("%s requires role %s", a, tr.Role)}
	}
	if actor.ID == "" {
		return Decision{Reason: "anonymous actor"}
	}
	if tr.Guard != nil {
		if reason := tr.Guard(d, actor, now, e.ttl); reason != "" {
			return Decision{Reason: reason}
		}
	}
	return Decision{Allowed: true}
}

// Apply returns d after the transition, or an unchanged copy when rejected.
func (e *Engine) Apply(d domain.Delivery, a Action, actor Actor, now time.Time) (domain.Delivery, Decision) {
	out := d.Clone()
	dec := e.Decide(d, a, actor, now)
	if !dec.Allowed {
		return out, dec
	}
	tr, _ := TransitionFor(d.Status, a)

	switch a {
	case ActionAccept:
		out.CourierID = actor.ID
	case ActionRefuse:
		out.RefusedBy = append(out.RefusedBy, actor.ID)
	}
	out.Status = tr.To
	out.UpdatedAt = now
	return out, dec
}

// ActionFor maps a target status to the action that reaches it.
func ActionFor(to domain.Status) (Action, bool) {
	switch to {
	case domain.StatusAccepted:
		return ActionAccept, true
	case domain.StatusPickedUp:
		return ActionPickUp, true
	case domain.StatusDelivered:
		return ActionDeliver, true
	case domain.StatusCancelled:
		return ActionCancel, true
	case domain.StatusExpired:
		return ActionExpire, true
	default:
		return "", false
	}
}

// ValidateNew checks a restaurant's create request before it is submitted.
func ValidateNew(nd domain.NewDelivery) error {
	switch {
	case strings.TrimSpace(nd.CustomerName) == "":
		return fmt.Errorf("%w: customer name is required", apperr.ErrInvalid)
	case strings.TrimSpace(nd.Pickup.Address) == "":
		return fmt.Errorf("%w: pickup address is required", apperr.ErrInvalid)
	case strings.TrimSpace(nd.Dropoff.Address) == "":
		return fmt.Errorf("%w: delivery address is required", apperr.ErrInvalid)
	case nd.Price < 0:
		return fmt.Errorf("%w: price must not be negative", apperr.ErrInvalid)
	case nd.OrderValue < 0:
		return fmt.Errorf("%w: order value must not be negative", apperr.ErrInvalid)
	}
	for _, c := range []*domain.Coords{nd.Pickup.Coords, nd.Dropoff.Coords} {
		if c != nil && !c.Valid() {
			return fmt.Errorf("%w: coordinates out of range", apperr.ErrInvalid)
		}
	}
	return nil
}

// NewPending builds the PENDING record a successful create produces locally.
func NewPending(id string, restaurant Actor, restaurantName string, nd domain.NewDelivery, now time.Time) domain.Delivery {
	d := domain.Delivery{
		ID:             id,
		RestaurantID:   restaurant.ID,
		RestaurantName: restaurantName,
		Pickup:         nd.Pickup,
		Dropoff:        nd.Dropoff,
		Price:          nd.Price,
		OrderValue:     nd.OrderValue,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		CustomerName:   strings.TrimSpace(nd.CustomerName),
		CustomerPhone:  strings.TrimSpace(nd.CustomerPhone),
		Observations:   nd.Observations,
	}
	return d.Clone()
}

// Allowed lists the actions actor could take on d right now.
func (e *Engine) Allowed(d domain.Delivery, actor Actor, now time.Time) []Action {
	var out []Action
	for _, tr := range transitionsTable {
		if tr.From != d.Status || slices.Contains(out, tr.Action) {
			continue
		}
		if e.Decide(d, tr.Action, actor, now).Allowed {
			out = append(out, tr.Action)
		}
	}
	return out
}
