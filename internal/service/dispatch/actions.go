package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/lifecycle"
	"telego/internal/logx"
	"telego/internal/syncer"
)

const maxMessageLen = 1000

const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// CreateDelivery submits a new order for the restaurant and stores the
// backend's record. Validation and auth errors are returned as is.
func (c *Controller) CreateDelivery(ctx context.Context, nd domain.NewDelivery) (domain.Delivery, error) {
	act, err := c.currentAs(domain.RoleRestaurant)
	if err != nil {
		return domain.Delivery{}, err
	}
	if err := lifecycle.ValidateNew(nd); err != nil {
		return domain.Delivery{}, err
	}

	created, err := act.gateway.CreateOrder(ctx, act.session.ActorID(), nd)
	if err != nil {
		c.count("create", outcomeFailed)
		return domain.Delivery{}, fmt.Errorf("create delivery: %w", err)
	}

	local := lifecycle.NewPending(created.ID, act.actor(), act.session.User.Name, nd, c.now())
	d := fillFromLocal(created, local)
	act.store.Upsert(d)
	c.count("create", outcomeApplied)
	c.logger.Info("delivery created", logx.String("delivery_id", d.ID))

	if got, ok := act.store.Get(d.ID); ok {
		return got, nil
	}
	return d, nil
}

// Accept takes a PENDING offer for the courier.
func (c *Controller) Accept(ctx context.Context, id string) (domain.Delivery, error) {
	return c.transition(ctx, id, lifecycle.ActionAccept, domain.RoleCourier, func(ctx context.Context, gw Gateway) error {
		return gw.Respond(ctx, id, true)
	})
}

// Refuse hides an offer from the courier for the rest of the session.
func (c *Controller) Refuse(ctx context.Context, id string) (domain.Delivery, error) {
	return c.transition(ctx, id, lifecycle.ActionRefuse, domain.RoleCourier, func(ctx context.Context, gw Gateway) error {
		return gw.Respond(ctx, id, false)
	})
}

// PickUp marks the courier's job as collected.
func (c *Controller) PickUp(ctx context.Context, id string) (domain.Delivery, error) {
	return c.transition(ctx, id, lifecycle.ActionPickUp, domain.RoleCourier, func(ctx context.Context, gw Gateway) error {
		return gw.UpdateStatus(ctx, id, domain.StatusPickedUp)
	})
}

// Deliver completes the courier's job.
func (c *Controller) Deliver(ctx context.Context, id string) (domain.Delivery, error) {
	return c.transition(ctx, id, lifecycle.ActionDeliver, domain.RoleCourier, func(ctx context.Context, gw Gateway) error {
		return gw.UpdateStatus(ctx, id, domain.StatusDelivered)
	})
}

// Cancel withdraws one of the restaurant's deliveries.
func (c *Controller) Cancel(ctx context.Context, id string) (domain.Delivery, error) {
	return c.transition(ctx, id, lifecycle.ActionCancel, domain.RoleRestaurant, func(ctx context.Context, gw Gateway) error {
		return gw.Cancel(ctx, id)
	})
}

// transition applies action locally first and then tells the backend. A
// rejected transition changes nothing and returns the current record. A
// failed backend call leaves the optimistic state for the next poll to settle.
func (c *Controller) transition(
	ctx context.Context,
	id string,
	action lifecycle.Action,
	role domain.Role,
	mutate func(context.Context, Gateway) error,
) (domain.Delivery, error) {
	act, err := c.currentAs(role)
	if err != nil {
		return domain.Delivery{}, err
	}

	d, dec, err := act.store.Apply(id, action, act.actor())
	if err != nil {
		return domain.Delivery{}, err
	}
	if !dec.Allowed {
		c.count(string(action), outcomeRejected)
		return d, nil
	}
	if d.Status.Terminal() {
		c.archive(ctx, []domain.Delivery{d})
	}

	if err := mutate(ctx, act.gateway); err != nil {
		c.count(string(action), outcomeFailed)
		c.logger.Warn("backend mutation failed",
			logx.String("delivery_id", id),
			logx.String("action", string(action)),
			logx.Err(err),
		)
		act.trigger.Fire()
		if surfaced(err) {
			return d, err
		}
		return d, nil
	}
	c.count(string(action), outcomeApplied)
	return d, nil
}

// surfaced reports whether a backend failure must reach the user.
func surfaced(err error) bool {
	return errors.Is(err, apperr.ErrUnauthorized) || errors.Is(err, apperr.ErrInvalid)
}

// SendMessage appends a chat message to a delivery the user takes part in.
// Messages stay on this device.
func (c *Controller) SendMessage(_ context.Context, id, text string) (domain.Delivery, error) {
	act, err := c.current()
	if err != nil {
		return domain.Delivery{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Delivery{}, fmt.Errorf("%w: message text is required", apperr.ErrInvalid)
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return domain.Delivery{}, fmt.Errorf("%w: message longer than %d characters", apperr.ErrInvalid, maxMessageLen)
	}

	d, ok := act.store.Get(id)
	if !ok {
		return domain.Delivery{}, apperr.ErrNotFound
	}
	actorID := act.session.ActorID()
	switch act.session.User.Role {
	case domain.RoleRestaurant:
		if d.RestaurantID != actorID {
			return domain.Delivery{}, fmt.Errorf("%w: not your delivery", apperr.ErrForbidden)
		}
	case domain.RoleCourier:
		if !d.AssignedTo(actorID) {
			return domain.Delivery{}, fmt.Errorf("%w: not your delivery", apperr.ErrForbidden)
		}
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   act.session.User.ID,
		SenderName: act.session.User.Name,
		Text:       text,
		SentAt:     c.now(),
	}
	return act.store.AppendMessage(id, msg)
}

// UpdateLocation records the courier's position, used to rank offers, and
// shares it on the push channel when connected.
func (c *Controller) UpdateLocation(_ context.Context, p domain.Coords) error {
	act, err := c.currentAs(domain.RoleCourier)
	if err != nil {
		return err
	}
	if !p.Valid() {
		return fmt.Errorf("%w: coordinates out of range", apperr.ErrInvalid)
	}
	act.setPosition(p)

	if act.pusher == nil {
		return nil
	}
	err = act.pusher.Send(locationUpdate{Type: "LOCATION_UPDATE", Lat: p.Lat, Lng: p.Lng})
	if err != nil && !errors.Is(err, syncer.ErrNotConnected) {
		c.logger.Warn("location update not sent", logx.Err(err))
	}
	return nil
}

type locationUpdate struct {
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (c *Controller) count(action, outcome string) {
	c.deps.Metrics.Actions.WithLabelValues(action, outcome).Inc()
}

// fillFromLocal completes a backend record with what the user typed when the
// backend does not echo it.
func fillFromLocal(server, local domain.Delivery) domain.Delivery {
	d := server.Clone()
	if d.RestaurantID == "" {
		d.RestaurantID = local.RestaurantID
	}
	if d.RestaurantName == "" {
		d.RestaurantName = local.RestaurantName
	}
	if d.Status == "" {
		d.Status = local.Status
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = local.CreatedAt
	}
	if d.Pickup.Address == "" {
		d.Pickup = local.Pickup
	}
	if d.Dropoff.Address == "" {
		d.Dropoff = local.Dropoff
	}
	if d.CustomerName == "" {
		d.CustomerName = local.CustomerName
	}
	if d.CustomerPhone == "" {
		d.CustomerPhone = local.CustomerPhone
	}
	if d.Observations == "" {
		d.Observations = local.Observations
	}
	if d.Price == 0 {
		d.Price = local.Price
	}
	if d.OrderValue == 0 {
		d.OrderValue = local.OrderValue
	}
	return d
}
