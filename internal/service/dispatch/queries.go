package dispatch

import (
	"context"
	"slices"
	"strings"

	"telego/internal/domain"
	"telego/internal/lifecycle"
	"telego/internal/logx"
)

// Session returns the active session.
func (c *Controller) Session() (domain.Session, error) {
	act, err := c.current()
	if err != nil {
		return domain.Session{}, err
	}
	return act.session, nil
}

// Visible is everything the user currently sees: the restaurant's own
// deliveries, or the courier's jobs plus open offers.
func (c *Controller) Visible() ([]domain.Delivery, error) {
	act, err := c.current()
	if err != nil {
		return nil, err
	}
	id := act.session.ActorID()
	if act.session.User.Role == domain.RoleRestaurant {
		return act.store.ForRestaurant(id), nil
	}
	return act.store.ForCourier(id), nil
}

// Available lists offers for the courier nearest to origin first. A nil
// origin falls back to the last reported location.
func (c *Controller) Available(origin *domain.Coords) ([]domain.Delivery, error) {
	act, err := c.currentAs(domain.RoleCourier)
	if err != nil {
		return nil, err
	}
	if origin == nil {
		origin = act.lastPosition()
	}
	return act.store.Available(act.session.ActorID(), origin), nil
}

// Active lists the courier's jobs in progress.
func (c *Controller) Active() ([]domain.Delivery, error) {
	act, err := c.currentAs(domain.RoleCourier)
	if err != nil {
		return nil, err
	}
	return act.store.Active(act.session.ActorID()), nil
}

// History lists finished deliveries, newest first. With an archive it also
// covers deliveries no longer in the snapshot.
func (c *Controller) History(ctx context.Context) ([]domain.Delivery, error) {
	act, err := c.current()
	if err != nil {
		return nil, err
	}
	role, id := act.session.User.Role, act.session.ActorID()
	out := act.store.History(role, id)
	if c.deps.Archive == nil {
		return out, nil
	}

	archived, err := c.deps.Archive.History(ctx, role, id, c.settings.HistoryLimit)
	if err != nil {
		c.logger.Warn("archive history unavailable", logx.Err(err))
		return out, nil
	}
	for _, d := range archived {
		if !slices.ContainsFunc(out, func(x domain.Delivery) bool { return x.ID == d.ID }) {
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Delivery) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Stats summarises the user's deliveries. The archive is authoritative for
// finished ones when configured; open deliveries come from the store.
func (c *Controller) Stats(ctx context.Context) (domain.Stats, error) {
	act, err := c.current()
	if err != nil {
		return domain.Stats{}, err
	}
	role, id := act.session.User.Role, act.session.ActorID()
	local := act.store.Stats(role, id)
	if c.deps.Archive == nil {
		return local, nil
	}

	st, err := c.deps.Archive.Stats(ctx, role, id)
	if err != nil {
		c.logger.Warn("archive stats unavailable", logx.Err(err))
		return local, nil
	}
	open := local.Total - local.Delivered - local.Cancelled - local.Expired
	st.Total += open
	return st, nil
}

// Actions lists what the current user may do with d right now.
func (c *Controller) Actions(d domain.Delivery) []lifecycle.Action {
	act, err := c.current()
	if err != nil {
		return nil
	}
	return c.deps.Engine.Allowed(d, act.actor(), c.now())
}
