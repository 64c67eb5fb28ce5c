package store

import (
	"slices"
	"strings"

	"telego/internal/domain"
)

// Get returns a copy of delivery id.
func (s *Store) Get(id string) (domain.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return domain.Delivery{}, false
	}
	return d.Clone(), true
}

// Len returns the number of deliveries held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// All returns every delivery, newest first.
func (s *Store) All() []domain.Delivery {
	return s.filter(func(domain.Delivery) bool { return true })
}

// ForRestaurant returns the deliveries created by restaurantID.
func (s *Store) ForRestaurant(restaurantID string) []domain.Delivery {
	return s.filter(func(d domain.Delivery) bool {
		return restaurantID != "" && d.RestaurantID == restaurantID
	})
}

// ForCourier returns deliveries assigned to courierID plus the pending ones
// it has not refused.
func (s *Store) ForCourier(courierID string) []domain.Delivery {
	return s.filterLocked(func(s *Store, d domain.Delivery) bool {
		return d.AssignedTo(courierID) || s.offerableLocked(d, courierID)
	})
}

// Available returns the offers for courierID ordered by distance from
// origin to pickup. Without an origin the newest offers come first.
func (s *Store) Available(courierID string, origin *domain.Coords) []domain.Delivery {
	out := s.filterLocked(func(s *Store, d domain.Delivery) bool {
		return s.offerableLocked(d, courierID)
	})
	if origin == nil {
		return out
	}
	from := *origin
	slices.SortStableFunc(out, func(a, b domain.Delivery) int {
		da := domain.DistanceKm(from, a.PickupCoords())
		db := domain.DistanceKm(from, b.PickupCoords())
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	return out
}

// Active returns the jobs courierID is currently working on.
func (s *Store) Active(courierID string) []domain.Delivery {
	return s.filter(func(d domain.Delivery) bool {
		return d.AssignedTo(courierID) && d.Status.InProgress()
	})
}

// History returns the finished deliveries that involve the user.
func (s *Store) History(role domain.Role, actorID string) []domain.Delivery {
	return s.filter(func(d domain.Delivery) bool {
		return d.Status.Terminal() && involves(d, role, actorID)
	})
}

// Stats summarises the deliveries that involve the user. Earnings count the
// courier payout of delivered jobs for couriers and the order value for
// restaurants.
func (s *Store) Stats(role domain.Role, actorID string) domain.Stats {
	var st domain.Stats
	for _, d := range s.filter(func(d domain.Delivery) bool { return involves(d, role, actorID) }) {
		st.Total++
		switch d.Status {
		case domain.StatusDelivered:
			st.Delivered++
			if role == domain.RoleCourier {
				st.Earnings += d.Price
			} else {
				st.Earnings += d.OrderValue
			}
		case domain.StatusCancelled:
			st.Cancelled++
		case domain.StatusExpired:
			st.Expired++
		}
	}
	return st
}

func involves(d domain.Delivery, role domain.Role, actorID string) bool {
	switch role {
	case domain.RoleRestaurant:
		return actorID != "" && d.RestaurantID == actorID
	case domain.RoleCourier:
		return d.AssignedTo(actorID)
	default:
		return false
	}
}

func (s *Store) offerableLocked(d domain.Delivery, courierID string) bool {
	return d.OfferableTo(courierID) && !s.refusedByLocked(d.ID, courierID)
}

func (s *Store) filter(keep func(domain.Delivery) bool) []domain.Delivery {
	return s.filterLocked(func(_ *Store, d domain.Delivery) bool { return keep(d) })
}

func (s *Store) filterLocked(keep func(*Store, domain.Delivery) bool) []domain.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Delivery, 0, len(s.byID))
	for _, d := range s.byID {
		if keep(s, d) {
			out = append(out, d.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ds []domain.Delivery) {
	slices.SortFunc(ds, func(a, b domain.Delivery) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
