package domain

// Status is the lifecycle state of a delivery.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusPickedUp  Status = "PICKED_UP"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPickedUp,
		StatusDelivered, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// InProgress reports whether a courier is working on the delivery.
func (s Status) InProgress() bool {
	return s == StatusAccepted || s == StatusPickedUp
}

// Role is the immutable kind of a user account.
type Role string

const (
	RoleUnselected Role = ""
	RoleRestaurant Role = "RESTAURANT"
	RoleCourier    Role = "COURIER"
)

// Valid reports whether r is a selectable role.
func (r Role) Valid() bool {
	return r == RoleRestaurant || r == RoleCourier
}
