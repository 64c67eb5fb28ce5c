package domain

import "time"

// User is an account as reported by the backend.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an authenticated user bound to a backend profile.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
	// ProfileID is the restaurant or courier id the backend routes orders by.
	ProfileID string    `json:"profile_id"`
	Epoch     string    `json:"epoch"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the session token is past its expiry at now.
// A zero ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ActorID is the id deliveries reference for this user: the courier or
// restaurant profile when known, the user id otherwise.
func (s Session) ActorID() string {
	if s.ProfileID != "" {
		return s.ProfileID
	}
	return s.User.ID
}
