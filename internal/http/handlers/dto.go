package handlers

import (
	"strings"
	"time"

	"telego/internal/domain"
	"telego/internal/gateway/backend"
	"telego/internal/lifecycle"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r registerRequest) toInput() backend.RegisterInput {
	return backend.RegisterInput{
		Name:     r.Name,
		Email:    r.Email,
		Password: r.Password,
		Role:     domain.Role(strings.ToLower(strings.TrimSpace(r.Role))),
	}
}

// sessionResponse never carries the token.
type sessionResponse struct {
	User      domain.User `json:"user"`
	ProfileID string      `json:"profile_id"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

func sessionToResponse(s domain.Session) sessionResponse {
	out := sessionResponse{User: s.User, ProfileID: s.ProfileID}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

type createDeliveryRequest struct {
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Pickup        domain.Location `json:"pickup"`
	Dropoff       domain.Location `json:"dropoff"`
	Price         float64         `json:"price"`
	OrderValue    float64         `json:"order_value"`
	Observations  string          `json:"observations"`
}

func (r createDeliveryRequest) toDomain() domain.NewDelivery {
	return domain.NewDelivery{
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Pickup:        r.Pickup,
		Dropoff:       r.Dropoff,
		Price:         r.Price,
		OrderValue:    r.OrderValue,
		Observations:  r.Observations,
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

type positionRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type deliveryResponse struct {
	domain.Delivery
	Actions []lifecycle.Action `json:"actions"`
}

func toDeliveryResponse(d domain.Delivery, actions []lifecycle.Action) deliveryResponse {
	if actions == nil {
		actions = []lifecycle.Action{}
	}
	if d.RefusedBy == nil {
		d.RefusedBy = []string{}
	}
	if d.Messages == nil {
		d.Messages = []domain.ChatMessage{}
	}
	return deliveryResponse{Delivery: d, Actions: actions}
}
