package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"telego/internal/domain"
)

// wireID accepts both numeric and string ids.
type wireID string

func (w *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*w = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*w = wireID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*w = wireID(n.String())
	return nil
}

// wireTime accepts RFC 3339, naive ISO timestamps and epoch milliseconds.
type wireTime time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		*w = wireTime{}
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*w = wireTime(time.UnixMilli(ms).UTC())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*w = wireTime{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*w = wireTime(t.UTC())
		return nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*w = wireTime(t)
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", s)
}

type messageDTO struct {
	ID         wireID   `json:"id"`
	SenderID   wireID   `json:"sender_id"`
	SenderName string   `json:"sender_name"`
	Text       string   `json:"text"`
	Timestamp  wireTime `json:"timestamp"`
}

type orderDTO struct {
	ID              wireID       `json:"id"`
	RestaurantID    wireID       `json:"restaurant_id"`
	RestaurantName  string       `json:"restaurant_name"`
	CourierID       wireID       `json:"courier_id"`
	CustomerName    string       `json:"customer_name"`
	CustomerPhone   string       `json:"customer_phone"`
	PickupAddress   string       `json:"pickup_address"`
	PickupCoords    []float64    `json:"pickup_coords"`
	DeliveryAddress string       `json:"delivery_address"`
	DeliveryCoords  []float64    `json:"delivery_coords"`
	Status          string       `json:"status"`
	CreatedAt       wireTime     `json:"created_at"`
	RefusedBy       []wireID     `json:"refused_by"`
	Price           float64      `json:"price"`
	OrderValue      float64      `json:"order_value"`
	EstimatedTime   string       `json:"estimated_time"`
	Observations    string       `json:"observations"`
	Messages        []messageDTO `json:"messages"`
}

func (o orderDTO) toDomain() (domain.Delivery, error) {
	id := strings.TrimSpace(string(o.ID))
	if id == "" {
		return domain.Delivery{}, fmt.Errorf("order without id")
	}
	status, ok := NormalizeStatus(o.Status)
	if !ok {
		if strings.TrimSpace(o.Status) != "" {
			return domain.Delivery{}, fmt.Errorf("order %s: unknown status %q", id, o.Status)
		}
		status = domain.StatusPending
	}

	d := domain.Delivery{
		ID:             id,
		RestaurantID:   string(o.RestaurantID),
		RestaurantName: o.RestaurantName,
		CourierID:      string(o.CourierID),
		Pickup:         domain.Location{Address: o.PickupAddress, Coords: coordsFromPair(o.PickupCoords)},
		Dropoff:        domain.Location{Address: o.DeliveryAddress, Coords: coordsFromPair(o.DeliveryCoords)},
		Price:          o.Price,
		OrderValue:     o.OrderValue,
		Status:         status,
		CreatedAt:      time.Time(o.CreatedAt),
		CustomerName:   o.CustomerName,
		CustomerPhone:  o.CustomerPhone,
		Observations:   o.Observations,
		EstimatedTime:  o.EstimatedTime,
	}
	for _, r := range o.RefusedBy {
		if r != "" {
			d.RefusedBy = append(d.RefusedBy, string(r))
		}
	}
	for _, m := range o.Messages {
		d.Messages = append(d.Messages, domain.ChatMessage{
			ID:         string(m.ID),
			SenderID:   string(m.SenderID),
			SenderName: m.SenderName,
			Text:       m.Text,
			SentAt:     time.Time(m.Timestamp),
		})
	}
	return d, nil
}

func coordsFromPair(p []float64) *domain.Coords {
	if len(p) != 2 {
		return nil
	}
	return &domain.Coords{Lat: p[0], Lng: p[1]}
}

func pairFromCoords(c *domain.Coords) []float64 {
	if c == nil {
		return nil
	}
	return []float64{c.Lat, c.Lng}
}

type createOrderRequest struct {
	RestaurantID    string    `json:"restaurant_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	PickupAddress   string    `json:"pickup_address"`
	PickupCoords    []float64 `json:"pickup_coords,omitempty"`
	DeliveryAddress string    `json:"delivery_address"`
	DeliveryCoords  []float64 `json:"delivery_coords,omitempty"`
	Price           float64   `json:"price"`
	OrderValue      float64   `json:"order_value"`
	Observations    string    `json:"observations,omitempty"`
}

func newCreateOrderRequest(restaurantID string, nd domain.NewDelivery) createOrderRequest {
	return createOrderRequest{
		RestaurantID:    restaurantID,
		CustomerName:    strings.TrimSpace(nd.CustomerName),
		CustomerPhone:   strings.TrimSpace(nd.CustomerPhone),
		PickupAddress:   strings.TrimSpace(nd.Pickup.Address),
		PickupCoords:    pairFromCoords(nd.Pickup.Coords),
		DeliveryAddress: strings.TrimSpace(nd.Dropoff.Address),
		DeliveryCoords:  pairFromCoords(nd.Dropoff.Coords),
		Price:           nd.Price,
		OrderValue:      nd.OrderValue,
		Observations:    nd.Observations,
	}
}

type userDTO struct {
	ID        wireID   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Role      string   `json:"role"`
	CreatedAt wireTime `json:"created_at"`
}

func (u userDTO) toDomain() domain.User {
	return domain.User{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Role:      domain.Role(strings.ToUpper(strings.TrimSpace(u.Role))),
		CreatedAt: time.Time(u.CreatedAt),
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        *userDTO `json:"user"`
}

type meResponse struct {
	User         userDTO `json:"user"`
	RestaurantID wireID  `json:"restaurant_id"`
	CourierID    wireID  `json:"courier_id"`
}
