package domain

import (
	"slices"
	"time"
)

// Coords is a WGS84 position.
type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is an address with an optional resolved position.
type Location struct {
	Address string  `json:"address"`
	Coords  *Coords `json:"coords,omitempty"`
}

// ChatMessage is one entry of a delivery's chat log.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// Delivery is a single order moving through the dispatch lifecycle.
type Delivery struct {
	ID             string        `json:"id"`
	RestaurantID   string        `json:"restaurant_id"`
	RestaurantName string        `json:"restaurant_name"`
	CourierID      string        `json:"courier_id,omitempty"`
	Pickup         Location      `json:"pickup"`
	Dropoff        Location      `json:"dropoff"`
	Price          float64       `json:"price"`
	OrderValue     float64       `json:"order_value"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	RefusedBy      []string      `json:"refused_by"`
	CustomerName   string        `json:"customer_name"`
	CustomerPhone  string        `json:"customer_phone,omitempty"`
	Observations   string        `json:"observations,omitempty"`
	EstimatedTime  string        `json:"estimated_time,omitempty"`
	Messages       []ChatMessage `json:"messages"`
}

// Clone returns a deep copy so callers can never alias store internals.
func (d Delivery) Clone() Delivery {
	out := d
	out.Pickup.Coords = cloneCoords(d.Pickup.Coords)
	out.Dropoff.Coords = cloneCoords(d.Dropoff.Coords)
	out.RefusedBy = slices.Clone(d.RefusedBy)
	out.Messages = slices.Clone(d.Messages)
	return out
}

// RefusedByCourier reports whether courierID already declined the delivery.
func (d Delivery) RefusedByCourier(courierID string) bool {
	return slices.Contains(d.RefusedBy, courierID)
}

// AssignedTo reports whether the delivery belongs to courierID.
func (d Delivery) AssignedTo(courierID string) bool {
	return courierID != "" && d.CourierID == courierID
}

// OfferableTo reports whether the delivery may be offered to courierID.
func (d Delivery) OfferableTo(courierID string) bool {
	return d.Status == StatusPending && d.CourierID == "" && !d.RefusedByCourier(courierID)
}

// NewDelivery is the input a restaurant submits to create a delivery.
type NewDelivery struct {
	CustomerName  string
	CustomerPhone string
	Pickup        Location
	Dropoff       Location
	Price         float64
	OrderValue    float64
	Observations  string
}

// Stats summarises a user's deliveries.
type Stats struct {
	Total     int     `json:"total"`
	Delivered int     `json:"delivered"`
	Cancelled int     `json:"cancelled"`
	Expired   int     `json:"expired"`
	Earnings  float64 `json:"earnings"`
}

func cloneCoords(c *Coords) *Coords {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
