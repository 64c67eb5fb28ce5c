package syncer

import (
	"encoding/json"
	"fmt"
	"strings"

	"telego/internal/domain"
)

// Notification types that make the poll loop refresh.
const (
	TypeNewOrder    = "NEW_ORDER"
	TypeOrderUpdate = "ORDER_UPDATE"
)

// Notification is a push message from the websocket or the broker.
type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	OrderID string `json:"-"`
	Status  string `json:"status,omitempty"`
	// Recipient addresses broker notifications, e.g. "courier_3". Empty
	// means everyone.
	Recipient string `json:"recipient,omitempty"`
}

// RecipientFor is the broker address of a session.
func RecipientFor(s domain.Session) string {
	return strings.ToLower(string(s.User.Role)) + "_" + s.ActorID()
}

// For reports whether n is addressed to the session.
func (n Notification) For(s domain.Session) bool {
	return n.Recipient == "" || n.Recipient == RecipientFor(s)
}

// Refresh reports whether n should trigger a poll.
func (n Notification) Refresh() bool {
	return n.Type == TypeNewOrder || n.Type == TypeOrderUpdate
}

// ParseNotification decodes a JSON push payload. Order ids arrive as numbers
// or strings, and NEW_ORDER nests the order under "order".
func ParseNotification(b []byte) (Notification, error) {
	var raw struct {
		Type      string          `json:"type"`
		Message   string          `json:"message"`
		OrderID   json.RawMessage `json:"order_id"`
		Status    string          `json:"status"`
		Recipient string          `json:"recipient"`
		Order     *struct {
			ID json.RawMessage `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	n := Notification{
		Type:      strings.ToUpper(strings.TrimSpace(raw.Type)),
		Message:   raw.Message,
		Status:    raw.Status,
		OrderID:   rawID(raw.OrderID),
		Recipient: strings.ToLower(strings.TrimSpace(raw.Recipient)),
	}
	if n.OrderID == "" && raw.Order != nil {
		n.OrderID = rawID(raw.Order.ID)
	}
	if n.Type == "" {
		return Notification{}, fmt.Errorf("decode notification: missing type")
	}
	return n, nil
}

func rawID(b json.RawMessage) string {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(b, &str) == nil {
		return strings.TrimSpace(str)
	}
	return s
}
