package backend

import (
	"strings"

	"telego/internal/domain"
)

// statusAliases maps every spelling the backend uses onto the canonical set.
var statusAliases = map[string]domain.Status{
	"pending":          domain.StatusPending,
	"searching":        domain.StatusPending,
	"accepted":         domain.StatusAccepted,
	"assigned":         domain.StatusAccepted,
	"picked_up":        domain.StatusPickedUp,
	"in_transit":       domain.StatusPickedUp,
	"delivered":        domain.StatusDelivered,
	"cancelled":        domain.StatusCancelled,
	"canceled":         domain.StatusCancelled,
	"expired":          domain.StatusExpired,
	"no_courier_found": domain.StatusExpired,
}

// NormalizeStatus maps a wire status to the canonical one.
func NormalizeStatus(s string) (domain.Status, bool) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}
