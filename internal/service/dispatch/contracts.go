//go:generate mockgen -source=contracts.go -destination=dispatch_mocks_test.go -package=dispatch

package dispatch

import (
	"context"

	"telego/internal/domain"
)

// Gateway carries the user's mutations to the backend.
type Gateway interface {
	CreateOrder(ctx context.Context, restaurantID string, nd domain.NewDelivery) (domain.Delivery, error)
	Respond(ctx context.Context, orderID string, accept bool) error
	UpdateStatus(ctx context.Context, orderID string, status domain.Status) error
	Cancel(ctx context.Context, orderID string) error
}

// Archive keeps finished deliveries beyond the session.
type Archive interface {
	ArchiveAll(ctx context.Context, ds []domain.Delivery) error
	History(ctx context.Context, role domain.Role, actorID string, limit int) ([]domain.Delivery, error)
	Stats(ctx context.Context, role domain.Role, actorID string) (domain.Stats, error)
}

// Forgetter drops the persisted session on logout.
type Forgetter interface {
	Forget(ctx context.Context) error
}
