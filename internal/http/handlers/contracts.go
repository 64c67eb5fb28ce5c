package handlers

import (
	"context"

	"telego/internal/domain"
	"telego/internal/gateway/backend"
	"telego/internal/lifecycle"
)

type sessionUsecase interface {
	Login(ctx context.Context, email, password string) (domain.Session, error)
	Register(ctx context.Context, in backend.RegisterInput) (domain.Session, error)
}

type dispatchUsecase interface {
	Activate(s domain.Session) error
	Logout(ctx context.Context) error
	Session() (domain.Session, error)

	Visible() ([]domain.Delivery, error)
	Available(origin *domain.Coords) ([]domain.Delivery, error)
	Active() ([]domain.Delivery, error)
	History(ctx context.Context) ([]domain.Delivery, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Actions(d domain.Delivery) []lifecycle.Action

	CreateDelivery(ctx context.Context, nd domain.NewDelivery) (domain.Delivery, error)
	Accept(ctx context.Context, id string) (domain.Delivery, error)
	Refuse(ctx context.Context, id string) (domain.Delivery, error)
	PickUp(ctx context.Context, id string) (domain.Delivery, error)
	Deliver(ctx context.Context, id string) (domain.Delivery, error)
	Cancel(ctx context.Context, id string) (domain.Delivery, error)
	SendMessage(ctx context.Context, id, text string) (domain.Delivery, error)
	UpdateLocation(ctx context.Context, p domain.Coords) error
}
