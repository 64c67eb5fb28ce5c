package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"telego/internal/domain"
	"telego/internal/gateway/backend"
	"telego/internal/lifecycle"
)

type stubSessions struct {
	loginFn    func(ctx context.Context, email, password string) (domain.Session, error)
	registerFn func(ctx context.Context, in backend.RegisterInput) (domain.Session, error)
}

func (s *stubSessions) Login(ctx context.Context, email, password string) (domain.Session, error) {
	if s.loginFn == nil {
		panic("Login not expected in this test")
	}
	return s.loginFn(ctx, email, password)
}

func (s *stubSessions) Register(ctx context.Context, in backend.RegisterInput) (domain.Session, error) {
	if s.registerFn == nil {
		panic("Register not expected in this test")
	}
	return s.registerFn(ctx, in)
}

type stubDispatch struct {
	activateFn  func(s domain.Session) error
	logoutFn    func(ctx context.Context) error
	sessionFn   func() (domain.Session, error)
	visibleFn   func() ([]domain.Delivery, error)
	availableFn func(origin *domain.Coords) ([]domain.Delivery, error)
	activeFn    func() ([]domain.Delivery, error)
	historyFn   func(ctx context.Context) ([]domain.Delivery, error)
	statsFn     func(ctx context.Context) (domain.Stats, error)
	createFn    func(ctx context.Context, nd domain.NewDelivery) (domain.Delivery, error)
	transitFn   func(action lifecycle.Action, id string) (domain.Delivery, error)
	messageFn   func(ctx context.Context, id, text string) (domain.Delivery, error)
	locationFn  func(ctx context.Context, p domain.Coords) error
}

func (s *stubDispatch) Activate(sess domain.Session) error {
	if s.activateFn == nil {
		panic("Activate not expected in this test")
	}
	return s.activateFn(sess)
}

func (s *stubDispatch) Logout(ctx context.Context) error {
	if s.logoutFn == nil {
		panic("Logout not expected in this test")
	}
	return s.logoutFn(ctx)
}

func (s *stubDispatch) Session() (domain.Session, error) {
	if s.sessionFn == nil {
		panic("Session not expected in this test")
	}
	return s.sessionFn()
}

func (s *stubDispatch) Visible() ([]domain.Delivery, error) {
	if s.visibleFn == nil {
		panic("Visible not expected in this test")
	}
	return s.visibleFn()
}

func (s *stubDispatch) Available(origin *domain.Coords) ([]domain.Delivery, error) {
	if s.availableFn == nil {
		panic("Available not expected in this test")
	}
	return s.availableFn(origin)
}

func (s *stubDispatch) Active() ([]domain.Delivery, error) {
	if s.activeFn == nil {
		panic("Active not expected in this test")
	}
	return s.activeFn()
}

func (s *stubDispatch) History(ctx context.Context) ([]domain.Delivery, error) {
	if s.historyFn == nil {
		panic("History not expected in this test")
	}
	return s.historyFn(ctx)
}

func (s *stubDispatch) Stats(ctx context.Context) (domain.Stats, error) {
	if s.statsFn == nil {
		panic("Stats not expected in this test")
	}
	return s.statsFn(ctx)
}

// Actions offers accept on pending deliveries so responses carry something.
func (s *stubDispatch) Actions(d domain.Delivery) []lifecycle.Action {
	if d.Status == domain.StatusPending {
		return []lifecycle.Action{lifecycle.ActionAccept}
	}
	return nil
}

func (s *stubDispatch) CreateDelivery(ctx context.Context, nd domain.NewDelivery) (domain.Delivery, error) {
	if s.createFn == nil {
		panic("CreateDelivery not expected in this test")
	}
	return s.createFn(ctx, nd)
}

func (s *stubDispatch) transit(a lifecycle.Action, id string) (domain.Delivery, error) {
	if s.transitFn == nil {
		panic(string(a) + " not expected in this test")
	}
	return s.transitFn(a, id)
}

func (s *stubDispatch) Accept(_ context.Context, id string) (domain.Delivery, error) {
	return s.transit(lifecycle.ActionAccept, id)
}

func (s *stubDispatch) Refuse(_ context.Context, id string) (domain.Delivery, error) {
	return s.transit(lifecycle.ActionRefuse, id)
}

func (s *stubDispatch) PickUp(_ context.Context, id string) (domain.Delivery, error) {
	return s.transit(lifecycle.ActionPickUp, id)
}

func (s *stubDispatch) Deliver(_ context.Context, id string) (domain.Delivery, error) {
	return s.transit(lifecycle.ActionDeliver, id)
}

func (s *stubDispatch) Cancel(_ context.Context, id string) (domain.Delivery, error) {
	return s.transit(lifecycle.ActionCancel, id)
}

func (s *stubDispatch) SendMessage(ctx context.Context, id, text string) (domain.Delivery, error) {
	if s.messageFn == nil {
		panic("SendMessage not expected in this test")
	}
	return s.messageFn(ctx, id, text)
}

func (s *stubDispatch) UpdateLocation(ctx context.Context, p domain.Coords) error {
	if s.locationFn == nil {
		panic("UpdateLocation not expected in this test")
	}
	return s.locationFn(ctx, p)
}

func withID(r *http.Request, id string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}
