// Package router assembles the local API.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"telego/internal/http/handlers"
)

// Deps bundles what the router mounts.
type Deps struct {
	Base     *handlers.Handlers
	Session  *handlers.SessionHandler
	Delivery *handlers.DeliveryHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Observe wraps every request; nil skips it.
	Observe func(http.Handler) http.Handler
	// Throttle guards login and register; nil skips it.
	Throttle func(http.Handler) http.Handler
}

// New constructs a chi-based http.Handler with base middleware and routes.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if d.Observe != nil {
		r.Use(d.Observe)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/ping", d.Base.Ping)
	r.Method(http.MethodHead, "/healthcheck", http.HandlerFunc(d.Base.HealthcheckHead))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/session", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.Throttle != nil {
				r.Use(d.Throttle)
			}
			r.Post("/login", d.Session.Login)
			r.Post("/register", d.Session.Register)
		})
		r.Get("/", d.Session.Current)
		r.Delete("/", d.Session.Logout)
	})

	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", d.Delivery.List)
		r.Post("/", d.Delivery.Create)
		r.Get("/available", d.Delivery.Available)
		r.Get("/active", d.Delivery.Active)
		r.Get("/history", d.Delivery.History)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/accept", d.Delivery.Accept)
			r.Post("/refuse", d.Delivery.Refuse)
			r.Post("/pickup", d.Delivery.PickUp)
			r.Post("/deliver", d.Delivery.Deliver)
			r.Post("/cancel", d.Delivery.Cancel)
			r.Post("/messages", d.Delivery.Message)
		})
	})
	r.Get("/stats", d.Delivery.Stats)
	r.Post("/location", d.Delivery.Location)

	r.NotFound(http.HandlerFunc(d.Base.NotFound))

	return r
}
