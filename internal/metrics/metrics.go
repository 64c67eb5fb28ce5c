package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewGatewayRetriesTotal counts retry attempts of backend snapshot reads.
func NewGatewayRetriesTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_retries_total",
		Help: "Total number of retry attempts performed by the backend gateway",
	})
}

// NewSyncPollsTotal counts poll cycles by result (ok, error, discarded).
func NewSyncPollsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_polls_total",
		Help: "Total number of delivery snapshot polls by result",
	}, []string{"result"})
}

// NewPushEventsTotal counts push notifications by type and source.
func NewPushEventsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_events_total",
		Help: "Total number of push notifications received",
	}, []string{"source", "type"})
}

// NewPushReconnectsTotal counts push channel reconnect attempts.
func NewPushReconnectsTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_reconnects_total",
		Help: "Total number of push channel reconnect attempts",
	})
}

// NewDeliveriesExpiredTotal counts deliveries the expiry sweep moved to EXPIRED.
func NewDeliveriesExpiredTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deliveries_expired_total",
		Help: "Total number of pending deliveries expired client-side",
	})
}

// NewDeliveryActionsTotal counts user actions by action and outcome
// (applied, ignored, failed).
func NewDeliveryActionsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_actions_total",
		Help: "Total number of delivery actions by outcome",
	}, []string{"action", "outcome"})
}

// NewAuthThrottledTotal counts login and register calls rejected by the throttle.
func NewAuthThrottledTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_throttled_total",
		Help: "Total number of session requests rejected by the rate limiter",
	})
}

// Set bundles every client metric so it can be registered at once.
type Set struct {
	GatewayRetries prometheus.Counter
	Polls          *prometheus.CounterVec
	PushEvents     *prometheus.CounterVec
	PushReconnects prometheus.Counter
	Expired        prometheus.Counter
	Actions        *prometheus.CounterVec
	AuthThrottled  prometheus.Counter
}

// NewSet builds an unregistered Set.
func NewSet() *Set {
	return &Set{
		GatewayRetries: NewGatewayRetriesTotal(),
		Polls:          NewSyncPollsTotal(),
		PushEvents:     NewPushEventsTotal(),
		PushReconnects: NewPushReconnectsTotal(),
		Expired:        NewDeliveriesExpiredTotal(),
		Actions:        NewDeliveryActionsTotal(),
		AuthThrottled:  NewAuthThrottledTotal(),
	}
}

// Register adds every collector of s to reg.
func (s *Set) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		s.GatewayRetries, s.Polls, s.PushEvents, s.PushReconnects, s.Expired, s.Actions, s.AuthThrottled,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
