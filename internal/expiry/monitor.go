// Package expiry moves PENDING deliveries nobody accepted in time to EXPIRED.
package expiry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"telego/internal/domain"
	"telego/internal/logx"
)

// DefaultInterval is the sweep period.
const DefaultInterval = 10 * time.Second

// Sweeper is the store operation the monitor drives.
type Sweeper interface {
	ExpireStale(now time.Time) []domain.Delivery
}

// Monitor sweeps a store on a fixed interval.
type Monitor struct {
	store    Sweeper
	interval time.Duration
	logger   logx.Logger
	expired  prometheus.Counter
	now      func() time.Time
	onExpire func(ctx context.Context, ds []domain.Delivery)
}

// NewMonitor builds a Monitor. A nil counter disables counting.
func NewMonitor(store Sweeper, interval time.Duration, logger logx.Logger, expired prometheus.Counter) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		store:    store,
		interval: interval,
		logger:   logger.With(logx.String("component", "expiry")),
		expired:  expired,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnExpire registers fn for deliveries expired by a sweep.
func (m *Monitor) OnExpire(fn func(ctx context.Context, ds []domain.Delivery)) { m.onExpire = fn }

// Run sweeps every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("expiry monitor started", logx.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns what it expired.
func (m *Monitor) Sweep(ctx context.Context) []domain.Delivery {
	expired := m.store.ExpireStale(m.now())
	if len(expired) == 0 {
		return nil
	}
	if m.expired != nil {
		m.expired.Add(float64(len(expired)))
	}
	for _, d := range expired {
		m.logger.Info("delivery expired",
			logx.String("delivery_id", d.ID),
			logx.Time("created_at", d.CreatedAt),
		)
	}
	if m.onExpire != nil {
		m.onExpire(ctx, expired)
	}
	return expired
}
