package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"telego/internal/domain"
	"telego/internal/logx"
)

// SnapshotReader is the read side the sync loop polls.
type SnapshotReader interface {
	RestaurantOrders(ctx context.Context, restaurantID string) ([]domain.Delivery, error)
	CourierOrders(ctx context.Context, courierID string) ([]domain.Delivery, error)
	AvailableOrders(ctx context.Context) ([]domain.Delivery, error)
}

type counter interface {
	Inc()
}

// RetryConfig describes how RetryingReader retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingReader retries snapshot reads on transient failures. Mutations are
// never routed through it.
type RetryingReader struct {
	next    SnapshotReader
	logger  logx.Logger
	retries counter
	cfg     RetryConfig
	sleep   func(context.Context, time.Duration) bool
}

// NewRetryingReader wraps next; a nil next yields nil.
func NewRetryingReader(next SnapshotReader, logger logx.Logger, retries counter, cfg RetryConfig) *RetryingReader {
	if next == nil {
		return nil
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryingReader{next: next, logger: logger, retries: retries, cfg: cfg, sleep: sleepWithContext}
}

// RestaurantOrders retries SnapshotReader.RestaurantOrders.
func (g *RetryingReader) RestaurantOrders(ctx context.Context, restaurantID string) ([]domain.Delivery, error) {
	return retry(ctx, g, "RestaurantOrders", func(ctx context.Context) ([]domain.Delivery, error) {
		return g.next.RestaurantOrders(ctx, restaurantID)
	})
}

// CourierOrders retries SnapshotReader.CourierOrders.
func (g *RetryingReader) CourierOrders(ctx context.Context, courierID string) ([]domain.Delivery, error) {
	return retry(ctx, g, "CourierOrders", func(ctx context.Context) ([]domain.Delivery, error) {
		return g.next.CourierOrders(ctx, courierID)
	})
}

// AvailableOrders retries SnapshotReader.AvailableOrders.
func (g *RetryingReader) AvailableOrders(ctx context.Context) ([]domain.Delivery, error) {
	return retry(ctx, g, "AvailableOrders", g.next.AvailableOrders)
}

func retry[T any](ctx context.Context, g *RetryingReader, method string, call func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		res, err := call(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == g.cfg.MaxAttempts || !isRetryable(err) {
			break
		}

		delay := backoff(g.cfg.BaseDelay, g.cfg.MaxDelay, attempt)
		if g.retries != nil {
			g.retries.Inc()
		}
		g.logger.Warn("backend gateway retry",
			logx.String("method", method),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if !g.sleep(ctx, delay) {
			break
		}
	}
	return zero, lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoff doubles base per attempt, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var (
	_ SnapshotReader = (*Client)(nil)
	_ SnapshotReader = (*RetryingReader)(nil)
)
