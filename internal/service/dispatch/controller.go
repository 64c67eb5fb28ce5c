// Package dispatch owns the active session: it runs the sync loops for it and
// turns user actions into store transitions and backend calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/expiry"
	"telego/internal/gateway/backend"
	"telego/internal/lifecycle"
	"telego/internal/logx"
	"telego/internal/metrics"
	"telego/internal/store"
	"telego/internal/syncer"
	"telego/internal/transport/kafka"
)

// BackendFactory binds the backend to a session token.
type BackendFactory func(token string) (backend.SnapshotReader, Gateway)

// ConsumerFactory builds the optional broker source; it returns nil when the
// broker is not configured.
type ConsumerFactory func(h kafka.HandleFunc) (*kafka.Consumer, error)

// Settings tunes the per-session loops.
type Settings struct {
	PollInterval time.Duration
	// PushBaseURL is the ws(s) base of the push channel; empty disables push.
	PushBaseURL    string
	PushBackoff    time.Duration
	ExpiryLocal    bool
	ExpiryInterval time.Duration
	HistoryLimit   int
}

// Deps are the collaborators of a Controller. Archive, Consumers and
// Forgetter are optional.
type Deps struct {
	Backend   BackendFactory
	Consumers ConsumerFactory
	Archive   Archive
	Forgetter Forgetter
	Engine    *lifecycle.Engine
	Metrics   *metrics.Set
	Logger    logx.Logger
}

// Controller is safe for concurrent use.
type Controller struct {
	base     context.Context
	settings Settings
	deps     Deps
	logger   logx.Logger
	now      func() time.Time

	mu  sync.RWMutex
	cur *active
}

// active is everything bound to one session.
type active struct {
	session  domain.Session
	store    *store.Store
	gateway  Gateway
	trigger  *syncer.Trigger
	pusher   *syncer.Pusher
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	group    *errgroup.Group

	posMu    sync.Mutex
	position *domain.Coords
}

// NewController builds a Controller. Session loops run under base, so they
// stop when it ends even without Teardown.
func NewController(base context.Context, settings Settings, deps Deps) *Controller {
	if deps.Engine == nil {
		deps.Engine = lifecycle.NewEngine(lifecycle.DefaultExpiryTTL)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewSet()
	}
	if deps.Logger == nil {
		deps.Logger = logx.Nop()
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = 100
	}
	return &Controller{
		base:     base,
		settings: settings,
		deps:     deps,
		logger:   deps.Logger.With(logx.String("component", "dispatch")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Activate makes s the current session, replacing any previous one.
func (c *Controller) Activate(s domain.Session) error {
	if s.Token == "" {
		return fmt.Errorf("%w: session has no token", apperr.ErrInvalid)
	}
	if s.User.Role != domain.RoleRestaurant && s.User.Role != domain.RoleCourier {
		return fmt.Errorf("%w: role %q cannot be activated", apperr.ErrInvalid, s.User.Role)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		c.stopLocked()
	}

	c.cur = c.start(s)
	c.logger.Info("session activated",
		logx.String("user_id", s.User.ID),
		logx.String("role", string(s.User.Role)),
		logx.String("epoch", s.Epoch),
	)
	return nil
}

// Teardown stops the current session's loops and drops its store. The
// persisted session is kept; see Logout.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Logout tears the session down and forgets the persisted copy.
func (c *Controller) Logout(ctx context.Context) error {
	c.Teardown()
	if c.deps.Forgetter == nil {
		return nil
	}
	if err := c.deps.Forgetter.Forget(ctx); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}
	return nil
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur != nil
}

func (c *Controller) start(s domain.Session) *active {
	reader, gw := c.deps.Backend(s.Token)
	m := c.deps.Metrics

	act := &active{
		session: s,
		store:   store.New(c.deps.Engine, c.deps.Logger),
		gateway: gw,
		trigger: syncer.NewTrigger(),
	}

	ctx, cancel := context.WithCancel(c.base)
	g, gctx := errgroup.WithContext(ctx)
	act.cancel = cancel
	act.group = g

	poller := syncer.NewPoller(reader, act.store, s, c.settings.PollInterval, act.trigger, c.deps.Logger, m.Polls)
	poller.OnTerminal(c.archive)
	g.Go(func() error { return poller.Run(gctx) })

	if c.settings.PushBaseURL != "" {
		act.pusher = syncer.NewPusher(
			syncer.PushURL(c.settings.PushBaseURL, s), s.Token, c.settings.PushBackoff,
			act.trigger, c.deps.Logger, m.PushEvents, m.PushReconnects,
		)
		g.Go(func() error { return act.pusher.Run(gctx) })
	}

	if c.settings.ExpiryLocal {
		mon := expiry.NewMonitor(act.store, c.settings.ExpiryInterval, c.deps.Logger, m.Expired)
		mon.OnExpire(c.archive)
		g.Go(func() error { return mon.Run(gctx) })
	}

	if c.deps.Consumers != nil {
		consumer, err := c.deps.Consumers(c.brokerHandler(s, act.trigger))
		switch {
		case err != nil:
			// polling and push still cover the session
			c.logger.Warn("kafka consumer unavailable", logx.Err(err))
		case consumer != nil:
			act.consumer = consumer
			g.Go(func() error { return consumer.Run(gctx) })
		}
	}
	return act
}

func (c *Controller) stopLocked() {
	act := c.cur
	if act == nil {
		return
	}
	c.cur = nil
	act.cancel()
	if err := act.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("session loops stopped with error", logx.Err(err))
	}
	if err := act.consumer.Close(); err != nil {
		c.logger.Warn("kafka close error", logx.Err(err))
	}
	act.store.Close()
	c.logger.Info("session torn down", logx.String("epoch", act.session.Epoch))
}

func (c *Controller) brokerHandler(s domain.Session, trigger *syncer.Trigger) kafka.HandleFunc {
	return func(_ context.Context, n syncer.Notification) error {
		if !n.For(s) {
			return nil
		}
		c.deps.Metrics.PushEvents.WithLabelValues("kafka", n.Type).Inc()
		trigger.Fire()
		return nil
	}
}

// archive stores finished deliveries when an archive is configured.
func (c *Controller) archive(ctx context.Context, ds []domain.Delivery) {
	if c.deps.Archive == nil || len(ds) == 0 {
		return
	}
	if err := c.deps.Archive.ArchiveAll(ctx, ds); err != nil {
		c.logger.Warn("archive failed", logx.Int("deliveries", len(ds)), logx.Err(err))
	}
}

func (c *Controller) current() (*active, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return nil, apperr.ErrNoSession
	}
	return c.cur, nil
}

func (c *Controller) currentAs(role domain.Role) (*active, error) {
	act, err := c.current()
	if err != nil {
		return nil, err
	}
	if act.session.User.Role != role {
		return nil, fmt.Errorf("%w: only a %s can do this", apperr.ErrForbidden, role)
	}
	return act, nil
}

func (a *active) actor() lifecycle.Actor {
	return lifecycle.Actor{ID: a.session.ActorID(), Role: a.session.User.Role}
}

func (a *active) setPosition(p domain.Coords) {
	a.posMu.Lock()
	a.position = &p
	a.posMu.Unlock()
}

func (a *active) lastPosition() *domain.Coords {
	a.posMu.Lock()
	defer a.posMu.Unlock()
	if a.position == nil {
		return nil
	}
	p := *a.position
	return &p
}
