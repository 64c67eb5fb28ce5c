package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"telego/internal/domain"
	"telego/internal/gateway/backend"
	"telego/internal/logx"
	"telego/internal/store"
)

// DefaultPollInterval is how often the visible set is refreshed.
const DefaultPollInterval = 5 * time.Second

// errStaleSnapshot marks a snapshot fetched for a session that is gone.
var errStaleSnapshot = errors.New("stale snapshot discarded")

type labeledCounter interface {
	WithLabelValues(lvs ...string) prometheus.Counter
}

// TerminalFunc observes deliveries that reached a terminal status.
type TerminalFunc func(ctx context.Context, ds []domain.Delivery)

// Poller fetches the role's snapshot and replaces the store with it.
type Poller struct {
	reader     backend.SnapshotReader
	store      *store.Store
	session    domain.Session
	interval   time.Duration
	trigger    *Trigger
	logger     logx.Logger
	polls      labeledCounter
	onTerminal TerminalFunc
}

// NewPoller builds a Poller for session.
func NewPoller(
	reader backend.SnapshotReader,
	st *store.Store,
	session domain.Session,
	interval time.Duration,
	trigger *Trigger,
	logger logx.Logger,
	polls labeledCounter,
) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if trigger == nil {
		trigger = NewTrigger()
	}
	return &Poller{
		reader:   reader,
		store:    st,
		session:  session,
		interval: interval,
		trigger:  trigger,
		logger:   logger.With(logx.String("component", "poller"), logx.String("role", string(session.User.Role))),
		polls:    polls,
	}
}

// OnTerminal registers fn for deliveries that reach a terminal status.
func (p *Poller) OnTerminal(fn TerminalFunc) { p.onTerminal = fn }

// Run polls immediately, then on every tick and trigger until ctx ends.
// Failures are logged and counted; the next tick retries.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		case <-p.trigger.C():
			p.poll(ctx)
		}
	}
}

// PollOnce fetches one snapshot and applies it.
func (p *Poller) PollOnce(ctx context.Context) (store.Changes, error) {
	snapshot, err := p.fetch(ctx)
	if err != nil {
		return store.Changes{}, err
	}
	// a response that outlived its session must not touch the store
	if ctx.Err() != nil {
		return store.Changes{Discarded: true}, errStaleSnapshot
	}
	ch := p.store.ReplaceAll(snapshot)
	if ch.Discarded {
		return ch, errStaleSnapshot
	}
	if len(ch.Terminal) > 0 && p.onTerminal != nil {
		p.onTerminal(ctx, ch.Terminal)
	}
	return ch, nil
}

func (p *Poller) poll(ctx context.Context) {
	ch, err := p.PollOnce(ctx)
	switch {
	case err == nil:
		p.count("ok")
		p.logger.Debug("poll applied",
			logx.Int("added", ch.Added),
			logx.Int("updated", ch.Updated),
			logx.Int("removed", ch.Removed),
		)
	case errors.Is(err, errStaleSnapshot), ctx.Err() != nil:
		p.count("discarded")
		p.logger.Debug("poll discarded", logx.Err(err))
	default:
		p.count("error")
		p.logger.Warn("poll failed", logx.Err(err))
	}
}

func (p *Poller) fetch(ctx context.Context) ([]domain.Delivery, error) {
	id := p.session.ActorID()
	switch p.session.User.Role {
	case domain.RoleRestaurant:
		return p.reader.RestaurantOrders(ctx, id)
	case domain.RoleCourier:
		mine, err := p.reader.CourierOrders(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("courier orders: %w", err)
		}
		open, err := p.reader.AvailableOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("available orders: %w", err)
		}
		return unionByID(mine, open), nil
	default:
		return nil, fmt.Errorf("poll: unsupported role %q", p.session.User.Role)
	}
}

func (p *Poller) count(result string) {
	if p.polls != nil {
		p.polls.WithLabelValues(result).Inc()
	}
}

// unionByID keeps the first occurrence of every id.
func unionByID(lists ...[]domain.Delivery) []domain.Delivery {
	seen := make(map[string]struct{})
	var out []domain.Delivery
	for _, l := range lists {
		for _, d := range l {
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}
