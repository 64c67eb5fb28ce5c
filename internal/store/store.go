// Package store keeps the session's deliveries keyed by id and reconciles
// server snapshots with optimistic local edits.
package store

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/lifecycle"
	"telego/internal/logx"
)

// Changes describes what a snapshot did to the store.
type Changes struct {
	Added   int
	Updated int
	Removed int
	// Terminal holds deliveries that reached a terminal status with this write.
	Terminal []domain.Delivery
	// Discarded is set when the store was already closed.
	Discarded bool
}

// Store is the single source of truth for the current session's deliveries.
type Store struct {
	mu     sync.Mutex
	engine *lifecycle.Engine
	logger logx.Logger
	now    func() time.Time

	byID map[string]domain.Delivery
	// refusals survive snapshot replacement: delivery id -> courier ids.
	refusals map[string]map[string]struct{}
	// confirmed is the courier id the backend last reported per delivery.
	confirmed map[string]string
	// expired holds deliveries the local sweep expired; a PENDING snapshot
	// does not reopen them.
	expired map[string]struct{}
	closed  bool
}

// New returns an empty open Store.
func New(engine *lifecycle.Engine, logger logx.Logger) *Store {
	return &Store{
		engine:    engine,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		byID:      make(map[string]domain.Delivery),
		refusals:  make(map[string]map[string]struct{}),
		confirmed: make(map[string]string),
		expired:   make(map[string]struct{}),
	}
}

// Close drops every delivery; later writes are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.byID = make(map[string]domain.Delivery)
	s.refusals = make(map[string]map[string]struct{})
	s.confirmed = make(map[string]string)
	s.expired = make(map[string]struct{})
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ReplaceAll swaps the whole mapping for snapshot. Server fields win;
// refusals, unsent chat messages and fields the server omits are kept.
func (s *Store) ReplaceAll(snapshot []domain.Delivery) Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Changes{Discarded: true}
	}

	next := make(map[string]domain.Delivery, len(snapshot))
	var ch Changes
	for _, in := range snapshot {
		if in.ID == "" {
			continue
		}
		if dup, seen := next[in.ID]; seen {
			// same id twice in one snapshot: the later record wins
			next[in.ID] = s.mergeLocked(dup, true, in)
			continue
		}
		prev, known := s.byID[in.ID]
		merged := s.mergeLocked(prev, known, in)
		if known {
			ch.Updated++
		} else {
			ch.Added++
		}
		next[in.ID] = merged
		if merged.Status.Terminal() && (!known || !prev.Status.Terminal()) {
			ch.Terminal = append(ch.Terminal, merged.Clone())
		}
	}
	for id := range s.byID {
		if _, ok := next[id]; !ok {
			ch.Removed++
		}
	}
	s.byID = next
	return ch
}

// Upsert inserts or updates a single server-provided record.
func (s *Store) Upsert(d domain.Delivery) Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Changes{Discarded: true}
	}
	if d.ID == "" {
		return Changes{}
	}
	prev, known := s.byID[d.ID]
	merged := s.mergeLocked(prev, known, d)
	s.byID[d.ID] = merged

	var ch Changes
	if known {
		ch.Updated = 1
	} else {
		ch.Added = 1
	}
	if merged.Status.Terminal() && (!known || !prev.Status.Terminal()) {
		ch.Terminal = []domain.Delivery{merged.Clone()}
	}
	return ch
}

// ApplyLocalTransition optimistically moves delivery id to status to.
// A transition the engine rejects leaves the store unchanged.
func (s *Store) ApplyLocalTransition(id string, to domain.Status, actor lifecycle.Actor) (domain.Delivery, lifecycle.Decision, error) {
	action, ok := lifecycle.ActionFor(to)
	if !ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		d, found := s.byID[id]
		if !found || s.closed {
			return domain.Delivery{}, lifecycle.Decision{}, apperr.ErrNotFound
		}
		return d.Clone(), lifecycle.Decision{Reason: "no transition into " + string(to)}, nil
	}
	return s.Apply(id, action, actor)
}

// Refuse records that courier declined delivery id.
func (s *Store) Refuse(id string, courier lifecycle.Actor) (domain.Delivery, lifecycle.Decision, error) {
	return s.Apply(id, lifecycle.ActionRefuse, courier)
}

// Apply runs action through the engine against the current local record.
func (s *Store) Apply(id string, action lifecycle.Action, actor lifecycle.Actor) (domain.Delivery, lifecycle.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok || s.closed {
		return domain.Delivery{}, lifecycle.Decision{}, apperr.ErrNotFound
	}

	out, dec := s.engine.Apply(d, action, actor, s.now())
	if !dec.Allowed {
		s.logger.Debug("transition ignored",
			logx.String("delivery_id", id),
			logx.String("action", string(action)),
			logx.String("status", string(d.Status)),
			logx.String("reason", dec.Reason),
		)
		return out, dec, nil
	}
	if action == lifecycle.ActionRefuse {
		s.rememberRefusalLocked(id, actor.ID)
		out.RefusedBy = s.refusedLocked(id)
	}
	s.byID[id] = out
	return out.Clone(), dec, nil
}

// AppendMessage adds a chat message to delivery id.
func (s *Store) AppendMessage(id string, msg domain.ChatMessage) (domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok || s.closed {
		return domain.Delivery{}, apperr.ErrNotFound
	}
	if !slices.ContainsFunc(d.Messages, func(m domain.ChatMessage) bool { return m.ID == msg.ID }) {
		d.Messages = append(slices.Clone(d.Messages), msg)
		d.UpdatedAt = s.now()
	}
	s.byID[id] = d
	return d.Clone(), nil
}

// ExpireStale moves every PENDING delivery older than the engine TTL to
// EXPIRED and returns the ones it changed.
func (s *Store) ExpireStale(now time.Time) []domain.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	var expired []domain.Delivery
	for id, d := range s.byID {
		if d.Status != domain.StatusPending {
			continue
		}
		out, dec := s.engine.Apply(d, lifecycle.ActionExpire, lifecycle.System, now)
		if !dec.Allowed {
			continue
		}
		s.byID[id] = out
		s.expired[id] = struct{}{}
		expired = append(expired, out.Clone())
	}
	sortNewestFirst(expired)
	return expired
}

func (s *Store) mergeLocked(prev domain.Delivery, known bool, in domain.Delivery) domain.Delivery {
	out := in.Clone()
	if out.Status == "" {
		out.Status = domain.StatusPending
	}
	if _, ok := s.expired[out.ID]; ok && out.Status == domain.StatusPending {
		out.Status = domain.StatusExpired
	}

	if known {
		if out.Pickup.Coords == nil && prev.Pickup.Coords != nil {
			c := *prev.Pickup.Coords
			out.Pickup.Coords = &c
		}
		if out.Dropoff.Coords == nil && prev.Dropoff.Coords != nil {
			c := *prev.Dropoff.Coords
			out.Dropoff.Coords = &c
		}
		out.Observations = cmp.Or(out.Observations, prev.Observations)
		out.CustomerPhone = cmp.Or(out.CustomerPhone, prev.CustomerPhone)
		out.EstimatedTime = cmp.Or(out.EstimatedTime, prev.EstimatedTime)
		if out.CreatedAt.IsZero() {
			out.CreatedAt = prev.CreatedAt
		}
		out.Messages = mergeMessages(out.Messages, prev.Messages)
		for _, c := range prev.RefusedBy {
			s.rememberRefusalLocked(out.ID, c)
		}
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = s.now()
	}
	for _, c := range out.RefusedBy {
		s.rememberRefusalLocked(out.ID, c)
	}
	out.RefusedBy = s.refusedLocked(out.ID)

	if confirmed := s.confirmed[out.ID]; confirmed != "" && out.CourierID != "" &&
		out.CourierID != confirmed && out.Status != domain.StatusPending {
		s.logger.Warn("courier reassignment ignored",
			logx.String("delivery_id", out.ID),
			logx.String("courier_id", confirmed),
			logx.String("reported_courier_id", out.CourierID),
		)
		out.CourierID = confirmed
	}
	switch {
	case out.CourierID == "" || out.Status == domain.StatusPending:
		// reopened by the backend: the next assignment is confirmed afresh
		delete(s.confirmed, out.ID)
	default:
		s.confirmed[out.ID] = out.CourierID
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = prev.UpdatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = s.now()
	}
	return out
}

func (s *Store) rememberRefusalLocked(id, courierID string) {
	if courierID == "" {
		return
	}
	set, ok := s.refusals[id]
	if !ok {
		set = make(map[string]struct{})
		s.refusals[id] = set
	}
	set[courierID] = struct{}{}
}

func (s *Store) refusedLocked(id string) []string {
	set := s.refusals[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (s *Store) refusedByLocked(id, courierID string) bool {
	_, ok := s.refusals[id][courierID]
	return ok
}

// mergeMessages keeps the server log and appends local messages it has not echoed yet.
func mergeMessages(server, local []domain.ChatMessage) []domain.ChatMessage {
	if len(local) == 0 {
		return server
	}
	seen := make(map[string]struct{}, len(server))
	for _, m := range server {
		seen[m.ID] = struct{}{}
	}
	out := slices.Clone(server)
	for _, m := range local {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.ChatMessage) int { return a.SentAt.Compare(b.SentAt) })
	return out
}
