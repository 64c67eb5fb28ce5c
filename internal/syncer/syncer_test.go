package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"telego/internal/domain"
	"telego/internal/lifecycle"
	"telego/internal/logx"
	"telego/internal/store"
	testlog "telego/internal/testutil"
)

type stubReader struct {
	restaurant func(ctx context.Context, id string) ([]domain.Delivery, error)
	courier    func(ctx context.Context, id string) ([]domain.Delivery, error)
	available  func(ctx context.Context) ([]domain.Delivery, error)
}

func (s stubReader) RestaurantOrders(ctx context.Context, id string) ([]domain.Delivery, error) {
	return s.restaurant(ctx, id)
}

func (s stubReader) CourierOrders(ctx context.Context, id string) ([]domain.Delivery, error) {
	return s.courier(ctx, id)
}

func (s stubReader) AvailableOrders(ctx context.Context) ([]domain.Delivery, error) {
	return s.available(ctx)
}

func newPollCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "polls"}, []string{"result"})
}

func session(role domain.Role, profileID string) domain.Session {
	return domain.Session{User: domain.User{ID: "u1", Role: role}, ProfileID: profileID}
}

func delivery(id string, status domain.Status) domain.Delivery {
	return domain.Delivery{ID: id, RestaurantID: "r1", Status: status, CreatedAt: time.Now().UTC()}
}

func newStore() *store.Store {
	return store.New(lifecycle.NewEngine(lifecycle.DefaultExpiryTTL), logx.Nop())
}

func TestTrigger_Coalesces(t *testing.T) {
	t.Parallel()

	tr := NewTrigger()
	require.True(t, tr.Fire())
	require.False(t, tr.Fire())

	<-tr.C()
	require.True(t, tr.Fire())
}

func TestParseNotification(t *testing.T) {
	t.Parallel()

	n, err := ParseNotification([]byte(`{"type":"ORDER_UPDATE","order_id":42,"status":"ASSIGNED"}`))
	require.NoError(t, err)
	require.Equal(t, "42", n.OrderID)
	require.True(t, n.Refresh())

	n, err = ParseNotification([]byte(`{"type":"new_order","order":{"id":"7"},"timeout_seconds":30}`))
	require.NoError(t, err)
	require.Equal(t, TypeNewOrder, n.Type)
	require.Equal(t, "7", n.OrderID)

	n, err = ParseNotification([]byte(`{"type":"HEARTBEAT"}`))
	require.NoError(t, err)
	require.False(t, n.Refresh())

	_, err = ParseNotification([]byte(`pong`))
	require.Error(t, err)

	_, err = ParseNotification([]byte(`{"order_id":1}`))
	require.Error(t, err)
}

func TestPollOnce_RestaurantReplacesStore(t *testing.T) {
	t.Parallel()

	st := newStore()
	st.ReplaceAll([]domain.Delivery{delivery("old", domain.StatusPending)})

	var gotID string
	reader := stubReader{restaurant: func(_ context.Context, id string) ([]domain.Delivery, error) {
		gotID = id
		return []domain.Delivery{delivery("a", domain.StatusPending), delivery("b", domain.StatusDelivered)}, nil
	}}
	p := NewPoller(reader, st, session(domain.RoleRestaurant, "r1"), time.Second, nil, logx.Nop(), nil)

	var terminal []domain.Delivery
	p.OnTerminal(func(_ context.Context, ds []domain.Delivery) { terminal = ds })

	ch, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "r1", gotID)
	require.Equal(t, 2, ch.Added)
	require.Equal(t, 1, ch.Removed)
	require.Equal(t, 2, st.Len())
	_, ok := st.Get("old")
	require.False(t, ok)
	require.Len(t, terminal, 1)
	require.Equal(t, "b", terminal[0].ID)
}

func TestPollOnce_CourierUnionsOwnAndAvailable(t *testing.T) {
	t.Parallel()

	st := newStore()
	mine := delivery("a", domain.StatusAccepted)
	mine.CourierID = "c1"
	reader := stubReader{
		courier: func(_ context.Context, id string) ([]domain.Delivery, error) {
			require.Equal(t, "c1", id)
			return []domain.Delivery{mine}, nil
		},
		available: func(context.Context) ([]domain.Delivery, error) {
			// the courier's own order may also show up as open
			return []domain.Delivery{delivery("a", domain.StatusPending), delivery("b", domain.StatusPending)}, nil
		},
	}
	p := NewPoller(reader, st, session(domain.RoleCourier, "c1"), time.Second, nil, logx.Nop(), nil)

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, st.Len())
	got, ok := st.Get("a")
	require.True(t, ok)
	require.Equal(t, domain.StatusAccepted, got.Status)
}

func TestPollOnce_PartialFailureKeepsStore(t *testing.T) {
	t.Parallel()

	st := newStore()
	st.ReplaceAll([]domain.Delivery{delivery("keep", domain.StatusPending)})
	reader := stubReader{
		courier: func(context.Context, string) ([]domain.Delivery, error) { return nil, nil },
		available: func(context.Context) ([]domain.Delivery, error) {
			return nil, errors.New("boom")
		},
	}
	p := NewPoller(reader, st, session(domain.RoleCourier, "c1"), time.Second, nil, logx.Nop(), nil)

	_, err := p.PollOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, st.Len())
}

func TestPollOnce_DiscardsAfterStoreClosed(t *testing.T) {
	t.Parallel()

	st := newStore()
	reader := stubReader{restaurant: func(context.Context, string) ([]domain.Delivery, error) {
		st.Close()
		return []domain.Delivery{delivery("a", domain.StatusPending)}, nil
	}}
	p := NewPoller(reader, st, session(domain.RoleRestaurant, "r1"), time.Second, nil, logx.Nop(), nil)

	ch, err := p.PollOnce(context.Background())
	require.ErrorIs(t, err, errStaleSnapshot)
	require.True(t, ch.Discarded)
	require.Equal(t, 0, st.Len())
}

func TestPollOnce_DiscardsAfterContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	st := newStore()
	reader := stubReader{restaurant: func(context.Context, string) ([]domain.Delivery, error) {
		cancel()
		return []domain.Delivery{delivery("a", domain.StatusPending)}, nil
	}}
	p := NewPoller(reader, st, session(domain.RoleRestaurant, "r1"), time.Second, nil, logx.Nop(), nil)

	_, err := p.PollOnce(ctx)
	require.ErrorIs(t, err, errStaleSnapshot)
	require.Equal(t, 0, st.Len())
}

func TestPollerRun_PollsOnStartTickAndTrigger(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fail := atomic.Bool{}
	reader := stubReader{restaurant: func(context.Context, string) ([]domain.Delivery, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("backend down")
		}
		return nil, nil
	}}
	rec := testlog.New()
	polls := newPollCounter()
	tr := NewTrigger()
	p := NewPoller(reader, newStore(), session(domain.RoleRestaurant, "r1"), time.Hour, tr, rec.Logger(), polls)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	fail.Store(true)
	tr.Fire()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.Has("poll failed") }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, float64(1), testutil.ToFloat64(polls.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(polls.WithLabelValues("error")))
}

func TestPushURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ws://h:8000/ws/courier/9", PushURL("ws://h:8000/", session(domain.RoleCourier, "9")))
	require.Equal(t, "ws://h/ws/restaurant/u1", PushURL("ws://h", session(domain.RoleRestaurant, "")))
}

func TestPusherHandle_RefreshTypesFireTrigger(t *testing.T) {
	t.Parallel()

	events := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "events"}, []string{"source", "type"})
	rec := testlog.New()
	tr := NewTrigger()
	p := NewPusher("ws://unused", "", time.Second, tr, rec.Logger(), events, nil)

	p.handle([]byte(`{"type":"HEARTBEAT"}`))
	p.handle([]byte(`not json`))
	select {
	case <-tr.C():
		t.Fatal("ignored message fired the trigger")
	default:
	}
	require.True(t, rec.Has("push message ignored"))

	p.handle([]byte(`{"type":"ORDER_UPDATE","order_id":1,"status":"PICKED_UP"}`))
	p.handle([]byte(`{"type":"NEW_ORDER","order":{"id":2}}`))
	select {
	case <-tr.C():
	default:
		t.Fatal("expected a pending trigger")
	}
	require.Equal(t, float64(1), testutil.ToFloat64(events.WithLabelValues("websocket", TypeOrderUpdate)))
	require.Equal(t, float64(1), testutil.ToFloat64(events.WithLabelValues("websocket", TypeNewOrder)))
}

type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	accepted int
	auth     string
	received [][]byte
	// dropFirst closes the first connection right after the handshake.
	dropFirst bool
}

func newWSServer(t *testing.T, dropFirst bool) *wsServer {
	t.Helper()
	s := &wsServer{dropFirst: dropFirst}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.accepted++
		n := s.accepted
		s.auth = r.Header.Get("Authorization")
		s.mu.Unlock()

		if s.dropFirst && n == 1 {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, msg)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

func (s *wsServer) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *wsServer) receivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestPusherRun_ReconnectsWithFixedBackoff(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, true)
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{Name: "reconnects"})
	p := NewPusher(srv.url(), "tok", 20*time.Millisecond, NewTrigger(), logx.Nop(), nil, reconnects)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.acceptedCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, p.Connected, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(reconnects), float64(1))

	srv.mu.Lock()
	require.Equal(t, "Bearer tok", srv.auth)
	srv.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return !p.Connected() }, time.Second, 5*time.Millisecond)
}

func TestPusherRun_KeepsRetryingWhileBackendDown(t *testing.T) {
	t.Parallel()

	rec := testlog.New()
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{Name: "reconnects"})
	p := NewPusher("ws://127.0.0.1:1/ws/courier/1", "", 10*time.Millisecond, NewTrigger(), rec.Logger(), nil, reconnects)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return testutil.ToFloat64(reconnects) >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, rec.Has("push channel lost, reconnecting"))

	cancel()
	require.NoError(t, <-done)
}

func TestPusherSend(t *testing.T) {
	t.Parallel()

	p := NewPusher("ws://unused", "", time.Second, NewTrigger(), logx.Nop(), nil, nil)
	require.ErrorIs(t, p.Send(map[string]string{"type": "HEARTBEAT"}), ErrNotConnected)

	srv := newWSServer(t, false)
	p = NewPusher(srv.url(), "", time.Second, NewTrigger(), logx.Nop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, p.Connected, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Send(map[string]any{"type": "LOCATION_UPDATE", "lat": -23.5, "lng": -46.6}))
	require.Eventually(t, func() bool { return srv.receivedCount() == 1 }, time.Second, 5*time.Millisecond)

	srv.mu.Lock()
	require.Contains(t, string(srv.received[0]), `"LOCATION_UPDATE"`)
	srv.mu.Unlock()
}

func TestNotificationFor(t *testing.T) {
	t.Parallel()

	s := session(domain.RoleCourier, "3")
	require.Equal(t, "courier_3", RecipientFor(s))

	n, err := ParseNotification([]byte(`{"type":"ORDER_UPDATE","order_id":1,"recipient":"COURIER_3"}`))
	require.NoError(t, err)
	require.True(t, n.For(s))
	require.False(t, n.For(session(domain.RoleRestaurant, "3")))
	require.True(t, Notification{Type: TypeNewOrder}.For(s))
}
