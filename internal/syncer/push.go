package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"telego/internal/domain"
	"telego/internal/logx"
)

// DefaultPushBackoff is the fixed delay between push reconnect attempts.
const DefaultPushBackoff = 3 * time.Second

const writeTimeout = 5 * time.Second

// ErrNotConnected is returned by Send while the push channel is down.
var ErrNotConnected = errors.New("push channel not connected")

// PushURL is the role channel for a session: <base>/ws/<role>/<profile id>.
func PushURL(base string, s domain.Session) string {
	return fmt.Sprintf("%s/ws/%s/%s",
		strings.TrimRight(base, "/"),
		strings.ToLower(string(s.User.Role)),
		s.ActorID(),
	)
}

// Pusher holds the websocket push channel open and turns relevant
// notifications into poll triggers. Disconnects are retried forever after a
// fixed backoff; polling covers the gap.
type Pusher struct {
	url     string
	token   string
	backoff time.Duration
	dialer  *websocket.Dialer
	trigger *Trigger
	logger  logx.Logger

	events     labeledCounter
	reconnects prometheus.Counter

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPusher builds a Pusher for url. token, when set, is sent as a bearer
// header on the handshake.
func NewPusher(
	url, token string,
	backoff time.Duration,
	trigger *Trigger,
	logger logx.Logger,
	events labeledCounter,
	reconnects prometheus.Counter,
) *Pusher {
	if backoff <= 0 {
		backoff = DefaultPushBackoff
	}
	if trigger == nil {
		trigger = NewTrigger()
	}
	return &Pusher{
		url:        url,
		token:      token,
		backoff:    backoff,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		trigger:    trigger,
		logger:     logger.With(logx.String("component", "push"), logx.String("url", url)),
		events:     events,
		reconnects: reconnects,
	}
}

// Run keeps the channel open until ctx ends.
func (p *Pusher) Run(ctx context.Context) error {
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Warn("push channel lost, reconnecting",
			logx.Err(err),
			logx.Duration("backoff", p.backoff),
		)
		if p.reconnects != nil {
			p.reconnects.Inc()
		}
		t := time.NewTimer(p.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Send writes v as JSON on the open channel.
func (p *Pusher) Send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	return nil
}

// Connected reports whether a channel is currently open.
func (p *Pusher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// session dials once and reads until the connection breaks or ctx ends.
func (p *Pusher) session(ctx context.Context) error {
	var header http.Header
	if p.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + p.token}}
	}
	conn, resp, err := p.dialer.DialContext(ctx, p.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	p.setConn(conn)
	p.logger.Info("push channel connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		p.dropConn(conn)
		_ = conn.Close()
	}()

	// a missed notification is recovered by polling, so catch up now
	p.trigger.Fire()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		p.handle(msg)
	}
}

func (p *Pusher) handle(msg []byte) {
	n, err := ParseNotification(msg)
	if err != nil {
		p.logger.Warn("push message ignored", logx.Err(err))
		return
	}
	if !n.Refresh() {
		p.logger.Debug("push notification ignored", logx.String("type", n.Type))
		return
	}
	if p.events != nil {
		p.events.WithLabelValues("websocket", n.Type).Inc()
	}
	p.logger.Debug("push notification",
		logx.String("type", n.Type),
		logx.String("order_id", n.OrderID),
	)
	p.trigger.Fire()
}

func (p *Pusher) setConn(c *websocket.Conn) {
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
}

func (p *Pusher) dropConn(c *websocket.Conn) {
	p.mu.Lock()
	if p.conn == c {
		p.conn = nil
	}
	p.mu.Unlock()
}
