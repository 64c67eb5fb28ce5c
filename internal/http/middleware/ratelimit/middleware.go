package ratelimit

import (
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"telego/internal/logx"
)

// Middleware answers 429 once a client address runs out of attempts.
type Middleware struct {
	logger   logx.Logger
	rejected prometheus.Counter
	limiter  Limiter
}

// New builds the middleware. A nil limiter disables throttling.
func New(logger logx.Logger, rejected prometheus.Counter, limiter Limiter) *Middleware {
	if limiter == nil {
		limiter = Unlimited{}
	}
	return &Middleware{logger: logger, rejected: rejected, limiter: limiter}
}

// Handler returns chi-style middleware.
func (m *Middleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if m.limiter.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			if m.rejected != nil {
				m.rejected.Inc()
			}
			m.logger.Warn("session request throttled",
				logx.String("ip", ip),
				logx.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := io.WriteString(w, `{"error":"too many requests"}`); err != nil {
				m.logger.Debug("throttle response write failed", logx.Err(err))
			}
		})
	}
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
