// Package middleware holds the local API's cross-cutting HTTP middleware.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"telego/internal/logx"
)

// Observability records request counts and latency by route pattern and
// logs every request.
type Observability struct {
	logger   logx.Logger
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewObservability registers the HTTP collectors on reg.
func NewObservability(logger logx.Logger, reg prometheus.Registerer) (*Observability, error) {
	o := &Observability{
		logger: logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	for _, c := range []prometheus.Collector{o.requests, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Handler returns chi-style middleware.
func (o *Observability) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// route pattern keeps label cardinality bounded
		path := pathPattern(r)
		took := time.Since(start)
		status := strconv.Itoa(ww.Status())

		o.requests.WithLabelValues(r.Method, path, status).Inc()
		o.duration.WithLabelValues(r.Method, path, status).Observe(took.Seconds())

		o.logger.Info("http request",
			logx.String("method", r.Method),
			logx.String("path", path),
			logx.Int("status", ww.Status()),
			logx.Duration("duration", took),
			logx.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func pathPattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
