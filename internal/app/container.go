// Package app wires the client together and runs it.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"

	"telego/internal/config"
	"telego/internal/gateway/backend"
	"telego/internal/http/handlers"
	"telego/internal/http/middleware"
	"telego/internal/http/middleware/ratelimit"
	"telego/internal/http/router"
	"telego/internal/lifecycle"
	"telego/internal/logx"
	"telego/internal/metrics"
	"telego/internal/repository"
	"telego/internal/service/dispatch"
	"telego/internal/session"
	"telego/internal/transport/kafka"
)

const historyLimit = 200

// sessionCloser releases the session persistence connection.
type sessionCloser func() error

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	loadConfig func() (*config.Config, error)
	dbConnect  dbConnector
	logFatalf  func(string, ...any)
}

// NewContainerBuilder returns a builder with production dependencies.
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		loadConfig: config.Load,
		dbConnect:  connectDbWithRetry,
		logFatalf:  log.Fatalf,
	}
}

// WithConfig replaces config loading.
func (b *ContainerBuilder) WithConfig(fn func() (*config.Config, error)) *ContainerBuilder {
	if fn != nil {
		b.loadConfig = fn
	}
	return b
}

// WithDBConnect sets the archive connection function.
func (b *ContainerBuilder) WithDBConnect(fn dbConnector) *ContainerBuilder {
	if fn != nil {
		b.dbConnect = fn
	}
	return b
}

// WithLogFatalf sets the fatal logger.
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...any)) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// MustBuild builds the container or exits.
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx, b.loadConfig); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerDb(container, b.dbConnect); err != nil {
		return nil, fmt.Errorf("DB: %w", err)
	}
	if err := registerService(container); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if err := registerHTTP(container); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return container, nil
}

// MustBuildContainer builds the production container.
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

func registerCore(container *dig.Container, ctx context.Context, load func() (*config.Config, error)) error {
	return provideAll(container,
		func() context.Context { return ctx },
		load,
		NewLogger,
		prometheus.NewRegistry,
		func(reg *prometheus.Registry) (*metrics.Set, error) {
			set := metrics.NewSet()
			if err := set.Register(reg); err != nil {
				return nil, err
			}
			return set, nil
		},
		func(cfg *config.Config) *lifecycle.Engine {
			return lifecycle.NewEngine(cfg.Expiry.TTL)
		},
	)
}

// registerDb provides the optional history archive. With no database
// configured the pool and the archive are nil.
func registerDb(container *dig.Container, dbConnect dbConnector) error {
	providerDB := func(ctx context.Context, cfg *config.Config, logger logx.Logger) (*pgxpool.Pool, error) {
		if !cfg.DB.Enabled() {
			logger.Info("history archive disabled")
			return nil, nil
		}
		return dbConnect(ctx, logger, cfg.DB.DSN(), 10, time.Second)
	}
	providerArchive := func(ctx context.Context, pool *pgxpool.Pool) (dispatch.Archive, error) {
		if pool == nil {
			return nil, nil
		}
		repo := repository.NewHistoryRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return provideAll(container, providerDB, providerArchive)
}

func registerService(container *dig.Container) error {
	providerClient := func(cfg *config.Config, logger logx.Logger) (*backend.Client, error) {
		return backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, logger)
	}
	providerPersister := func(ctx context.Context, cfg *config.Config, logger logx.Logger) (session.Persister, sessionCloser, error) {
		p, closeFn, err := session.Open(ctx, cfg.Session, cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, sessionCloser(closeFn), nil
	}
	providerManager := func(client *backend.Client, p session.Persister, logger logx.Logger) *session.Manager {
		return session.NewManager(session.NewBackend(client), p, logger)
	}
	return provideAll(container,
		providerClient,
		providerPersister,
		providerManager,
		newController,
	)
}

type controllerIn struct {
	dig.In

	Ctx     context.Context
	Config  *config.Config
	Logger  logx.Logger
	Client  *backend.Client
	Manager *session.Manager
	Archive dispatch.Archive
	Engine  *lifecycle.Engine
	Metrics *metrics.Set
}

func newController(in controllerIn) *dispatch.Controller {
	cfg := in.Config
	retry := backend.RetryConfig{
		MaxAttempts: cfg.Gateway.MaxAttempts,
		BaseDelay:   cfg.Gateway.BaseDelay,
		MaxDelay:    cfg.Gateway.MaxDelay,
	}
	bind := func(token string) (backend.SnapshotReader, dispatch.Gateway) {
		c := in.Client.WithToken(token)
		return backend.NewRetryingReader(c, in.Logger, in.Metrics.GatewayRetries, retry), c
	}

	var consumers dispatch.ConsumerFactory
	if cfg.Kafka.Enabled() {
		consumers = func(h kafka.HandleFunc) (*kafka.Consumer, error) {
			return kafka.NewConsumer(in.Logger, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, h)
		}
	}

	settings := dispatch.Settings{
		PollInterval:   cfg.Sync.PollInterval,
		PushBaseURL:    cfg.Backend.WebSocketURL(),
		PushBackoff:    cfg.Sync.PushBackoff,
		ExpiryLocal:    cfg.Expiry.Local,
		ExpiryInterval: cfg.Expiry.Interval,
		HistoryLimit:   historyLimit,
	}
	return dispatch.NewController(in.Ctx, settings, dispatch.Deps{
		Backend:   bind,
		Consumers: consumers,
		Archive:   in.Archive,
		Forgetter: in.Manager,
		Engine:    in.Engine,
		Metrics:   in.Metrics,
		Logger:    in.Logger,
	})
}

func registerHTTP(container *dig.Container) error {
	providerObservability := func(logger logx.Logger, reg *prometheus.Registry) (*middleware.Observability, error) {
		return middleware.NewObservability(logger, reg)
	}
	providerThrottle := func(cfg *config.Config, logger logx.Logger, set *metrics.Set) *ratelimit.Middleware {
		return ratelimit.New(logger, set.AuthThrottled, ratelimit.NewBucket(cfg.Auth.Attempts, cfg.Auth.Window))
	}
	providerSessionHandler := func(logger logx.Logger, m *session.Manager, c *dispatch.Controller) *handlers.SessionHandler {
		return handlers.NewSessionHandler(logger, m, c)
	}
	providerDeliveryHandler := func(logger logx.Logger, c *dispatch.Controller) *handlers.DeliveryHandler {
		return handlers.NewDeliveryHandler(logger, c)
	}
	providerRouter := func(
		base *handlers.Handlers,
		sessions *handlers.SessionHandler,
		deliveries *handlers.DeliveryHandler,
		obs *middleware.Observability,
		throttle *ratelimit.Middleware,
		reg *prometheus.Registry,
	) http.Handler {
		return router.New(router.Deps{
			Base:     base,
			Session:  sessions,
			Delivery: deliveries,
			Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Observe:  obs.Handler,
			Throttle: throttle.Handler(),
		})
	}
	serverProvider := func(cfg *config.Config, mux http.Handler) *http.Server {
		return &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      20 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return provideAll(container,
		handlers.New,
		providerObservability,
		providerThrottle,
		providerSessionHandler,
		providerDeliveryHandler,
		providerRouter,
		serverProvider,
	)
}
