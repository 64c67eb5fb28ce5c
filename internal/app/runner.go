package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/dig"

	"telego/internal/logx"
	"telego/internal/service/dispatch"
	"telego/internal/session"
)

const shutdownTimeout = 15 * time.Second

// Runner runs the client held by a container.
type Runner struct {
	runFn     func(*dig.Container) error
	logFatalf func(string, ...any)
}

// NewRunner returns a Runner for production use.
func NewRunner() *Runner {
	return &Runner{runFn: run, logFatalf: log.Fatalf}
}

// MustRun runs until the container context ends. Any failure other than
// cancellation is fatal.
func (r *Runner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	if err == nil {
		return
	}

	logger := logx.Nop()
	_ = container.Invoke(func(l logx.Logger) { logger = l })

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("shutdown requested, exiting")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("startup aborted: startup timeout exceeded")
	default:
		logger.Error("run failed", logx.Err(err))
		if r.logFatalf != nil {
			r.logFatalf("run error: %v", err)
		}
	}
}

type runIn struct {
	dig.In

	Ctx      context.Context
	Logger   logx.Logger
	Server   *http.Server
	Sessions *session.Manager
	Dispatch *dispatch.Controller
	Pool     *pgxpool.Pool `optional:"true"`
	Close    sessionCloser `optional:"true"`
}

func run(container *dig.Container) error {
	return container.Invoke(func(in runIn) error {
		resumeSession(in.Ctx, in.Logger, in.Sessions, in.Dispatch)

		serverErr := startServer(in.Server, in.Logger)
		err := waitForShutdown(in.Ctx, in.Logger, serverErr)

		in.Dispatch.Teardown()
		gracefulShutdown(in.Server, in.Logger, shutdownTimeout)
		closeResources(in.Pool, in.Close, in.Logger)
		return err
	})
}

// resumeSession reactivates a persisted session so syncing starts without
// a fresh login.
func resumeSession(ctx context.Context, logger logx.Logger, sessions *session.Manager, d *dispatch.Controller) {
	s, err := sessions.Restore(ctx)
	switch {
	case session.IsMissing(err):
		logger.Info("no persisted session")
		return
	case err != nil:
		logger.Warn("session restore failed", logx.Err(err))
		return
	}
	if err := d.Activate(s); err != nil {
		logger.Warn("session resume failed", logx.Err(err))
		return
	}
	logger.Info("session resumed", logx.String("user_id", s.User.ID))
}

func startServer(server *http.Server, logger logx.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("local api listening", logx.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

func waitForShutdown(ctx context.Context, logger logx.Logger, serverErr <-chan error) error {
	select {
	case <-ctx.Done():
		logger.Info("shutting down telego")
		return ctx.Err()
	case err, ok := <-serverErr:
		if ok && err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func gracefulShutdown(srv *http.Server, logger logx.Logger, timeout time.Duration) {
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn("graceful shutdown error", logx.Err(err))
	}
}

func closeResources(pool *pgxpool.Pool, closeSession sessionCloser, logger logx.Logger) {
	if closeSession != nil {
		if err := closeSession(); err != nil {
			logger.Warn("session store close error", logx.Err(err))
		}
	}
	if pool != nil {
		pool.Close()
	}
}
