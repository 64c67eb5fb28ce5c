package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"telego/internal/apperr"
	"telego/internal/config"
	"telego/internal/domain"
	"telego/internal/logx"
)

// RedisKey is where RedisStore keeps the session.
const RedisKey = "telego:session"

// Persister keeps the session across restarts.
type Persister interface {
	Save(ctx context.Context, s domain.Session) error
	// Load returns apperr.ErrNoSession when nothing is stored.
	Load(ctx context.Context) (domain.Session, error)
	Clear(ctx context.Context) error
}

// FileStore persists the session as a JSON file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(_ context.Context, s domain.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context) (domain.Session, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Session{}, apperr.ErrNoSession
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// RedisStore persists the session under RedisKey.
type RedisStore struct {
	rdb goredis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps the key forever.
func NewRedisStore(rdb goredis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, key: RedisKey, ttl: ttl}
}

// ConnectRedis dials redis and pings it until it answers or attempts run out.
func ConnectRedis(ctx context.Context, cfg config.Redis, logger logx.Logger, attempts int, delay time.Duration) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	var lastErr error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = rdb.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info("redis connected", logx.String("addr", cfg.Addr), logx.Int("attempt", i))
			return rdb, nil
		}
		logger.Warn("redis not ready",
			logx.String("addr", cfg.Addr),
			logx.Int("attempt", i),
			logx.Int("attempts", attempts),
			logx.Err(lastErr),
		)
		if i < attempts {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("redis connect failed after %d attempts: %w", attempts, lastErr)
}

func (r *RedisStore) Save(ctx context.Context, s domain.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (domain.Session, error) {
	b, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Session{}, apperr.ErrNoSession
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis load session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}

// Open builds the persister named by cfg.Backend. The returned close func
// releases any connection it opened.
func Open(ctx context.Context, cfg config.Session, rcfg config.Redis, logger logx.Logger) (Persister, func() error, error) {
	switch cfg.Backend {
	case config.SessionBackendRedis:
		rdb, err := ConnectRedis(ctx, rcfg, logger, 5, time.Second)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(rdb, rcfg.TTL), rdb.Close, nil
	case config.SessionBackendFile, "":
		return NewFileStore(cfg.File), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
