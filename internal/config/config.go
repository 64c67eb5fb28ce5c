package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Session persistence backends.
const (
	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"
)

// Config is the whole client configuration.
type Config struct {
	Port     int
	LogLevel string
	Backend  Backend
	Gateway  Gateway
	Sync     Sync
	Expiry   Expiry
	Session  Session
	Redis    Redis
	DB       DB
	Kafka    Kafka
	Auth     AuthLimit
}

// Backend describes the dispatch backend.
type Backend struct {
	URL     string
	Timeout time.Duration
}

// WebSocketURL derives the push channel base (ws/wss) from the REST URL.
func (b Backend) WebSocketURL() string {
	u, err := url.Parse(b.URL)
	if err != nil {
		return b.URL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return strings.TrimRight(u.String(), "/")
}

// Gateway holds retry settings for snapshot reads.
type Gateway struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Sync holds poll and push settings.
type Sync struct {
	PollInterval time.Duration
	PushBackoff  time.Duration
}

// Expiry holds client-side expiry settings. Local enables the monitor.
type Expiry struct {
	Local    bool
	Interval time.Duration
	TTL      time.Duration
}

// Session holds session persistence settings.
type Session struct {
	Backend string
	File    string
}

// Redis holds the redis connection used for session persistence.
type Redis struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DB holds the optional history archive connection.
type DB struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// Enabled reports whether the archive is configured.
func (d DB) Enabled() bool { return strings.TrimSpace(d.Host) != "" }

// DSN returns a postgres connection string.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		url.QueryEscape(d.User), url.QueryEscape(d.Pass), d.Host, d.Port, d.Name)
}

// Kafka holds the optional broker notification source.
type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether every kafka setting is present.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != "" && k.GroupID != ""
}

// AuthLimit throttles login and register calls per client address.
type AuthLimit struct {
	Attempts int
	Window   time.Duration
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg := &Config{
		Port:     defaultPort,
		LogLevel: defaultLogLevel,
		Backend:  DefaultBackend(),
		Gateway:  DefaultGateway(),
		Sync:     DefaultSync(),
		Expiry:   DefaultExpiry(),
		Session:  DefaultSession(),
		Redis:    DefaultRedis(),
		DB:       DefaultDB(),
		Auth:     DefaultAuthLimit(),
	}

	e := &envReader{}
	cfg.Port = e.getInt("PORT", cfg.Port)
	cfg.LogLevel = e.getStr("LOG_LEVEL", cfg.LogLevel)

	cfg.Backend.URL = e.getStr("BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.Timeout = e.getDuration("BACKEND_TIMEOUT", cfg.Backend.Timeout)

	cfg.Gateway.MaxAttempts = e.getInt("GATEWAY_MAX_ATTEMPTS", cfg.Gateway.MaxAttempts)
	cfg.Gateway.BaseDelay = e.getDuration("GATEWAY_BASE_DELAY", cfg.Gateway.BaseDelay)
	cfg.Gateway.MaxDelay = e.getDuration("GATEWAY_MAX_DELAY", cfg.Gateway.MaxDelay)

	cfg.Sync.PollInterval = e.getDuration("POLL_INTERVAL", cfg.Sync.PollInterval)
	cfg.Sync.PushBackoff = e.getDuration("PUSH_BACKOFF", cfg.Sync.PushBackoff)

	cfg.Expiry.Local = e.getBool("EXPIRY_LOCAL", cfg.Expiry.Local)
	cfg.Expiry.Interval = e.getDuration("EXPIRY_INTERVAL", cfg.Expiry.Interval)
	cfg.Expiry.TTL = e.getDuration("EXPIRY_TTL", cfg.Expiry.TTL)

	cfg.Session.Backend = e.getStr("SESSION_BACKEND", cfg.Session.Backend)
	cfg.Session.File = e.getStr("SESSION_FILE", cfg.Session.File)

	cfg.Redis.Addr = e.getStr("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = e.getStr("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = e.getInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TTL = e.getDuration("REDIS_SESSION_TTL", cfg.Redis.TTL)

	cfg.DB.Host = e.getStr("POSTGRES_HOST", cfg.DB.Host)
	cfg.DB.Port = e.getStr("POSTGRES_PORT", cfg.DB.Port)
	cfg.DB.User = e.getStr("POSTGRES_USER", cfg.DB.User)
	cfg.DB.Pass = e.getStr("POSTGRES_PASSWORD", cfg.DB.Pass)
	cfg.DB.Name = e.getStr("POSTGRES_DB", cfg.DB.Name)

	cfg.Kafka.Brokers = splitList(e.getStr("KAFKA_BROKERS", ""))
	cfg.Kafka.Topic = e.getStr("KAFKA_NOTIFY_TOPIC", "")
	cfg.Kafka.GroupID = e.getStr("KAFKA_GROUP_ID", "")

	cfg.Auth.Attempts = e.getInt("AUTH_RATE_LIMIT", cfg.Auth.Attempts)
	cfg.Auth.Window = e.getDuration("AUTH_RATE_WINDOW", cfg.Auth.Window)

	if e.err != nil {
		return nil, e.err
	}

	pflag.IntVarP(&cfg.Port, "port", "p", cfg.Port, "local API port")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	pflag.StringVar(&cfg.Backend.URL, "backend-url", cfg.Backend.URL, "dispatch backend base URL")
	pflag.BoolVar(&cfg.Expiry.Local, "expiry-local", cfg.Expiry.Local, "expire stale pending deliveries client-side")
	pflag.StringVar(&cfg.Session.Backend, "session-backend", cfg.Session.Backend, "session persistence: file or redis")
	if err := pflag.CommandLine.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL: %q", c.Backend.URL)
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("invalid GATEWAY_MAX_ATTEMPTS: %d", c.Gateway.MaxAttempts)
	}
	for name, d := range map[string]time.Duration{
		"BACKEND_TIMEOUT":  c.Backend.Timeout,
		"POLL_INTERVAL":    c.Sync.PollInterval,
		"PUSH_BACKOFF":     c.Sync.PushBackoff,
		"EXPIRY_INTERVAL":  c.Expiry.Interval,
		"EXPIRY_TTL":       c.Expiry.TTL,
		"AUTH_RATE_WINDOW": c.Auth.Window,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}
	if c.Auth.Attempts < 1 {
		return fmt.Errorf("invalid AUTH_RATE_LIMIT: %d", c.Auth.Attempts)
	}
	switch c.Session.Backend {
	case SessionBackendFile:
		if strings.TrimSpace(c.Session.File) == "" {
			return errors.New("SESSION_FILE is required for the file session backend")
		}
	case SessionBackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("REDIS_ADDR is required for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid SESSION_BACKEND: %q", c.Session.Backend)
	}
	if c.DB.Enabled() {
		if _, err := strconv.Atoi(c.DB.Port); err != nil {
			return fmt.Errorf("invalid POSTGRES_PORT: %q", c.DB.Port)
		}
	}
	return nil
}

// envReader reads typed values and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) getStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) getInt(key string, def int) int {
	v := e.getStr(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) getBool(key string, def bool) bool {
	v := e.getStr(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func (e *envReader) getDuration(key string, def time.Duration) time.Duration {
	v := e.getStr(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
