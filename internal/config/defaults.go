package config

import "time"

const (
	defaultPort       = 8080
	defaultLogLevel   = "info"
	defaultBackendURL = "http://localhost:8000"
)

var defaultBackend = Backend{
	URL:     defaultBackendURL,
	Timeout: 10 * time.Second,
}

var defaultGateway = Gateway{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    time.Second,
}

var defaultSync = Sync{
	PollInterval: 5 * time.Second,
	PushBackoff:  3 * time.Second,
}

var defaultExpiry = Expiry{
	Local:    false,
	Interval: 10 * time.Second,
	TTL:      15 * time.Minute,
}

var defaultSession = Session{
	Backend: SessionBackendFile,
	File:    ".telego/session.json",
}

var defaultRedis = Redis{
	Addr: "localhost:6379",
	DB:   0,
	TTL:  24 * time.Hour,
}

var defaultDB = DB{
	Port: "5432",
	User: "telego",
	Pass: "telego",
	Name: "telego",
}

var defaultAuthLimit = AuthLimit{
	Attempts: 5,
	Window:   time.Minute,
}

// DefaultPort returns the default local API port.
func DefaultPort() int { return defaultPort }

// DefaultBackend returns the default backend settings.
func DefaultBackend() Backend { return defaultBackend }

// DefaultGateway returns the default retry settings for snapshot reads.
func DefaultGateway() Gateway { return defaultGateway }

// DefaultSync returns the default poll and push settings.
func DefaultSync() Sync { return defaultSync }

// DefaultExpiry returns the default expiry monitor settings.
func DefaultExpiry() Expiry { return defaultExpiry }

// DefaultSession returns the default session persistence settings.
func DefaultSession() Session { return defaultSession }

// DefaultRedis returns the default redis settings.
func DefaultRedis() Redis { return defaultRedis }

// DefaultDB returns the default history database settings. Host is empty,
// which keeps the archive disabled.
func DefaultDB() DB { return defaultDB }

// DefaultAuthLimit returns the default login throttle.
func DefaultAuthLimit() AuthLimit { return defaultAuthLimit }
