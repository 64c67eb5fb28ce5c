// Package session signs users in against the backend and keeps the
// resulting session across restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/gateway/backend"
	"telego/internal/logx"
)

// Backend is the part of the gateway the manager needs.
type Backend interface {
	Register(ctx context.Context, in backend.RegisterInput) (backend.AuthResult, error)
	Login(ctx context.Context, email, password string) (backend.AuthResult, error)
	Me(ctx context.Context, token string) (backend.Profile, error)
}

type clientBackend struct {
	c *backend.Client
}

// NewBackend adapts a gateway client.
func NewBackend(c *backend.Client) Backend {
	return clientBackend{c: c}
}

func (b clientBackend) Register(ctx context.Context, in backend.RegisterInput) (backend.AuthResult, error) {
	return b.c.Register(ctx, in)
}

func (b clientBackend) Login(ctx context.Context, email, password string) (backend.AuthResult, error) {
	return b.c.Login(ctx, email, password)
}

func (b clientBackend) Me(ctx context.Context, token string) (backend.Profile, error) {
	return b.c.WithToken(token).Me(ctx)
}

// Manager turns credentials into a persisted domain.Session.
type Manager struct {
	api       Backend
	persister Persister
	logger    logx.Logger
	now       func() time.Time
}

// NewManager builds a Manager.
func NewManager(api Backend, persister Persister, logger logx.Logger) *Manager {
	return &Manager{
		api:       api,
		persister: persister,
		logger:    logger.With(logx.String("component", "session")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates with email and password.
func (m *Manager) Login(ctx context.Context, email, password string) (domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Session{}, fmt.Errorf("%w: email and password are required", apperr.ErrInvalid)
	}
	res, err := m.api.Login(ctx, email, password)
	if err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	return m.establish(ctx, res)
}

// Register creates an account and signs it in.
func (m *Manager) Register(ctx context.Context, in backend.RegisterInput) (domain.Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	switch {
	case in.Name == "":
		return domain.Session{}, fmt.Errorf("%w: name is required", apperr.ErrInvalid)
	case !validEmail(in.Email):
		return domain.Session{}, fmt.Errorf("%w: email is invalid", apperr.ErrInvalid)
	case len(in.Password) < 6:
		return domain.Session{}, fmt.Errorf("%w: password must have at least 6 characters", apperr.ErrInvalid)
	case !in.Role.Valid() || in.Role == domain.RoleUnselected:
		return domain.Session{}, fmt.Errorf("%w: role must be RESTAURANT or COURIER", apperr.ErrInvalid)
	}
	res, err := m.api.Register(ctx, in)
	if err != nil {
		return domain.Session{}, fmt.Errorf("register: %w", err)
	}
	return m.establish(ctx, res)
}

// Restore loads the persisted session. Expired sessions are cleared and
// reported as apperr.ErrNoSession.
func (m *Manager) Restore(ctx context.Context) (domain.Session, error) {
	s, err := m.persister.Load(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Token == "" || s.Expired(m.now()) {
		m.logger.Info("persisted session expired", logx.String("user_id", s.User.ID))
		if err := m.persister.Clear(ctx); err != nil {
			m.logger.Warn("clear expired session failed", logx.Err(err))
		}
		return domain.Session{}, apperr.ErrNoSession
	}
	return s, nil
}

// Forget drops the persisted session.
func (m *Manager) Forget(ctx context.Context) error {
	return m.persister.Clear(ctx)
}

func (m *Manager) establish(ctx context.Context, res backend.AuthResult) (domain.Session, error) {
	if res.Token == "" {
		return domain.Session{}, fmt.Errorf("%w: backend returned no token", apperr.ErrUnauthorized)
	}
	profile, err := m.api.Me(ctx, res.Token)
	if err != nil {
		return domain.Session{}, fmt.Errorf("resolve profile: %w", err)
	}
	user := profile.User
	if user.ID == "" {
		user = res.User
	}
	if user.Role == domain.RoleUnselected {
		user.Role = res.User.Role
	}
	s := domain.Session{
		User:      user,
		Token:     res.Token,
		ProfileID: profile.ProfileID,
		Epoch:     uuid.NewString(),
		ExpiresAt: TokenExpiry(res.Token),
	}
	if err := m.persister.Save(ctx, s); err != nil {
		// the session is usable without persistence
		m.logger.Warn("persist session failed", logx.Err(err))
	}
	m.logger.Info("session established",
		logx.String("user_id", s.User.ID),
		logx.String("role", string(s.User.Role)),
		logx.String("profile_id", s.ProfileID),
	)
	return s, nil
}

// TokenExpiry reads the exp claim without verifying the signature; the
// backend verifies. Opaque or exp-less tokens return the zero time.
func TokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.UTC()
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// IsMissing reports whether err means nothing is persisted.
func IsMissing(err error) bool { return errors.Is(err, apperr.ErrNoSession) }
