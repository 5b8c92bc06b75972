package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AnandSundar/go-storefront/store"
)

// Role is the account role reported by the backend at login
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Session is the authenticated user as seen by the client. The zero value is
// the anonymous session.
type Session struct {
	AccessToken string
	DisplayName string
	Role        Role
	// ExpiresAt is read from the token's exp claim when it is a JWT
	ExpiresAt time.Time
}

// Authenticated reports whether the session holds an unexpired token
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && !s.Expired(time.Now())
}

// Expired reports whether the token expired before now
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SessionState is the single process-wide session. It is written only by
// Login, Logout and Hydrate and read by the role gate and the REST client.
type SessionState struct {
	store SessionStore
	log   *slog.Logger

	mu       sync.RWMutex
	current  Session
	watchers map[int]func(Session)
	nextID   int
}

// NewSessionState creates an empty session persisted through st. A nil store
// keeps the session in memory.
func NewSessionState(st SessionStore, opts ...Option) *SessionState {
	config := newConfig(opts)
	if st == nil {
		st = store.NewMemoryStore(0)
	}
	return &SessionState{
		store:    st,
		log:      config.Logger.With(slog.String("component", "session")),
		watchers: make(map[int]func(Session)),
	}
}

// Current returns the current session
func (s *SessionState) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the access token for outbound requests
func (s *SessionState) Token() string {
	return s.Current().AccessToken
}

// Login persists sess and then publishes it
func (s *SessionState) Login(ctx context.Context, sess Session) error {
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = tokenExpiry(sess.AccessToken)
	}

	values := map[string]string{
		SessionKeyAccessToken: sess.AccessToken,
		SessionKeyFirstName:   sess.DisplayName,
		SessionKeyRole:        string(sess.Role),
	}
	if err := s.store.Save(ctx, values); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.set(sess)
	s.log.Info("logged in", slog.String("role", string(sess.Role)))
	return nil
}

// Logout clears the persisted session and publishes the anonymous one
func (s *SessionState) Logout(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.set(Session{})
	s.log.Info("logged out")
	return nil
}

// Hydrate loads a previously persisted session. An empty store or an expired
// token leaves the anonymous session in place.
func (s *SessionState) Hydrate(ctx context.Context) error {
	values, err := s.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.set(Session{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	sess := Session{
		AccessToken: values[SessionKeyAccessToken],
		DisplayName: values[SessionKeyFirstName],
		Role:        Role(values[SessionKeyRole]),
	}
	sess.ExpiresAt = tokenExpiry(sess.AccessToken)
	if sess.Expired(time.Now()) {
		s.log.Info("stored session expired")
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		sess = Session{}
	}

	s.set(sess)
	return nil
}

// Watch calls fn after every session change. The returned func stops it.
func (s *SessionState) Watch(fn func(Session)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *SessionState) set(sess Session) {
	s.mu.Lock()
	s.current = sess
	watchers := make([]func(Session), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(sess)
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend remains the one that verifies tokens.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
