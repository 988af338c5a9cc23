// Package localauth implements the auth collaborator with HS256 session
// tokens. The active session lives in-process; the token is re-validated on
// every CurrentUser call so expiry is observed immediately.
package localauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/platform/id"
)

const defaultSessionTTL = 24 * time.Hour

// Config holds auth service configuration.
type Config struct {
	// Secret signs session tokens. Required.
	Secret []byte
	// SessionTTL bounds session lifetime. Defaults to 24h.
	SessionTTL time.Duration
}

// Service issues and validates local sessions.
type Service struct {
	store  backend.DataStore
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
	newID  func() (string, error)

	mu           sync.Mutex
	token        string
	listeners    map[int]func(*backend.UserRecord)
	nextListener int
}

// New creates the auth service.
func New(store backend.DataStore, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("data store is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		store:     store,
		secret:    cfg.Secret,
		ttl:       ttl,
		clock:     time.Now,
		newID:     id.NewID,
		listeners: make(map[int]func(*backend.UserRecord)),
	}, nil
}

// Register creates the user record and signs the new user in.
func (s *Service) Register(ctx context.Context, name string) (backend.UserRecord, error) {
	if s == nil || s.store == nil {
		return backend.UserRecord{}, errors.New("auth service is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return backend.UserRecord{}, errors.New("name is required")
	}

	userID, err := s.newID()
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("generate user id: %w", err)
	}
	record := backend.UserRecord{
		ID:        userID,
		Name:      name,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.PutUser(ctx, record); err != nil {
		return backend.UserRecord{}, fmt.Errorf("create user: %w", err)
	}
	return s.SignIn(ctx, userID)
}

// SignIn starts a session for an existing user.
func (s *Service) SignIn(ctx context.Context, userID string) (backend.UserRecord, error) {
	if s == nil || s.store == nil {
		return backend.UserRecord{}, errors.New("auth service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return backend.UserRecord{}, errors.New("user id is required")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("load user: %w", err)
	}

	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("sign session token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.notifyListeners(&user)
	return user, nil
}

// SignOut ends the active session. Signing out without a session is harmless.
func (s *Service) SignOut(ctx context.Context) error {
	if s == nil {
		return errors.New("auth service is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	hadSession := s.token != ""
	s.token = ""
	s.mu.Unlock()
	if hadSession {
		s.notifyListeners(nil)
	}
	return nil
}

// CurrentUser validates the session token and returns the signed-in user.
func (s *Service) CurrentUser(ctx context.Context) (backend.UserRecord, error) {
	if s == nil || s.store == nil {
		return backend.UserRecord{}, errors.New("auth service is not configured")
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return backend.UserRecord{}, backend.ErrNoSession
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return backend.UserRecord{}, backend.ErrSessionExpired
		}
		return backend.UserRecord{}, fmt.Errorf("validate session token: %w", err)
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return backend.UserRecord{}, backend.ErrNoSession
		}
		return backend.UserRecord{}, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

// OnAuthStateChange registers fn for session transitions. Sign-out is
// delivered as a nil user.
func (s *Service) OnAuthStateChange(fn func(user *backend.UserRecord)) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.mu.Lock()
	key := s.nextListener
	s.nextListener++
	s.listeners[key] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, key)
		s.mu.Unlock()
	}
}

func (s *Service) notifyListeners(user *backend.UserRecord) {
	s.mu.Lock()
	fns := make([]func(*backend.UserRecord), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(user)
	}
}
