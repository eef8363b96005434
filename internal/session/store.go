// Package session holds the authenticated identity and credential of the
// client, backed by persisted storage that survives restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parkwise/internal/events"
	"parkwise/internal/models"
)

// Fixed storage keys.
const (
	KeyUser  = "user"
	KeyToken = "token"
)

var ErrMissingToken = errors.New("session: token is required")

// Storage persists string values by key. Set and Delete must apply all of
// their keys or none of them.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the process-wide session. It is created once and passed to the
// components that need it.
type Store struct {
	storage Storage
	bus     *events.EventBus
	logger  zerolog.Logger

	mu    sync.RWMutex
	user  *models.User
	token string
}

func NewStore(storage Storage, bus *events.EventBus, logger zerolog.Logger) *Store {
	return &Store{
		storage: storage,
		bus:     bus,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Init rehydrates the in-memory state from persisted storage.
func (s *Store) Init(ctx context.Context) error {
	user, token, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("session init: %w", err)
	}
	s.mu.Lock()
	s.user, s.token = user, token
	s.mu.Unlock()

	if user != nil {
		s.logger.Debug().Int64("user_id", user.UserID).Msg("session restored")
	}
	return nil
}

// Login persists and installs user and token together. On a storage error the
// in-memory state is left untouched.
func (s *Store) Login(ctx context.Context, user models.User, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.storage.Set(ctx, map[string]string{KeyUser: string(data), KeyToken: token}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.user, s.token = &user, token
	s.mu.Unlock()

	s.logger.Info().Int64("user_id", user.UserID).Str("role", string(user.Role)).Msg("logged in")
	s.notify(&user)
	return nil
}

// Logout clears persisted and in-memory state.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.storage.Delete(ctx, KeyUser, KeyToken); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.mu.Lock()
	s.user, s.token = nil, ""
	s.mu.Unlock()

	s.logger.Info().Msg("logged out")
	s.notify(nil)
	return nil
}

// User returns a copy of the in-memory profile, or nil when logged out.
func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token returns the in-memory bearer token.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a token is persisted.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	token, ok, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read persisted token")
		return false
	}
	return ok && token != ""
}

// IsAdmin checks the persisted profile, not the in-memory one, so it is
// correct before Init has run.
func (s *Store) IsAdmin(ctx context.Context) bool {
	user, err := s.persistedUser(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read persisted user")
		return false
	}
	return user.IsAdmin()
}

// Subscribe registers fn to be called with the new user (nil on logout)
// whenever the session changes.
func (s *Store) Subscribe(fn func(user *models.User)) {
	if s.bus == nil {
		return
	}
	s.bus.Subscribe(events.SessionChanged, func(e events.Event) error {
		user, _ := e.Payload.(*models.User)
		fn(user)
		return nil
	})
}

// Sync re-reads persisted storage and adopts it when it differs from memory,
// e.g. after another process logged in or out.
func (s *Store) Sync(ctx context.Context) (bool, error) {
	user, token, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	changed := token != s.token || !sameUser(user, s.user)
	if changed {
		s.user, s.token = user, token
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info().Bool("authenticated", token != "").Msg("session changed externally")
		s.notify(user)
	}
	return changed, nil
}

// Watch calls Sync every interval until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("session sync failed")
			}
		}
	}
}

func (s *Store) load(ctx context.Context) (*models.User, string, error) {
	token, _, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		return nil, "", err
	}
	user, err := s.persistedUser(ctx)
	if err != nil {
		return nil, "", err
	}
	// A half-written pair is treated as logged out.
	if user == nil || token == "" {
		return nil, "", nil
	}
	return user, token, nil
}

func (s *Store) persistedUser(ctx context.Context) (*models.User, error) {
	raw, ok, err := s.storage.Get(ctx, KeyUser)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" || raw == "null" {
		return nil, nil
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable persisted user")
		return nil, nil
	}
	return &user, nil
}

func (s *Store) notify(user *models.User) {
	if err := s.bus.Publish(events.SessionChanged, user); err != nil {
		s.logger.Warn().Err(err).Msg("session subscriber failed")
	}
}

func sameUser(a, b *models.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
