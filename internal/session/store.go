package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"erp-session-core/internal/kv"
	"erp-session-core/internal/model"
)

const (
	TokenKey   = "auth_token"
	UserKey    = "user_data"
	ExpiresKey = "token_expires"

	DefaultTTL = 7 * 24 * time.Hour
)

var ErrCorrupt = errors.New("corrupt session")

var sessionKeys = []string{TokenKey, UserKey, ExpiresKey}

type Options struct {
	Now    func() time.Time
	Logger *zap.Logger
}

// Store persists the session as three keys written in one batch. Expiry is
// enforced when the session is read; nothing sweeps it in the background.
type Store struct {
	mu  sync.Mutex
	kv  kv.Store
	now func() time.Time
	log *zap.Logger
}

func NewStore(store kv.Store, opts Options) *Store {
	s := &Store{kv: store, now: opts.Now, log: opts.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Save replaces any existing session. A ttl <= 0 means DefaultTTL.
func (s *Store) Save(ctx context.Context, token string, user model.UserProfile, ttl time.Duration) (*model.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrCorrupt)
	}
	if err := validateUser(user); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	userData, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}
	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.kv.SetMany(ctx, map[string]string{
		TokenKey:   token,
		UserKey:    string(userData),
		ExpiresKey: strconv.FormatInt(expiresAt.UnixMilli(), 10),
	})
	if err != nil {
		s.log.Error("session write failed", zap.String("user", user.ID), zap.Error(err))
		return nil, err
	}
	return &model.Session{Token: token, User: user, ExpiresAt: time.UnixMilli(expiresAt.UnixMilli())}, nil
}

// Read returns nil for an absent, partial, corrupt or expired session. The
// last three are cleared as a side effect.
func (s *Store) Read(ctx context.Context) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx)
}

func (s *Store) IsAuthenticated(ctx context.Context) bool {
	return s.Read(ctx) != nil
}

func (s *Store) Token(ctx context.Context) string {
	if sess := s.Read(ctx); sess != nil {
		return sess.Token
	}
	return ""
}

// RefreshToken swaps the token and extends expiry, keeping the user. It
// reports false without writing when there is no live session to refresh.
func (s *Store) RefreshToken(ctx context.Context, newToken string, ttl time.Duration) bool {
	if newToken == "" {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readLocked(ctx) == nil {
		return false
	}
	expiresAt := s.now().Add(ttl)
	err := s.kv.SetMany(ctx, map[string]string{
		TokenKey:   newToken,
		ExpiresKey: strconv.FormatInt(expiresAt.UnixMilli(), 10),
	})
	if err != nil {
		s.log.Error("session refresh write failed", zap.Error(err))
		return false
	}
	return true
}

// Clear is idempotent and never fails; storage errors are logged.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(ctx)
}

func (s *Store) readLocked(ctx context.Context) *model.Session {
	raw, err := s.kv.GetMany(ctx, sessionKeys...)
	if err != nil {
		s.log.Warn("session read failed, treating as logged out", zap.Error(err))
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	sess, err := Parse(raw)
	if err != nil {
		s.log.Warn("discarding unreadable session", zap.Error(err))
		s.discard(ctx, raw[TokenKey])
		return nil
	}
	if s.now().UnixMilli() > sess.ExpiresAtMillis() {
		s.log.Info("session expired", zap.String("user", sess.User.ID), zap.Time("expiresAt", sess.ExpiresAt))
		s.discard(ctx, sess.Token)
		return nil
	}
	return &sess
}

// discard clears the session only if the token is still the one that was
// read, so a session saved meanwhile by another Store survives.
func (s *Store) discard(ctx context.Context, token string) {
	deleted, err := s.kv.DeleteIf(ctx, TokenKey, token, sessionKeys...)
	if err != nil {
		s.log.Warn("session clear failed", zap.Error(err))
		return
	}
	if !deleted {
		s.log.Debug("session replaced concurrently, leaving it in place")
	}
}

func (s *Store) clearLocked(ctx context.Context) {
	if err := s.kv.Delete(ctx, sessionKeys...); err != nil {
		s.log.Warn("session clear failed", zap.Error(err))
	}
}

// Parse validates the persisted keys. Any missing key or malformed value
// yields ErrCorrupt; callers treat that as no session.
func Parse(raw map[string]string) (model.Session, error) {
	for _, k := range sessionKeys {
		if _, ok := raw[k]; !ok {
			return model.Session{}, fmt.Errorf("%w: missing %s", ErrCorrupt, k)
		}
	}

	token := raw[TokenKey]
	if token == "" {
		return model.Session{}, fmt.Errorf("%w: empty token", ErrCorrupt)
	}

	var user model.UserProfile
	if err := json.Unmarshal([]byte(raw[UserKey]), &user); err != nil {
		return model.Session{}, fmt.Errorf("%w: user: %v", ErrCorrupt, err)
	}
	if err := validateUser(user); err != nil {
		return model.Session{}, err
	}

	expires, err := strconv.ParseInt(raw[ExpiresKey], 10, 64)
	if err != nil || expires <= 0 {
		return model.Session{}, fmt.Errorf("%w: expiry %q", ErrCorrupt, raw[ExpiresKey])
	}

	return model.Session{Token: token, User: user, ExpiresAt: time.UnixMilli(expires)}, nil
}

func validateUser(user model.UserProfile) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user without id", ErrCorrupt)
	}
	for _, r := range user.Roles {
		if r.ID == "" || r.Name == "" {
			return fmt.Errorf("%w: role without id or name", ErrCorrupt)
		}
	}
	return nil
}
