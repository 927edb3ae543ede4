// Package store holds the dev backend's accounts and revoked tokens in memory.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"erp-session-core/internal/model"
)

var (
	ErrAccountExists  = errors.New("account already exists")
	ErrMissingEmail   = errors.New("missing email")
	ErrMissingProfile = errors.New("missing profile name")
)

type Store struct {
	mu sync.RWMutex

	accountsByEmail map[string]model.Account
	emailByUserID   map[string]string

	// token id -> expiry in unix millis
	revoked map[string]int64

	hashCost int
}

type Options struct {
	HashCost int
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	cost := opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Store{
		accountsByEmail: make(map[string]model.Account),
		emailByUserID:   make(map[string]string),
		revoked:         make(map[string]int64),
		hashCost:        cost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) AddAccount(email, password string, profile model.UserProfile, nowMillis int64) (model.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return model.Account{}, ErrMissingEmail
	}
	if profile.Name == "" {
		return model.Account{}, ErrMissingProfile
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return model.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountsByEmail[email]; ok {
		return model.Account{}, ErrAccountExists
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.Email = email
	acc := model.Account{
		Email:        email,
		PasswordHash: hash,
		Profile:      profile,
		CreatedAt:    nowMillis,
	}
	s.accountsByEmail[email] = acc
	s.emailByUserID[profile.ID] = email
	return acc, nil
}

func (s *Store) Authenticate(email, password string) (model.Account, bool) {
	s.mu.RLock()
	acc, ok := s.accountsByEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return model.Account{}, false
	}
	if bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)) != nil {
		return model.Account{}, false
	}
	return acc, true
}

func (s *Store) GetAccount(userID string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emailByUserID[userID]
	if !ok {
		return model.Account{}, false
	}
	acc, ok := s.accountsByEmail[email]
	return acc, ok
}

func (s *Store) ListAccounts() []model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Account, 0, len(s.accountsByEmail))
	for _, acc := range s.accountsByEmail {
		result = append(result, acc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result
}

// Revoke remembers tokenID until its expiry passes.
func (s *Store) Revoke(tokenID string, expiresAtMillis int64) {
	if tokenID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = expiresAtMillis
}

func (s *Store) IsRevoked(tokenID string, nowMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, exp := range s.revoked {
		if exp < nowMillis {
			delete(s.revoked, id)
		}
	}
	_, ok := s.revoked[tokenID]
	return ok
}
