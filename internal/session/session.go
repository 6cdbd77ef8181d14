// Package session holds the session authority's in-memory browser sessions.
// Sessions never leave this process except through derived, time-boxed
// service tokens.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// ProviderTokens is one linked OAuth provider's credentials within a session.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Session is one signed-in browser. Instances handed out by the Store are
// copies; updates go through Replace so concurrent readers never observe a
// partially mutated session.
type Session struct {
	ID        string
	Email     string
	UserID    string
	Providers map[string]ProviderTokens
	IssuedAt  time.Time
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Providers = make(map[string]ProviderTokens, len(s.Providers))
	for k, v := range s.Providers {
		cp.Providers[k] = v
	}
	return &cp
}

// Store is the authority's session table plus the set of identities flagged
// for forced sign-out (picked up by the client-side poll).
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	signedOut map[string]struct{}
	now       func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		byID:      make(map[string]*Session),
		signedOut: make(map[string]struct{}),
		now:       time.Now,
	}
}

// Create opens a session for the given user and returns it with a fresh
// random id. The provider map is copied in, so the caller's map stays its
// own.
func (s *Store) Create(email, userID string, providers map[string]ProviderTokens) *Session {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)

	provs := make(map[string]ProviderTokens, len(providers))
	for k, v := range providers {
		provs[k] = v
	}

	sess := &Session{
		ID:        hex.EncodeToString(buf),
		Email:     email,
		UserID:    userID,
		Providers: provs,
		IssuedAt:  s.now(),
	}

	s.mu.Lock()
	s.byID[sess.ID] = sess
	delete(s.signedOut, email)
	s.mu.Unlock()

	return sess.clone()
}

// Get returns a copy of the session, or nil if it does not exist.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].clone()
}

// Replace swaps the stored session wholesale. Used after token refresh.
func (s *Store) Replace(sess *Session) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sess.ID]; ok {
		s.byID[sess.ID] = sess.clone()
	}
}

// Delete removes the session by id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// DeleteByEmail removes every session for the given email and flags the
// identity for forced sign-out. Removal is keyed by email because at account
// deletion time a stable user id may no longer exist.
func (s *Store) DeleteByEmail(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.byID {
		if sess.Email == email {
			delete(s.byID, id)
			removed++
		}
	}
	s.signedOut[email] = struct{}{}
	return removed
}

// IsSignedOut reports whether the identity has been flagged for forced
// sign-out.
func (s *Store) IsSignedOut(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.signedOut[email]
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
