package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// HashRefreshToken is the at-rest form of a refresh token. Stores key
// sessions by it so a leaked table or heap dump holds no usable tokens.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type storedSession struct {
	userID    string
	expiresAt time.Time
}

// InMemorySessionStore implements SessionStore for tests and local development.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]storedSession
}

// NewInMemorySessionStore returns a SessionStore backed by an in-memory map.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]storedSession)}
}

func (s *InMemorySessionStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[HashRefreshToken(session.RefreshToken)] = storedSession{userID: session.UserID, expiresAt: session.ExpiresAt}
	return nil
}

func (s *InMemorySessionStore) Find(_ context.Context, refreshToken string) (Session, error) {
	s.mu.RLock()
	stored, ok := s.sessions[HashRefreshToken(refreshToken)]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return Session{RefreshToken: refreshToken, UserID: stored.userID, ExpiresAt: stored.expiresAt}, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, refreshToken string) error {
	key := HashRefreshToken(refreshToken)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, key)
	return nil
}

// PruneExpired drops sessions whose expiry is at or before now and reports
// how many were removed.
func (s *InMemorySessionStore) PruneExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, stored := range s.sessions {
		if !now.Before(stored.expiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// Has reports whether a refresh token is live in the store.
func (s *InMemorySessionStore) Has(refreshToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[HashRefreshToken(refreshToken)]
	return ok
}
