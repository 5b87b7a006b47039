package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure SessionStore implements the interface.
var _ driven.SessionStore = (*SessionStore)(nil)

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.Session
	deleted bool
}

// SessionStore keeps sessions in memory. Each session has its own lock so
// updates to different sessions never wait on each other. Lock order is
// always store then entry.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*sessionEntry)}
}

func (s *SessionStore) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// Get returns a copy of the session.
func (s *SessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e.session.Clone(), nil
}

// Create stores a new session unless one with the same ID exists.
func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return nil
	}
	s.sessions[session.ID] = &sessionEntry{session: session.Clone()}
	return nil
}

// Update applies fn to a copy of the session and stores the result only if
// fn succeeds.
func (s *SessionStore) Update(_ context.Context, id string, fn func(*domain.Session) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	next := e.session.Clone()
	if err := fn(next); err != nil {
		return err
	}
	e.session = next
	return nil
}

// Delete removes a session.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
		delete(s.sessions, id)
	}
	return nil
}

// Sweep removes sessions idle since before cutoff.
func (s *SessionStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.sessions {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e.mu.Lock()
		if e.session.LastActivity.Before(cutoff) {
			e.deleted = true
			delete(s.sessions, id)
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
