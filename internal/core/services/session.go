package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/logger"
	"github.com/custodia-labs/mizan/internal/metrics"
)

// Ensure SessionManager implements the interface.
var _ driving.SessionService = (*SessionManager)(nil)

// SessionManager owns session lifetime. Sessions idle for longer than the
// timeout behave as absent and are swept by the reaper.
type SessionManager struct {
	store    driven.SessionStore
	settings domain.SessionSettings
	now      func() time.Time
	newID    func() string
	metrics  *metrics.Metrics
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// WithSessionMetrics records session creations.
func WithSessionMetrics(mx *metrics.Metrics) SessionOption {
	return func(m *SessionManager) { m.metrics = mx }
}

// NewSessionManager creates a session manager over store.
func NewSessionManager(store driven.SessionStore, settings domain.SessionSettings, opts ...SessionOption) *SessionManager {
	if settings.Timeout <= 0 {
		settings.Timeout = domain.DefaultSessionTimeout
	}
	m := &SessionManager{
		store:    store,
		settings: settings,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsExpired reports whether s has been idle past the timeout at now.
func (m *SessionManager) IsExpired(s *domain.Session, now time.Time) bool {
	return s.ExpiredAt(now, m.settings.Timeout)
}

// Create starts a new session.
func (m *SessionManager) Create(ctx context.Context) (*domain.SessionInfo, error) {
	s, err := m.create(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.SessionInfo{SessionID: s.ID, CreatedAt: s.CreatedAt}, nil
}

func (m *SessionManager) create(ctx context.Context) (*domain.Session, error) {
	now := m.now()
	s := &domain.Session{ID: m.newID(), CreatedAt: now, LastActivity: now}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.metrics.SessionCreated()
	logger.Debug("session: created %s", s.ID)
	return s, nil
}

// Get returns a live session. Expired sessions yield domain.ErrNotFound.
func (m *SessionManager) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsExpired(s, m.now()) {
		return nil, fmt.Errorf("session %s: %w: %w", id, domain.ErrSessionExpired, domain.ErrNotFound)
	}
	return s, nil
}

// GetOrCreate resolves id to a live session, touching it. An empty,
// unknown or expired id yields a brand new session and created is true.
func (m *SessionManager) GetOrCreate(ctx context.Context, id string) (s *domain.Session, created bool, err error) {
	if id != "" {
		s, err = m.Touch(ctx, id)
		switch {
		case err == nil:
			return s, false, nil
		case errors.Is(err, domain.ErrSessionExpired):
			if derr := m.store.Delete(ctx, id); derr != nil {
				logger.Warn("session: deleting expired %s: %v", id, derr)
			}
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, err
		}
		logger.Debug("session: %s unavailable, starting a new one", id)
	}
	s, err = m.create(ctx)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Touch marks activity on a live session and returns it.
func (m *SessionManager) Touch(ctx context.Context, id string) (*domain.Session, error) {
	var out *domain.Session
	err := m.store.Update(ctx, id, func(s *domain.Session) error {
		now := m.now()
		if m.IsExpired(s, now) {
			return domain.ErrSessionExpired
		}
		s.LastActivity = now
		out = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendHistory records an answered query, keeping at most MaxHistory
// exchanges.
func (m *SessionManager) AppendHistory(ctx context.Context, id string, ex domain.Exchange) error {
	return m.store.Update(ctx, id, func(s *domain.Session) error {
		now := m.now()
		if ex.At.IsZero() {
			ex.At = now
		}
		s.Append(ex, m.settings.MaxHistory)
		s.LastActivity = now
		return nil
	})
}

// Sweep removes every session idle past the timeout.
func (m *SessionManager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, m.now().Add(-m.settings.Timeout))
}

// StartReaper sweeps expired sessions every SweepInterval until ctx ends.
// The returned channel closes when the reaper has stopped.
func (m *SessionManager) StartReaper(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	interval := m.settings.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.Sweep(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logger.Warn("session: sweep failed: %v", err)
					}
					continue
				}
				if n > 0 {
					logger.Debug("session: swept %d expired", n)
				}
			}
		}
	}()
	return done
}
