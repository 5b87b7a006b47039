package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// SessionStore persists sessions.
//
// Mutations of one session are serialised; different sessions never
// contend with each other.
type SessionStore interface {
	// Get returns a copy of the session or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Create stores a new session. Creating an ID that already exists
	// keeps the stored session, so concurrent creators agree on one.
	Create(ctx context.Context, s *domain.Session) error

	// Update applies fn to the stored session under that session's lock
	// and persists the result. Returns domain.ErrNotFound if absent.
	Update(ctx context.Context, id string, fn func(*domain.Session) error) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// Sweep removes sessions idle since before cutoff and returns how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
