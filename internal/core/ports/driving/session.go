package driving

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// SessionService exposes explicit session management.
type SessionService interface {
	// Create starts a new session.
	Create(ctx context.Context) (*domain.SessionInfo, error)

	// Get returns a live session. Expired sessions yield domain.ErrNotFound.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}
