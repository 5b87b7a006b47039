package domain

import "time"

// DefaultSessionTimeout is the inactivity window after which a session
// behaves as absent.
const DefaultSessionTimeout = 30 * time.Minute

// Session is a bounded-lifetime conversation keyed by an opaque token.
type Session struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
	History      []Exchange `json:"history,omitempty"`
}

// Exchange is one answered query within a session.
type Exchange struct {
	Query    string    `json:"query"`
	Answer   string    `json:"answer"`
	Category Category  `json:"category"`
	At       time.Time `json:"at"`
}

// ExpiredAt reports whether the session has been idle for longer than timeout at now.
func (s *Session) ExpiredAt(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

// Append adds an exchange, dropping the oldest ones beyond limit.
// A limit of zero keeps everything.
func (s *Session) Append(ex Exchange, limit int) {
	s.History = append(s.History, ex)
	if limit > 0 && len(s.History) > limit {
		s.History = append([]Exchange(nil), s.History[len(s.History)-limit:]...)
	}
}

// Clone returns a deep copy safe to hand outside a store lock.
func (s *Session) Clone() *Session {
	c := *s
	c.History = append([]Exchange(nil), s.History...)
	return &c
}

// SessionInfo is returned by explicit session creation.
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}
