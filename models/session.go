package models

import "time"

// Session is one bot conversation state blob, keyed by an opaque session
// key. The bot adapter treats this as a simple read/write/delete store
// with an optional TTL; expired sessions are invisible to reads.
type Session struct {
	Entity

	Key    string `json:"key"`
	UserID int64  `json:"user_id"`

	// Data is the serialized conversation state as produced by the bot
	// layer. The persistence layer never inspects it.
	Data string `json:"data"`

	// ExpiresAt is the optional TTL boundary; nil means the session never
	// expires on its own.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the session has passed its TTL at the given
// moment. Sessions without an ExpiresAt never expire.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
