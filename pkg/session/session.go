// Package session manages the server-side session records that bind signed
// token pairs to revocable state.
//
// Tokens alone are bearer credentials; the session row is what makes them
// revocable. Every login or refresh produces one session owning exactly one
// (access token, refresh token) pair, and the Manager consults the session
// store on every validation so that revocation takes effect immediately
// rather than at token expiry.
package session

import (
	"errors"
	"time"
)

// Store-level sentinel errors. Backends return these untranslated; the
// Manager maps them onto the structured error surface.
var (
	// ErrNotFound is returned when no session matches the lookup key.
	ErrNotFound = errors.New("session not found")

	// ErrRotationConflict is returned by RotateRefresh when the old
	// session was already deactivated, meaning another refresh won the
	// race for the same refresh token.
	ErrRotationConflict = errors.New("session already rotated")
)

// Session is one authenticated session row. A session is owned by exactly
// one user and references exactly one access/refresh token pair; rotation
// creates a new row rather than mutating token values in place.
type Session struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	AccessToken    string    `json:"-" db:"access_token"`
	RefreshToken   string    `json:"-" db:"refresh_token"`
	UserAgent      string    `json:"user_agent,omitempty" db:"user_agent"`
	IPAddress      string    `json:"ip_address,omitempty" db:"ip_address"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at" db:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Valid reports whether the session may still authenticate requests.
func (s *Session) Valid() bool {
	return s != nil && s.IsActive && time.Now().Before(s.ExpiresAt)
}

// Summary is the client-facing projection of a session, returned alongside
// token pairs in login and refresh responses.
type Summary struct {
	ID             string    `json:"id"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Summary returns the client-facing projection of the session.
func (s *Session) Summary() Summary {
	return Summary{
		ID:             s.ID,
		ExpiresAt:      s.ExpiresAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

// ClientContext carries request-level metadata recorded on the session for
// audit purposes. All fields are optional.
type ClientContext struct {
	UserAgent string
	IPAddress string
}
