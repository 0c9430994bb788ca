package session

import (
	"context"
	"time"
)

// Store is the persistence boundary for session rows. Implementations are
// provided for PostgreSQL, Redis, and process memory; all of them must
// honor the same contract:
//
//   - Lookup methods return ErrNotFound when no row matches.
//   - RotateRefresh deactivates the old session and inserts the new one
//     as a single atomic unit. When the old session is already inactive
//     it returns ErrRotationConflict without inserting anything, so that
//     of two concurrent rotations of the same session exactly one
//     succeeds.
//   - All methods respect ctx cancellation and deadlines.
type Store interface {
	// Create persists a new session row.
	Create(ctx context.Context, s *Session) error

	// GetByAccessToken returns the session bound to the given access
	// token string.
	GetByAccessToken(ctx context.Context, accessToken string) (*Session, error)

	// GetByRefreshToken returns the session bound to the given refresh
	// token string.
	GetByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)

	// TouchLastAccessed updates the session's last-accessed timestamp.
	TouchLastAccessed(ctx context.Context, sessionID string, at time.Time) error

	// Deactivate marks the session inactive. Deactivating an already
	// inactive session is a no-op, not an error.
	Deactivate(ctx context.Context, sessionID string) error

	// DeactivateAllForUser marks every active session owned by userID as
	// inactive, skipping excludeSessionID when non-empty. Returns the
	// number of sessions deactivated.
	DeactivateAllForUser(ctx context.Context, userID, excludeSessionID string) (int64, error)

	// RotateRefresh atomically deactivates the session identified by
	// oldSessionID and inserts next.
	RotateRefresh(ctx context.Context, oldSessionID string, next *Session) error

	// DeleteExpired removes sessions whose expiry has passed, whether
	// still active or already revoked. Returns the number of rows
	// removed. Safe to run concurrently with itself and with validation.
	DeleteExpired(ctx context.Context) (int64, error)
}
