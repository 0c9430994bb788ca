// Package postgresstore implements the session store on PostgreSQL using
// pgx connection pooling.
//
// Refresh rotation relies on row-level locking: the old session's active
// flag is flipped by a guarded UPDATE inside a transaction, so of two
// concurrent rotations of the same session exactly one commits. The store
// is safe for concurrent use across goroutines and across processes
// sharing the same database.
//
// For testing, use [NewFromPool] to inject a mock pool:
//
//	mock, _ := pgxmock.NewPool()
//	store := postgresstore.NewFromPool(mock)
package postgresstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/session"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/luminasoft/lumina-auth/pkg/session/postgresstore"

// Schema creates the session table and its supporting indexes. Apply it
// through whatever migration mechanism the deployment uses; [Store.Migrate]
// runs it directly for development and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
    id               UUID PRIMARY KEY,
    user_id          TEXT NOT NULL,
    access_token     TEXT NOT NULL UNIQUE,
    refresh_token    TEXT NOT NULL UNIQUE,
    user_agent       TEXT NOT NULL DEFAULT '',
    ip_address       TEXT NOT NULL DEFAULT '',
    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at       TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auth_sessions_user_active
    ON auth_sessions (user_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires
    ON auth_sessions (expires_at) WHERE is_active;
`

const sessionColumns = `id, user_id, access_token, refresh_token, user_agent,
	ip_address, is_active, expires_at, last_accessed_at, created_at, updated_at`

// Pool is the subset of [*pgxpool.Pool] the store needs. It is satisfied
// by pgxmock for unit testing.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ Pool = (*pgxpool.Pool)(nil)

// Store is a PostgreSQL-backed session store.
type Store struct {
	pool   Pool
	tracer trace.Tracer
}

var _ session.Store = (*Store)(nil)

// New connects a session store to PostgreSQL using the given connection
// string and verifies connectivity with a ping. The caller owns the
// returned pool's lifecycle through [Store.Close].
func New(ctx context.Context, connString string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeValidation,
			"postgresstore: failed to parse connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal,
			"postgresstore: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, luerr.Wrap(err, luerr.CodeInternal,
			"postgresstore: failed to connect to database")
	}
	return &Store{pool: pool, tracer: otel.Tracer(tracerName)}, nil
}

// NewFromPool creates a Store with a pre-existing [Pool]. Intended for
// tests injecting pgxmock.
func NewFromPool(pool Pool) *Store {
	return &Store{pool: pool, tracer: otel.Tracer(tracerName)}
}

// Close releases the underlying pool when the store owns one.
func (s *Store) Close() {
	if p, ok := s.pool.(*pgxpool.Pool); ok {
		p.Close()
	}
}

// Migrate applies the session schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return luerr.Wrap(err, luerr.CodeSessionStore, "postgresstore: schema migration failed")
	}
	return nil
}

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	ctx, span := s.startSpan(ctx, "Create")
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken,
		sess.UserAgent, sess.IPAddress, sess.IsActive, sess.ExpiresAt,
		sess.LastAccessedAt, sess.CreatedAt, sess.UpdatedAt,
	)
	return s.finish(span, err)
}

func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*session.Session, error) {
	ctx, span := s.startSpan(ctx, "GetByAccessToken")
	defer span.End()
	return s.getByColumn(ctx, span, "access_token", accessToken)
}

func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*session.Session, error) {
	ctx, span := s.startSpan(ctx, "GetByRefreshToken")
	defer span.End()
	return s.getByColumn(ctx, span, "refresh_token", refreshToken)
}

func (s *Store) getByColumn(ctx context.Context, span trace.Span, column, value string) (*session.Session, error) {
	var sess session.Session
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM auth_sessions WHERE `+column+` = $1`, value)
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken,
		&sess.UserAgent, &sess.IPAddress, &sess.IsActive, &sess.ExpiresAt,
		&sess.LastAccessedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		finishSpan(span, session.ErrNotFound)
		return nil, session.ErrNotFound
	}
	if err := s.finish(span, err); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) TouchLastAccessed(ctx context.Context, sessionID string, at time.Time) error {
	ctx, span := s.startSpan(ctx, "TouchLastAccessed")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_sessions
		SET last_accessed_at = $2, updated_at = $2
		WHERE id = $1`,
		sessionID, at,
	)
	if err == nil && tag.RowsAffected() == 0 {
		err = session.ErrNotFound
	}
	return s.finish(span, err)
}

func (s *Store) Deactivate(ctx context.Context, sessionID string) error {
	ctx, span := s.startSpan(ctx, "Deactivate",
		attribute.String("session.id", sessionID))
	defer span.End()

	// No is_active guard: deactivating an inactive session is a no-op.
	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_sessions
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1`,
		sessionID,
	)
	if err == nil && tag.RowsAffected() == 0 {
		err = session.ErrNotFound
	}
	return s.finish(span, err)
}

func (s *Store) DeactivateAllForUser(ctx context.Context, userID, excludeSessionID string) (int64, error) {
	ctx, span := s.startSpan(ctx, "DeactivateAllForUser",
		attribute.String("user.id", userID))
	defer span.End()

	// The exclusion compares as text: casting an empty $2 to uuid would
	// fail at plan time even behind a short-circuiting OR, because the
	// planner folds the immutable cast before execution.
	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_sessions
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_active AND ($2 = '' OR id::text <> $2)`,
		userID, excludeSessionID,
	)
	if err := s.finish(span, err); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RotateRefresh deactivates one session and inserts its replacement inside
// a single transaction. The guarded UPDATE takes the row lock and acts as
// the compare-and-swap: a concurrent rotation that lost the race sees zero
// affected rows and aborts with [session.ErrRotationConflict].
func (s *Store) RotateRefresh(ctx context.Context, oldSessionID string, next *session.Session) error {
	ctx, span := s.startSpan(ctx, "RotateRefresh")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.finish(span, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		UPDATE auth_sessions
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active`,
		oldSessionID,
	)
	if err != nil {
		return s.finish(span, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM auth_sessions WHERE id = $1)`,
			oldSessionID,
		).Scan(&exists); err != nil {
			return s.finish(span, err)
		}
		if exists {
			finishSpan(span, session.ErrRotationConflict)
			return session.ErrRotationConflict
		}
		finishSpan(span, session.ErrNotFound)
		return session.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO auth_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		next.ID, next.UserID, next.AccessToken, next.RefreshToken,
		next.UserAgent, next.IPAddress, next.IsActive, next.ExpiresAt,
		next.LastAccessedAt, next.CreatedAt, next.UpdatedAt,
	); err != nil {
		return s.finish(span, err)
	}

	return s.finish(span, tx.Commit(ctx))
}

func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, span := s.startSpan(ctx, "DeleteExpired")
	defer span.End()

	// Inactive rows are swept too; revoked sessions would otherwise
	// accumulate past their expiry.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM auth_sessions
		WHERE expires_at <= NOW()`,
	)
	if err := s.finish(span, err); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("sessions.removed", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
	)
	return s.tracer.Start(ctx, "postgresstore."+op, trace.WithAttributes(attrs...))
}

// finish records err on the span and classifies it. Context deadline
// failures become timeout errors so callers can distinguish a slow store
// from a broken one.
func (s *Store) finish(span trace.Span, err error) error {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	finishSpan(span, err)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrRotationConflict) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return luerr.Wrap(err, luerr.CodeTimeoutStore, "postgresstore: operation timed out")
	}
	return err
}

func finishSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
