package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/token"
)

const tracerName = "github.com/luminasoft/lumina-auth/pkg/session"

// Manager orchestrates session lifecycle around the token codec and a
// session store. It owns the binding between signed tokens and revocable
// session rows; the codec proves who a token belongs to, the Manager
// proves the session behind it is still alive.
type Manager struct {
	codec  *token.Codec
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger used for best-effort failures and
// lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a session manager. Both the codec and the store are
// required.
func NewManager(codec *token.Codec, store Store, opts ...Option) (*Manager, error) {
	if codec == nil {
		return nil, luerr.Validation("token codec is required")
	}
	if store == nil {
		return nil, luerr.Validation("session store is required")
	}
	m := &Manager{
		codec:  codec,
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TokenPair is a freshly minted access/refresh token pair together with
// the session that owns it, shaped for login and refresh responses.
type TokenPair struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	ExpiresIn    int64   `json:"expiresIn"`
	TokenType    string  `json:"tokenType"`
	Session      Summary `json:"session"`
}

// Create establishes a session for already-translated claims: it mints an
// access/refresh token pair bound to a new session id and persists the
// session row. Used by login flows after credential or provider
// verification has succeeded.
func (m *Manager) Create(ctx context.Context, claims token.UnifiedClaims, client ClientContext) (*TokenPair, *Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.Create",
		trace.WithAttributes(attribute.String("user.id", claims.Subject)))
	defer span.End()

	pair, sess, err := m.mint(ctx, claims, client)
	if err != nil {
		spanError(span, err)
		return nil, nil, err
	}

	if err := m.store.Create(ctx, sess); err != nil {
		spanError(span, err)
		return nil, nil, luerr.SessionOperationFailed(err)
	}

	m.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"expires_at", sess.ExpiresAt,
	)
	return pair, sess, nil
}

// Validate verifies an access token and confirms its session is still
// alive. Both checks must pass; a cryptographically valid token whose
// session was revoked is rejected. On success the session's last-accessed
// timestamp is updated best-effort.
func (m *Manager) Validate(ctx context.Context, accessToken string) (*Session, *token.UnifiedClaims, error) {
	ctx, span := m.tracer.Start(ctx, "session.Validate")
	defer span.End()

	claims, err := m.codec.Verify(ctx, accessToken)
	if err != nil {
		spanError(span, err)
		return nil, nil, err
	}

	// Verify already enforces expiry; this guards against a codec
	// configured with a large leeway.
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		err := luerr.TokenExpired()
		spanError(span, err)
		return nil, nil, err
	}

	sess, err := m.store.GetByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, nil, m.storeError(ctx, span, "access token lookup failed", err)
	}
	if !sess.Valid() {
		err := luerr.SessionInvalid()
		spanError(span, err)
		return nil, nil, err
	}

	if err := m.store.TouchLastAccessed(ctx, sess.ID, time.Now().UTC()); err != nil {
		// Best-effort; a lost touch never fails validation.
		m.logger.WarnContext(ctx, "failed to update session last-accessed time",
			"session_id", sess.ID, "error", err)
	}

	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("user.id", sess.UserID),
	)
	return sess, claims, nil
}

// Refresh exchanges a refresh token for a new token pair. The old session
// is deactivated and the new one created in a single atomic store
// operation, so each refresh token is usable exactly once: of two
// concurrent refreshes with the same token, one wins and the other gets
// an invalid-session error.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, client ClientContext) (*TokenPair, *Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.Refresh")
	defer span.End()

	claims, err := m.codec.Verify(ctx, refreshToken)
	if err != nil {
		spanError(span, err)
		return nil, nil, err
	}
	if claims.Type != token.TypeRefresh {
		err := luerr.Newf(luerr.CodeTokenWrongType, "refresh requires a refresh token, got %q", claims.Type)
		spanError(span, err)
		return nil, nil, err
	}

	old, err := m.store.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, nil, m.storeError(ctx, span, "refresh token lookup failed", err)
	}
	if !old.Valid() {
		err := luerr.SessionInvalid()
		spanError(span, err)
		return nil, nil, err
	}

	// Same identity, fresh session binding. The codec restamps iat, jti
	// and exp during signing.
	next := *claims
	pair, sess, err := m.mint(ctx, next, client)
	if err != nil {
		spanError(span, err)
		return nil, nil, err
	}

	if err := m.store.RotateRefresh(ctx, old.ID, sess); err != nil {
		switch {
		case errors.Is(err, ErrRotationConflict), errors.Is(err, ErrNotFound):
			// Lost the race to a concurrent refresh of the same token.
			werr := luerr.SessionInvalid()
			spanError(span, werr)
			return nil, nil, werr
		default:
			spanError(span, err)
			return nil, nil, luerr.SessionOperationFailed(err)
		}
	}

	m.logger.InfoContext(ctx, "session rotated",
		"old_session_id", old.ID,
		"new_session_id", sess.ID,
		"user_id", sess.UserID,
	)
	return pair, sess, nil
}

// Revoke deactivates a single session. Revoking an already-inactive
// session is a no-op.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	ctx, span := m.tracer.Start(ctx, "session.Revoke",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if err := m.store.Deactivate(ctx, sessionID); err != nil {
		return m.storeError(ctx, span, "session revocation failed", err)
	}
	m.logger.InfoContext(ctx, "session revoked", "session_id", sessionID)
	return nil
}

// RevokeAllForUser deactivates every active session owned by userID. When
// excludeSessionID is non-empty that session is left alone, which lets a
// "log out everywhere else" flow keep the current session alive. Returns
// the number of sessions revoked.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, excludeSessionID string) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "session.RevokeAllForUser",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	n, err := m.store.DeactivateAllForUser(ctx, userID, excludeSessionID)
	if err != nil {
		spanError(span, err)
		return 0, luerr.SessionOperationFailed(err)
	}
	m.logger.InfoContext(ctx, "user sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

// CleanupExpired removes expired sessions that were never explicitly
// revoked. Intended to be driven by an external scheduler; safe to run
// concurrently with live traffic.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "session.CleanupExpired")
	defer span.End()

	n, err := m.store.DeleteExpired(ctx)
	if err != nil {
		spanError(span, err)
		return 0, luerr.SessionOperationFailed(err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "expired sessions removed", "count", n)
	}
	span.SetAttributes(attribute.Int64("sessions.removed", n))
	return n, nil
}

// mint signs a fresh token pair bound to a new session id and builds the
// corresponding session row. Nothing is persisted.
func (m *Manager) mint(ctx context.Context, claims token.UnifiedClaims, client ClientContext) (*TokenPair, *Session, error) {
	sessionID := uuid.NewString()
	claims.SessionID = sessionID

	access, err := m.codec.Sign(ctx, claims, token.TypeAccess)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := m.codec.Sign(ctx, claims, token.TypeRefresh)
	if err != nil {
		return nil, nil, err
	}

	accessClaims, err := m.codec.Decode(access)
	if err != nil {
		return nil, nil, luerr.Wrap(err, luerr.CodeInternal, "failed to decode freshly signed token")
	}
	refreshClaims, err := m.codec.Decode(refresh)
	if err != nil {
		return nil, nil, luerr.Wrap(err, luerr.CodeInternal, "failed to decode freshly signed token")
	}

	// The session lives as long as its refresh token: the session row
	// gates refresh eligibility, while access expiry is enforced by the
	// codec during Verify. Binding the row to the shorter access TTL
	// would make every refresh after that window fail.
	now := time.Now().UTC()
	sess := &Session{
		ID:             sessionID,
		UserID:         claims.Subject,
		AccessToken:    access,
		RefreshToken:   refresh,
		UserAgent:      client.UserAgent,
		IPAddress:      client.IPAddress,
		IsActive:       true,
		ExpiresAt:      refreshClaims.ExpiresAt.Time,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessClaims.ExpiresAt.Time).Seconds()),
		TokenType:    "Bearer",
		Session:      sess.Summary(),
	}
	return pair, sess, nil
}

// storeError maps store failures onto the structured error surface:
// missing rows become the generic invalid-session error, everything else
// the generic store-failure error. The raw cause is logged, never
// returned.
func (m *Manager) storeError(ctx context.Context, span trace.Span, msg string, err error) error {
	if errors.Is(err, ErrNotFound) {
		werr := luerr.SessionInvalid()
		spanError(span, werr)
		return werr
	}
	m.logger.ErrorContext(ctx, msg, "error", err)
	werr := luerr.SessionOperationFailed(err)
	spanError(span, werr)
	return werr
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
