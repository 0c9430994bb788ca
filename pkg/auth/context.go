package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/luminasoft/lumina-auth/pkg/session"
	"github.com/luminasoft/lumina-auth/pkg/token"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// claimsKey stores the authenticated token claims in the context.
	claimsKey contextKey = iota

	// sessionKey stores the validated session in the context.
	sessionKey
)

// ContextWithClaims returns a new context with the given verified claims
// attached. The claims can later be retrieved with [ClaimsFromContext].
//
// This is typically called by HTTP middleware and gRPC interceptors after
// successfully validating a token and its session.
func ContextWithClaims(ctx context.Context, claims *token.UnifiedClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the verified claims from the context.
// Returns the claims and true if present, or nil and false if no claims
// have been set. This function never returns non-nil claims with false.
//
// Example:
//
//	claims, ok := auth.ClaimsFromContext(ctx)
//	if !ok {
//	    return errors.New(errors.CodeAuthentication, "no identity in context")
//	}
//	log.Info("request", "user", claims.Subject, "role", claims.Role)
func ClaimsFromContext(ctx context.Context) (*token.UnifiedClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.UnifiedClaims)
	return claims, ok
}

// MustClaimsFromContext retrieves the verified claims from the context,
// panicking if none are present. This should only be used in code paths
// where claims are guaranteed to exist (e.g., behind authentication
// middleware).
func MustClaimsFromContext(ctx context.Context) *token.UnifiedClaims {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		panic("auth: no claims in context; ensure authentication middleware is configured")
	}
	return claims
}

// ContextWithSession returns a new context with the validated session
// attached.
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext retrieves the validated session from the context.
// Returns the session and true if present, or nil and false otherwise.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok
}

// UserIDFromContext is a convenience accessor for the authenticated
// subject id. Returns an empty string and false when the request is
// unauthenticated.
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return claims.Subject, true
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
//
// This allows correlating authentication events with distributed traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
