package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/luminasoft/lumina-auth/pkg/session"
	"github.com/luminasoft/lumina-auth/pkg/token"
)

const (
	// HeaderAuthorization is the HTTP header carrying the bearer token.
	HeaderAuthorization = "Authorization"

	// bearerPrefix is the expected Authorization scheme prefix.
	bearerPrefix = "Bearer "

	// DefaultCookieName is the cookie consulted when no bearer header
	// yields a token.
	DefaultCookieName = "lumina_access_token"
)

// Validator confirms both a token's signature and the liveness of the
// session behind it. It is satisfied by [*session.Manager].
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*session.Session, *token.UnifiedClaims, error)
}

// Middleware authenticates HTTP requests against a [Validator] and
// attaches the verified claims and session to the request context.
//
// Token extraction tries the Authorization header first, then the
// configured cookie. The first source that yields a token is used; a
// token from one source is never combined with the other.
//
// Example:
//
//	mw := auth.NewMiddleware(sessionManager)
//	mux := http.NewServeMux()
//	mux.Handle("/api/reports", mw.Require(auth.RequireRole(token.RoleAdmin))(reportsHandler))
//	mux.Handle("/api/profile", mw.Require()(profileHandler))
//	mux.Handle("/api/feed", mw.Optional()(feedHandler))
type Middleware struct {
	validator  Validator
	cookieName string
	logger     *slog.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithCookieName overrides the cookie consulted for the access token.
func WithCookieName(name string) MiddlewareOption {
	return func(m *Middleware) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithMiddlewareLogger sets the logger used for denied requests.
func WithMiddlewareLogger(logger *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMiddleware creates authentication middleware backed by the given
// validator.
func NewMiddleware(validator Validator, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		validator:  validator,
		cookieName: DefaultCookieName,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// requirements are the per-route enforcement rules applied after a token
// validates.
type requirements struct {
	tokenType  token.Type
	minRole    token.Role
	permission string
}

// RequireOption adds an enforcement rule to a protected route.
type RequireOption func(*requirements)

// RequireTokenType rejects tokens whose embedded type differs from t.
// Routes default to accepting any verified token type; session-refresh
// endpoints typically require [token.TypeRefresh] and everything else
// [token.TypeAccess].
func RequireTokenType(t token.Type) RequireOption {
	return func(r *requirements) {
		r.tokenType = t
	}
}

// RequireRole rejects claims below the given role in the fixed hierarchy
// user < admin < super_admin. Comparison is numeric, so a super_admin
// passes every admin gate.
func RequireRole(minimum token.Role) RequireOption {
	return func(r *requirements) {
		r.minRole = minimum
	}
}

// RequirePermission rejects claims whose permission list does not contain
// the exact string.
func RequirePermission(permission string) RequireOption {
	return func(r *requirements) {
		r.permission = permission
	}
}

// Require returns middleware that denies requests failing authentication
// or any of the given enforcement rules. The denial response is a generic
// authentication or authorization failure; the specific reason is logged
// server-side only.
func (m *Middleware) Require(opts ...RequireOption) func(http.Handler) http.Handler {
	var reqs requirements
	for _, opt := range opts {
		opt(&reqs)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := m.extractToken(r)
			if tokenStr == "" {
				denyUnauthenticated(w)
				return
			}

			ctx := r.Context()
			sess, claims, err := m.validator.Validate(ctx, tokenStr)
			if err != nil {
				m.logger.WarnContext(ctx, "request authentication failed",
					"path", r.URL.Path, "error", err)
				denyUnauthenticated(w)
				return
			}

			if reqs.tokenType != "" && claims.Type != reqs.tokenType {
				m.logger.WarnContext(ctx, "wrong token type presented",
					"path", r.URL.Path, "got", claims.Type, "want", reqs.tokenType)
				denyUnauthenticated(w)
				return
			}
			if reqs.minRole != "" && !claims.Role.AtLeast(reqs.minRole) {
				m.logger.WarnContext(ctx, "insufficient role",
					"path", r.URL.Path, "user_id", claims.Subject, "role", claims.Role)
				denyForbidden(w)
				return
			}
			if reqs.permission != "" && !claims.HasPermission(reqs.permission) {
				m.logger.WarnContext(ctx, "missing permission",
					"path", r.URL.Path, "user_id", claims.Subject, "permission", reqs.permission)
				denyForbidden(w)
				return
			}

			ctx = ContextWithClaims(ctx, claims)
			ctx = ContextWithSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional returns middleware that attaches identity when a valid token is
// present but never denies the request. Handlers behind it must treat the
// absence of claims in the context as an anonymous request.
func (m *Middleware) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := m.extractToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			sess, claims, err := m.validator.Validate(ctx, tokenStr)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx = ContextWithClaims(ctx, claims)
			ctx = ContextWithSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken tries the Authorization header first, then the cookie.
// Each source either yields a complete token or nothing.
func (m *Middleware) extractToken(r *http.Request) string {
	if tok := ExtractBearerToken(r.Header.Get(HeaderAuthorization)); tok != "" {
		return tok
	}
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// ExtractBearerToken returns the token portion of a "Bearer <token>"
// header value, or an empty string if the value does not carry the Bearer
// scheme. The scheme comparison is case-insensitive per RFC 9110.
func ExtractBearerToken(header string) string {
	if len(header) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// denyUnauthenticated writes the generic authentication failure. The
// response never distinguishes missing, malformed, expired, or revoked
// credentials.
func denyUnauthenticated(w http.ResponseWriter) {
	http.Error(w, "authentication failed", http.StatusUnauthorized)
}

// denyForbidden writes the generic authorization failure.
func denyForbidden(w http.ResponseWriter) {
	http.Error(w, "access denied", http.StatusForbidden)
}

var _ Validator = (*session.Manager)(nil)
