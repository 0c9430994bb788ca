// Package token provides compact signed token issuance and verification for
// the Lumina auth core.
//
// The [Codec] signs and verifies JWTs carrying [UnifiedClaims], the
// canonical provider-agnostic payload shape. In RS256 mode tokens are signed
// with the [keys.Manager]'s RSA key (embedding the kid header); verification
// attempts RS256 first and falls back to the configured HS256 shared secret,
// supporting zero-downtime migration between signing schemes. The codec,
// never the token, chooses which algorithms to attempt: an
// attacker-supplied alg header is not honored, and alg "none" is rejected
// by construction.
//
// All sign/verify operations are pure CPU-bound computations with no shared
// mutable state; a Codec is safe for concurrent use.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the unified role carried in token payloads. Roles form a fixed
// numeric hierarchy used for minimum-role authorization checks:
// user(0) < admin(1) < super_admin(2).
type Role string

const (
	// RoleUser is the baseline role assigned to every authenticated principal.
	RoleUser Role = "user"

	// RoleAdmin grants administrative access within a tenant.
	RoleAdmin Role = "admin"

	// RoleSuperAdmin grants platform-wide administrative access.
	RoleSuperAdmin Role = "super_admin"
)

// Level returns the role's position in the hierarchy, or -1 for an
// unrecognized role. Authorization comparisons must use Level, never
// string comparison.
func (r Role) Level() int {
	switch r {
	case RoleUser:
		return 0
	case RoleAdmin:
		return 1
	case RoleSuperAdmin:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the role is one of the recognized values.
func (r Role) Valid() bool {
	return r.Level() >= 0
}

// AtLeast reports whether the role meets or exceeds the minimum role in
// the hierarchy. Unrecognized roles never satisfy any minimum.
func (r Role) AtLeast(minimum Role) bool {
	level := r.Level()
	return level >= 0 && level >= minimum.Level()
}

// Provider identifies the authentication source that produced a principal's
// original payload.
type Provider string

const (
	// ProviderFirstParty identifies the first-party password authenticator.
	ProviderFirstParty Provider = "first-party"

	// ProviderKeycloak identifies the Keycloak OIDC provider.
	ProviderKeycloak Provider = "keycloak"

	// ProviderOAuth identifies the generic OAuth authenticator.
	ProviderOAuth Provider = "oauth"
)

// Method identifies how the principal authenticated.
type Method string

const (
	// MethodPassword indicates first-party password authentication.
	MethodPassword Method = "password"

	// MethodOAuth indicates an OAuth/OIDC flow.
	MethodOAuth Method = "oauth"

	// MethodSSO indicates an enterprise single-sign-on flow.
	MethodSSO Method = "sso"
)

// Type distinguishes access tokens from refresh tokens. The type requested
// at sign time is stamped into the payload, and verification paths that
// require a specific type must check it.
type Type string

const (
	// TypeAccess marks a short-lived access token.
	TypeAccess Type = "access"

	// TypeRefresh marks a long-lived refresh token, usable only to mint a
	// new token pair.
	TypeRefresh Type = "refresh"
)

// Default token lifetimes, overridable per Config and per Sign call.
const (
	// DefaultAccessTTL is the default access token lifetime.
	DefaultAccessTTL = 3 * time.Hour

	// DefaultRefreshTTL is the default refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// UnifiedClaims is the canonical payload shape all provider translations
// converge to. It embeds the registered JWT claims (sub, iss, aud, exp,
// iat, jti, nbf) and adds the platform's identity, provenance, and
// authorization fields.
//
// Invariants maintained by the [Codec]:
//   - Type matches the token type requested at sign time
//   - exp > iat, and both are stamped by the codec, never by callers
//   - jti is a fresh unique id per issued token
//   - sub is always present and stable across translations for the same
//     principal
type UnifiedClaims struct {
	// Email is the principal's email address.
	Email string `json:"email,omitempty"`

	// DisplayName is the principal's human-readable name.
	DisplayName string `json:"name,omitempty"`

	// Role is the unified role derived from the provider payload.
	Role Role `json:"role,omitempty"`

	// Username is the optional login name, when distinct from email.
	Username string `json:"username,omitempty"`

	// AuthProvider records which token-producing source authenticated the
	// principal.
	AuthProvider Provider `json:"auth_provider,omitempty"`

	// AuthMethod records how the principal authenticated.
	AuthMethod Method `json:"auth_method,omitempty"`

	// SessionID binds the token to a server-side session record.
	SessionID string `json:"session_id,omitempty"`

	// Type is the token type (access or refresh), stamped at sign time.
	Type Type `json:"type,omitempty"`

	// Scope is the optional OAuth-style space-separated scope string.
	Scope string `json:"scope,omitempty"`

	// TenantID is the optional multi-tenant extension point.
	TenantID string `json:"tenant_id,omitempty"`

	// Permissions is the optional explicit permission list.
	Permissions []string `json:"permissions,omitempty"`

	jwt.RegisteredClaims
}

// UserID returns the stable principal identifier (the registered sub
// claim).
func (c *UnifiedClaims) UserID() string {
	return c.Subject
}

// HasPermission reports whether the exact permission string is present in
// the claims' permission list.
func (c *UnifiedClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
