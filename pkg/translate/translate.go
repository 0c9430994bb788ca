// Package translate maps provider-specific claim shapes to and from the
// unified claim set used across the platform.
//
// Three shapes exist: the first-party shape emitted by the platform's own
// login flow, the OAuth/Keycloak shape delivered by external identity
// providers, and the unified shape that tokens actually carry. All mapping
// functions are pure and stateless; they never touch storage and never
// mutate their inputs.
package translate

import (
	"strings"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/token"
)

// ---------------------------------------------------------------------------
// Source shapes
// ---------------------------------------------------------------------------

// FirstPartyClaims is the claim shape produced by the platform's own
// password login flow.
type FirstPartyClaims struct {
	Subject     string   `json:"sub"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"name,omitempty"`
	Username    string   `json:"username,omitempty"`
	Role        string   `json:"role,omitempty"`
	AuthMethod  string   `json:"auth_method,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// RoleContainer holds a role list nested under a provider-specific key,
// matching Keycloak's realm_access and resource_access structures.
type RoleContainer struct {
	Roles []string `json:"roles"`
}

// OAuthPayload is the claim shape delivered by an OAuth or Keycloak
// userinfo/token response. Only the fields the unified shape can carry are
// modeled; providers may send more, and those extras are dropped.
type OAuthPayload struct {
	Subject           string                   `json:"sub"`
	Email             string                   `json:"email,omitempty"`
	Name              string                   `json:"name,omitempty"`
	PreferredUsername string                   `json:"preferred_username,omitempty"`
	Scope             string                   `json:"scope,omitempty"`
	Roles             []string                 `json:"roles,omitempty"`
	RealmAccess       *RoleContainer           `json:"realm_access,omitempty"`
	ResourceAccess    map[string]RoleContainer `json:"resource_access,omitempty"`
}

// ---------------------------------------------------------------------------
// Role mapping policy
// ---------------------------------------------------------------------------

// Provider role names that map onto the platform hierarchy. Matching is
// case-insensitive.
var (
	superAdminAliases = map[string]struct{}{
		"super_admin":   {},
		"administrator": {},
		"root":          {},
	}
	adminAliases = map[string]struct{}{
		"admin":     {},
		"manager":   {},
		"moderator": {},
	}
)

// MapProviderRoles reduces a provider role list to a platform role. Any
// super-admin alias wins over any admin alias; everything else is a plain
// user.
func MapProviderRoles(roles []string) token.Role {
	mapped := token.RoleUser
	for _, r := range roles {
		name := strings.ToLower(strings.TrimSpace(r))
		if _, ok := superAdminAliases[name]; ok {
			return token.RoleSuperAdmin
		}
		if _, ok := adminAliases[name]; ok {
			mapped = token.RoleAdmin
		}
	}
	return mapped
}

// roleSource picks the role list to map. Precedence is fixed: the flat
// roles claim, then realm_access.roles, then the union of
// resource_access roles. The first non-empty source wins; later sources
// are not consulted even if they would map to a higher role.
func roleSource(p OAuthPayload) []string {
	if len(p.Roles) > 0 {
		return p.Roles
	}
	if p.RealmAccess != nil && len(p.RealmAccess.Roles) > 0 {
		return p.RealmAccess.Roles
	}
	if len(p.ResourceAccess) > 0 {
		var merged []string
		for _, container := range p.ResourceAccess {
			merged = append(merged, container.Roles...)
		}
		return merged
	}
	return nil
}

// ---------------------------------------------------------------------------
// Forward translations
// ---------------------------------------------------------------------------

// FirstPartyToUnified converts a first-party login result into the unified
// claim shape. The subject is required; everything else has a sensible
// default.
func FirstPartyToUnified(src FirstPartyClaims) (token.UnifiedClaims, error) {
	if strings.TrimSpace(src.Subject) == "" {
		return token.UnifiedClaims{}, luerr.New(luerr.CodeTranslation, "first-party claims missing subject")
	}

	role := token.Role(src.Role)
	if !role.Valid() {
		role = token.RoleUser
	}
	method := token.Method(src.AuthMethod)
	if method == "" {
		method = token.MethodPassword
	}
	perms := src.Permissions
	if perms == nil {
		perms = []string{}
	}

	out := token.UnifiedClaims{
		Email:        src.Email,
		DisplayName:  src.DisplayName,
		Role:         role,
		Username:     src.Username,
		AuthProvider: token.ProviderFirstParty,
		AuthMethod:   method,
		Scope:        src.Scope,
		TenantID:     src.TenantID,
		Permissions:  perms,
	}
	out.Subject = src.Subject
	return out, nil
}

// OAuthToUnified converts an OAuth or Keycloak payload into the unified
// claim shape, deriving the platform role through the fixed role-mapping
// precedence. Payloads carrying Keycloak's realm_access or resource_access
// structures are attributed to the keycloak provider; plain payloads to
// the generic oauth provider.
func OAuthToUnified(src OAuthPayload) (token.UnifiedClaims, error) {
	if strings.TrimSpace(src.Subject) == "" {
		return token.UnifiedClaims{}, luerr.New(luerr.CodeTranslation, "oauth payload missing subject")
	}

	provider := token.ProviderOAuth
	if src.RealmAccess != nil || len(src.ResourceAccess) > 0 {
		provider = token.ProviderKeycloak
	}

	username := src.PreferredUsername
	if username == "" {
		username = src.Email
	}

	out := token.UnifiedClaims{
		Email:        src.Email,
		DisplayName:  src.Name,
		Role:         MapProviderRoles(roleSource(src)),
		Username:     username,
		AuthProvider: provider,
		AuthMethod:   token.MethodOAuth,
		Scope:        src.Scope,
		Permissions:  []string{},
	}
	out.Subject = src.Subject
	return out, nil
}

// ---------------------------------------------------------------------------
// Inverse translations
// ---------------------------------------------------------------------------

// UnifiedToFirstPartyShape projects unified claims back onto the
// first-party shape. Round-trips cleanly through FirstPartyToUnified for
// the fields both shapes carry.
func UnifiedToFirstPartyShape(claims token.UnifiedClaims) FirstPartyClaims {
	perms := claims.Permissions
	if perms == nil {
		perms = []string{}
	}
	return FirstPartyClaims{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Username:    claims.Username,
		Role:        string(claims.Role),
		AuthMethod:  string(claims.AuthMethod),
		TenantID:    claims.TenantID,
		Scope:       claims.Scope,
		Permissions: perms,
	}
}

// UnifiedToOAuthShape projects unified claims onto an OAuth-compatible
// payload for interop and diagnostics. The projection is lossy: provider
// fields that UnifiedClaims never carried cannot be reconstructed, and the
// single platform role becomes a one-element role list.
func UnifiedToOAuthShape(claims token.UnifiedClaims) OAuthPayload {
	p := OAuthPayload{
		Subject:           claims.Subject,
		Email:             claims.Email,
		Name:              claims.DisplayName,
		PreferredUsername: claims.Username,
		Scope:             claims.Scope,
	}
	if claims.Role != "" {
		p.Roles = []string{string(claims.Role)}
	}
	return p
}

// ---------------------------------------------------------------------------
// Source detection
// ---------------------------------------------------------------------------

// DetectSource classifies the origin of an already-verified token so
// callers can route follow-up translation. Unknown or absent provider
// markers fall back on the auth method: an oauth method without a provider
// tag is treated as generic oauth, anything else as first-party.
func DetectSource(claims token.UnifiedClaims) token.Provider {
	switch claims.AuthProvider {
	case token.ProviderFirstParty, token.ProviderKeycloak, token.ProviderOAuth:
		return claims.AuthProvider
	}
	if claims.AuthMethod == token.MethodOAuth {
		return token.ProviderOAuth
	}
	return token.ProviderFirstParty
}
