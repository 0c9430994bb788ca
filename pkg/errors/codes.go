package errors

import "strings"

// Code represents a machine-readable error code for categorizing errors.
// Codes follow the pattern CATEGORY_XXX where CATEGORY is a short identifier
// (e.g., TOKEN, SESS, KEY) and XXX is a three-digit numeric code.
//
// Error codes are designed to be:
//   - Stable: codes do not change once assigned
//   - Unique: each error condition has a distinct code
//   - Machine-readable: suitable for automated error handling
type Code string

// Error code categories and their HTTP mappings:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	XLAT_xxx    - Claim translation errors (400 Bad Request)
//	AUTH_xxx    - Authentication / token verification errors (401 Unauthorized)
//	SESS_xxx    - Session liveness errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	KEY_xxx     - Key configuration and signing errors (500 Internal Server Error)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when input or configuration fails validation rules.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// Translation errors (XLAT_xxx) - HTTP 400
	// Used when a provider payload cannot be mapped to unified claims.

	// CodeTranslation indicates a general claim translation failure.
	CodeTranslation Code = "XLAT_001"

	// CodeTranslationMissingField indicates a structurally required source
	// field (e.g., "sub") is absent from the provider payload.
	CodeTranslationMissingField Code = "XLAT_002"

	// Authentication errors (AUTH_xxx) - HTTP 401
	// Used when token verification fails. All of these deny access
	// uniformly; the distinct codes exist for caller messaging and logs.

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeTokenExpired indicates the token's signature verified but its
	// expiration time has passed.
	CodeTokenExpired Code = "AUTH_002"

	// CodeTokenInvalid indicates the token is malformed or its signature
	// does not verify under any permitted algorithm.
	CodeTokenInvalid Code = "AUTH_003"

	// CodeTokenWrongType indicates a token of the wrong type was presented
	// (e.g., an access token where a refresh token is required).
	CodeTokenWrongType Code = "AUTH_004"

	// Session errors (SESS_xxx) - HTTP 401
	// Used when a verified token's backing session fails liveness checks.

	// CodeSessionNotFound indicates no session row matches the token.
	CodeSessionNotFound Code = "SESS_001"

	// CodeSessionInactive indicates the session exists but has been
	// revoked, superseded by a refresh, or has expired.
	CodeSessionInactive Code = "SESS_002"

	// CodeSessionStore indicates a session store I/O failure. Surfaced to
	// callers as a generic "session operation failed" error.
	CodeSessionStore Code = "SESS_003"

	// Authorization errors (AUTHZ_xxx) - HTTP 403
	// Used when an authenticated identity lacks the required privilege.

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationRole indicates the identity's role is below the
	// minimum required role in the role hierarchy.
	CodeAuthorizationRole Code = "AUTHZ_002"

	// CodeAuthorizationPermission indicates a required permission string is
	// not present in the identity's permission list.
	CodeAuthorizationPermission Code = "AUTHZ_003"

	// Key errors (KEY_xxx) - HTTP 500
	// Used for signing key configuration and per-call signing failures.

	// CodeKeyConfiguration indicates missing or malformed key material.
	CodeKeyConfiguration Code = "KEY_001"

	// CodeKeyMismatch indicates the configured private and public keys do
	// not form a matched pair (probe signature did not verify).
	CodeKeyMismatch Code = "KEY_002"

	// CodeSigning indicates no usable signing key was available for a
	// sign operation.
	CodeSigning Code = "KEY_003"

	// Internal errors (INT_xxx) - HTTP 500
	// Used for unexpected internal failures.

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates a configuration loading error.
	CodeInternalConfiguration Code = "INT_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504
	// Used when an operation exceeds its deadline.

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutStore indicates a session store operation timed out.
	CodeTimeoutStore Code = "TIMEOUT_002"
)

// Category returns the category prefix of the code (the part before the
// underscore). For example, CodeTokenExpired ("AUTH_002") has category
// "AUTH". An empty code returns an empty category.
func (c Code) Category() string {
	s := string(c)
	if idx := strings.IndexByte(s, '_'); idx > 0 {
		return s[:idx]
	}
	return s
}

// Valid reports whether the code follows the CATEGORY_XXX pattern with a
// non-empty category and a numeric suffix.
func (c Code) Valid() bool {
	s := string(c)
	idx := strings.IndexByte(s, '_')
	if idx <= 0 || idx == len(s)-1 {
		return false
	}
	for _, r := range s[idx+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
