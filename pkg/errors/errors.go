// Package errors provides standardized error types and error handling
// utilities for the Lumina auth core. It defines the error taxonomy shared
// by every package in this module: key-configuration errors, signing errors,
// token verification errors, session errors, and translation errors, plus
// the generic validation/internal/timeout categories.
//
// # Error Categories
//
//   - Validation errors: invalid input, missing required configuration fields
//   - Key errors: missing, malformed, or mismatched signing key material
//   - Authentication errors: expired, malformed, or wrong-type tokens
//   - Authorization errors: insufficient role or missing permission
//   - Session errors: session not found, inactive, or already rotated
//   - Translation errors: provider payloads missing required fields
//   - Internal errors: store I/O failures and other unexpected conditions
//   - Timeout errors: operations that exceeded a caller-supplied deadline
//
// # Error Codes
//
// Each error carries a machine-readable code (e.g., "AUTH_002") usable for
// tracking, alerting, and client-side handling. Codes follow the pattern
// CATEGORY_XXX and are stable once assigned.
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.CodeTokenInvalid, "Invalid token")
//
// Wrap an underlying error:
//
//	err := errors.Wrap(err, errors.CodeSessionStore, "session operation failed")
//
// Check a category:
//
//	if errors.IsAuthentication(err) {
//	    // respond 401 with a generic body
//	}
package errors
