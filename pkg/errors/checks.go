package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error.
// Returns the Error and true if successful, nil and false otherwise.
// This function traverses the error chain using errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    log.Printf("error code: %s, message: %s", e.Code, e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error.
// If the error is not an *Error or is nil, returns an empty string.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
// Returns false if the error is nil or not an *Error.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsValidation checks if the error is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "VAL"
}

// IsTranslation checks if the error is a claim translation error (XLAT_xxx).
func IsTranslation(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "XLAT"
}

// IsAuthentication checks if the error is an authentication error
// (AUTH_xxx). Session liveness failures are reported separately by
// [IsSession]; both deny access.
func IsAuthentication(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "AUTH"
}

// IsSession checks if the error is a session error (SESS_xxx).
func IsSession(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "SESS"
}

// IsAuthorization checks if the error is an authorization error (AUTHZ_xxx).
func IsAuthorization(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "AUTHZ"
}

// IsKey checks if the error is a key configuration or signing error
// (KEY_xxx). These indicate programmer or deployment mistakes, never
// ordinary authentication failure.
func IsKey(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "KEY"
}

// IsInternal checks if the error is an internal error (INT_xxx).
func IsInternal(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "INT"
}

// IsTimeout checks if the error is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "TIMEOUT"
}

// IsAccessDenied reports whether the error denies access for any reason:
// authentication failure, dead session, or authorization failure. HTTP
// layers use this to decide between a 401/403 response and a 500.
func IsAccessDenied(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "AUTH", "AUTHZ":
		return true
	case "SESS":
		return e.Code != CodeSessionStore
	default:
		return false
	}
}
