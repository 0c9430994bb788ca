package errors

import "fmt"

// New creates a new Error with the specified code and message.
// Use this for creating errors without an underlying cause.
//
// Example:
//
//	err := errors.New(errors.CodeTokenInvalid, "Invalid token")
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with the specified code and formatted message.
//
// Example:
//
//	err := errors.Newf(errors.CodeSessionNotFound, "no session for token %.8s...", token)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context. The wrapped error
// becomes the Cause of the new error. If err is nil, Wrap returns nil.
//
// Example:
//
//	if err := store.Deactivate(ctx, id); err != nil {
//	    return errors.Wrap(err, errors.CodeSessionStore, "session operation failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with a formatted message. The wrapped error
// becomes the Cause of the new error. If err is nil, Wrapf returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// TokenExpired creates the canonical expired-token error. The message is
// fixed so that clients can match on it independently of the code.
func TokenExpired() *Error {
	return New(CodeTokenExpired, "Token expired")
}

// TokenInvalid creates the canonical malformed/bad-signature token error.
func TokenInvalid() *Error {
	return New(CodeTokenInvalid, "Invalid token")
}

// SessionInvalid creates the canonical dead-session error returned when a
// session is missing, inactive, expired, or already rotated.
func SessionInvalid() *Error {
	return New(CodeSessionInactive, "Invalid session")
}

// SessionOperationFailed wraps a store I/O failure in the generic session
// error surfaced to callers. The underlying cause is preserved for logs
// but the message never exposes store internals.
func SessionOperationFailed(err error) *Error {
	return Wrap(err, CodeSessionStore, "session operation failed")
}

// Validation creates a new validation error.
//
// Example:
//
//	err := errors.Validation("issuer must not be empty")
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a new validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}
