package attendance

import "errors"

const (
	ErrTokenNotFound    = "TokenNotFound"
	ErrSessionLocked    = "SessionLocked"
	ErrStaleToken       = "StaleToken"
	ErrNotEnrolled      = "NotEnrolled"
	ErrLocationRequired = "LocationRequired"
	ErrOutOfRange       = "OutOfRange"
	ErrUnauthorized     = "Unauthorized"
	ErrSessionNotFound  = "SessionNotFound"
	ErrInvalidStatus    = "InvalidStatus"
	ErrInvalidCourse    = "InvalidCourse"
	ErrTokenCollision   = "TokenCollision"
)

// Error is a domain failure the caller can act on. Anything else is an infrastructure error.
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func fail(code string) error {
	return &Error{Code: code}
}

// CodeOf returns the domain code carried by err, or "" when err is not a domain failure.
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
