package attendance

import "errors"

var (
	// ErrAuthRequired is returned when no authenticated identity is present.
	ErrAuthRequired = errors.New("not authenticated")

	// ErrInvalidCode is returned when the submitted code is neither today's
	// date nor a registered active attendance day.
	ErrInvalidCode = errors.New("invalid attendance code")

	// ErrUserNotFound is returned when the identity references an account
	// that no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownUser is returned on login for an unknown username.
	ErrUnknownUser = errors.New("unknown user")

	// ErrWrongPassword is returned on login when the password does not match.
	ErrWrongPassword = errors.New("incorrect password")
)
