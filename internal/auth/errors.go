package auth

import "errors"

var (
	// ErrInvalidCredentials is returned on login failure without revealing
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers malformed, expired, revoked and unknown tokens.
	ErrInvalidToken = errors.New("auth: invalid or expired token")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)
