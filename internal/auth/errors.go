package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrMissingEmail = errors.New("auth: email is required")
	ErrNoSecret     = errors.New("auth: signing secret is not configured")
)

// ErrInvalidToken indicates the token failed validation. The reason is never
// exposed; malformed, expired and forged tokens all map to this error.
var ErrInvalidToken = errors.New("auth: invalid token")
