package auth

import "errors"

// Token failures on alert mutations. Both answer 401; a valid token whose role
// is too low for the route is answered 403 by the middleware.
var (
	// ErrUnauthorized marks a dismiss request without a bearer token.
	ErrUnauthorized = errors.New("auth: missing bearer token")
	// ErrInvalidToken marks a token failing signature, expiry or role checks.
	ErrInvalidToken = errors.New("auth: invalid token")
)
