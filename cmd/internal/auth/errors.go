package auth

import "errors"

// Public, stable errors for callers.
var (
	// ErrTokenMalformed is returned when the presented token is not a
	// structurally valid JWT.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenExpired is returned when the token is past its expiry
	// (or not yet valid within the allowed clock skew).
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for every other verification failure:
	// wrong signature, wrong algorithm, wrong issuer, missing subject.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)
