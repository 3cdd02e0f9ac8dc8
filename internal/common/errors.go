// Package common defines shared constants and sentinel errors used across
// the store, the rotation engine and the session layer. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Refresh credential was not found, is malformed or has a bad signature.
	// Callers must not reveal which of these happened.
	ErrInvalidToken = errors.New("invalid token")

	// Refresh credential is past its expiry. Ordinary re-authentication.
	ErrTokenExpired = errors.New("token expired")

	// A revoked (already rotated) refresh token was presented.
	ErrTokenReused = errors.New("refresh token reused")

	// A session was requested for a user id that can never be redeemed.
	ErrInvalidUser = errors.New("invalid user id")

	// Returned by the session layer after a reuse forced family revocation.
	ErrSecurityViolation = errors.New("security violation")
)
