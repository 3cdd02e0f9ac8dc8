// Package common contains shared constants and sentinel errors used across
// tripkeeper components.
package common

// Credential kinds carried in the "kind" claim of every signed token, so an
// access token can never be presented where a refresh credential is expected.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)
