// Package tokencache is a negative-lookup cache in front of the token store.
// It remembers token ids the store does not hold, keyed by token id within a
// user, so repeated lookups of unknown credentials skip the database.
//
// The cache never answers whether a stored token is revoked or expired; the
// store decides that on every lookup.
package tokencache

import "context"

type Cache interface {
	// Missing reports whether the token is known to be absent from the store.
	Missing(ctx context.Context, userID int64, tokenID string) (bool, error)

	// MarkMissing records that the store holds no such token.
	MarkMissing(ctx context.Context, userID int64, tokenID string) error

	// Forget drops entries for the given ids. Called once a token is stored.
	Forget(ctx context.Context, userID int64, tokenIDs ...string) error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Missing(context.Context, int64, string) (bool, error) { return false, nil }
func (Nop) MarkMissing(context.Context, int64, string) error     { return nil }
func (Nop) Forget(context.Context, int64, ...string) error       { return nil }
