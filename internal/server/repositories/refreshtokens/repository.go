// Package refreshtokens declares the token store contract for refresh-token
// families and provides PostgreSQL and in-memory implementations.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
)

// Repository is the durable record of every refresh token ever issued.
// Every method is scoped by userID in addition to the natural key, so a
// guessed token or family id never reaches another user's rows.
type Repository interface {
	// Insert stores a new row. A duplicate token id yields common.ErrorAlreadyExists.
	Insert(ctx context.Context, token *models.RefreshToken) error

	// FindByTokenIDAndUser returns the row or common.ErrorNotFound.
	FindByTokenIDAndUser(ctx context.Context, tokenID string, userID int64) (*models.RefreshToken, error)

	// FindByFamilyAndUser returns every row of the family, oldest first.
	// An unknown family yields an empty slice, not an error.
	FindByFamilyAndUser(ctx context.Context, familyID string, userID int64) ([]models.RefreshToken, error)

	// MarkRevoked flips IsRevoked for one token. Idempotent.
	MarkRevoked(ctx context.Context, tokenID string, userID int64) error

	// RevokeIfActive flips IsRevoked only if it is still false at write time
	// and reports whether this call performed the flip.
	RevokeIfActive(ctx context.Context, tokenID string, userID int64) (bool, error)

	// MarkFamilyRevoked revokes every row of the family. Idempotent.
	MarkFamilyRevoked(ctx context.Context, familyID string, userID int64) error

	// MarkAllUserRevoked revokes every row owned by the user. Idempotent.
	MarkAllUserRevoked(ctx context.Context, userID int64) error

	// DeleteExpiredBefore removes rows with expires_at < now regardless of
	// revocation and returns how many were removed.
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)

	// InsertReuseEvent stores evidence of a lost conditional revoke.
	InsertReuseEvent(ctx context.Context, event *models.ReuseEvent) error

	// HasReuseEvent reports whether any reuse evidence exists for the family.
	HasReuseEvent(ctx context.Context, familyID string, userID int64) (bool, error)

	// DeleteExpiredReuseEventsBefore removes evidence whose expires_at < now.
	DeleteExpiredReuseEventsBefore(ctx context.Context, now time.Time) (int64, error)
}
