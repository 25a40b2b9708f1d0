// Package refreshtokens is the refresh-token ledger: the persisted set of
// issued refresh tokens and the sole source of server-side revocation.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/server/models"
)

// Repository defines the ledger operations.
type Repository interface {
	// Create inserts a new record and fills its ID and timestamps.
	// A token string that already exists yields common.ErrDuplicateToken.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindActive returns the non-revoked record for token owned by userID,
	// or common.ErrorNotFound. Expiry is not checked here.
	FindActive(ctx context.Context, token, userID string) (*models.RefreshToken, error)

	// Consume deletes the non-revoked record for token owned by userID.
	// When two callers race, exactly one succeeds and the other gets
	// common.ErrorNotFound.
	Consume(ctx context.Context, token, userID string) error

	// Revoke marks the record for token revoked. Unknown or already
	// revoked tokens are not an error.
	Revoke(ctx context.Context, token string) error

	// RevokeAllForUser revokes every active record of userID and returns
	// how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// ListActiveForUser returns the non-revoked records of userID that
	// expire after now, newest first.
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)

	// DeleteExpired removes records that expired before the given instant.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
