// Package users is the credential store: persisted user records with their
// password hashes and roles.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
)

// Repository defines the credential store operations. Lookups of absent
// users return common.ErrorNotFound; unique violations on username or email
// return common.ErrConflict.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateProfile(ctx context.Context, id, username, email string) (*models.User, error)
	SetRole(ctx context.Context, id string, role roles.Role) error
	Count(ctx context.Context) (int64, error)

	// LockRegistrations serializes registrations until the surrounding
	// transaction ends. It must be called inside a transaction.
	LockRegistrations(ctx context.Context) error
}
