package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/google/uuid"
)

// UserRepository implements users.Repository on a Store.
type UserRepository struct {
	s *Store
}

func NewUserRepository(s *Store) *UserRepository {
	return &UserRepository{s: s}
}

// taken reports whether another user than id holds username or email.
// Callers hold s.mu.
func (r *UserRepository) taken(id, username, email string) bool {
	for _, u := range r.s.users {
		if u.ID == id {
			continue
		}
		if u.UserName == username || u.Email == email {
			return true
		}
	}
	return false
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.taken("", user.UserName, user.Email) {
		return nil, common.ErrConflict
	}

	now := r.s.now()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = copyUser(user)
	return user, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyUser(u), nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.LastLogin = &at
	u.UpdatedAt = r.s.now()
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, username, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if r.taken(id, username, email) {
		return nil, common.ErrConflict
	}
	u.UserName = username
	u.Email = email
	u.UpdatedAt = r.s.now()
	return copyUser(u), nil
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role roles.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Role = role
	u.UpdatedAt = r.s.now()
	return nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.users)), nil
}

// LockRegistrations is a no-op: Store.WithTx already runs transactions one
// at a time.
func (r *UserRepository) LockRegistrations(ctx context.Context) error {
	return nil
}
