package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/google/uuid"
)

// RefreshTokenRepository implements refreshtokens.Repository on a Store.
// Records are keyed by token string.
type RefreshTokenRepository struct {
	s *Store
}

func NewRefreshTokenRepository(s *Store) *RefreshTokenRepository {
	return &RefreshTokenRepository{s: s}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tokens[token.Token]; ok {
		return common.ErrDuplicateToken
	}
	if _, ok := r.s.users[token.UserID]; !ok {
		return common.ErrorNotFound
	}

	now := r.s.now()
	token.ID = uuid.NewString()
	token.CreatedAt = now
	token.UpdatedAt = now
	c := *token
	r.s.tokens[token.Token] = &c
	return nil
}

func (r *RefreshTokenRepository) FindActive(ctx context.Context, token, userID string) (*models.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tokens[token]
	if !ok || t.UserID != userID || t.Revoked {
		return nil, common.ErrorNotFound
	}
	c := *t
	return &c, nil
}

func (r *RefreshTokenRepository) Consume(ctx context.Context, token, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tokens[token]
	if !ok || t.UserID != userID || t.Revoked {
		return common.ErrorNotFound
	}
	delete(r.s.tokens, token)
	return nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.tokens[token]; ok && !t.Revoked {
		t.Revoked = true
		t.UpdatedAt = r.s.now()
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	now := r.s.now()
	for _, t := range r.s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.RefreshToken
	for _, t := range r.s.tokens {
		if t.UserID == userID && t.IsActive(now) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for k, t := range r.s.tokens {
		if !t.ExpiresAt.After(before) {
			delete(r.s.tokens, k)
			n++
		}
	}
	return n, nil
}
