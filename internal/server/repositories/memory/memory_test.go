package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(t *testing.T, r *UserRepository, name string) *models.User {
	t.Helper()
	u, err := models.NewUser(name, name+"@example.com", "hash", roles.User)
	require.NoError(t, err)
	u, err = r.Create(context.Background(), u)
	require.NoError(t, err)
	return u
}

func TestUsers_CreateAndLookup(t *testing.T) {
	s := NewStore()
	r := NewUserRepository(s)
	ctx := context.Background()

	u := newUser(t, r, "alice")
	assert.NotEmpty(t, u.ID)

	byEmail, err := r.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = r.GetUserByID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = r.GetUserByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUsers_Conflicts(t *testing.T) {
	s := NewStore()
	r := NewUserRepository(s)
	ctx := context.Background()

	newUser(t, r, "alice")
	bob := newUser(t, r, "bob")

	dup, _ := models.NewUser("alice", "other@example.com", "hash", roles.User)
	_, err := r.Create(ctx, dup)
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = r.UpdateProfile(ctx, bob.ID, "bob", "alice@example.com")
	assert.ErrorIs(t, err, common.ErrConflict)

	// keeping your own values is not a conflict
	got, err := r.UpdateProfile(ctx, bob.ID, "bobby", "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "bobby", got.UserName)
}

func TestUsers_ReturnedCopiesAreDetached(t *testing.T) {
	s := NewStore()
	r := NewUserRepository(s)
	ctx := context.Background()

	u := newUser(t, r, "alice")
	got, err := r.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	got.Role = roles.Admin

	again, err := r.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, roles.User, again.Role)
}

func TestUsers_SetRoleAndLastLogin(t *testing.T) {
	s := NewStore()
	r := NewUserRepository(s)
	ctx := context.Background()
	u := newUser(t, r, "alice")

	require.NoError(t, r.SetRole(ctx, u.ID, roles.Editor))
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, r.UpdateLastLogin(ctx, u.ID, at))

	got, err := r.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, roles.Editor, got.Role)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(at))

	assert.ErrorIs(t, r.SetRole(ctx, "x", roles.Admin), common.ErrorNotFound)
	assert.ErrorIs(t, r.UpdateLastLogin(ctx, "x", at), common.ErrorNotFound)
}

func TestTokens_Lifecycle(t *testing.T) {
	s := NewStore()
	users := NewUserRepository(s)
	r := NewRefreshTokenRepository(s)
	ctx := context.Background()
	u := newUser(t, users, "alice")
	now := time.Now()

	rt, err := models.NewRefreshToken("t1", u.ID, now.Add(time.Hour), models.Device{UserAgent: "ua"})
	require.NoError(t, err)
	require.NoError(t, r.Create(ctx, rt))
	assert.NotEmpty(t, rt.ID)

	dup, _ := models.NewRefreshToken("t1", u.ID, now.Add(time.Hour), models.Device{})
	assert.ErrorIs(t, r.Create(ctx, dup), common.ErrDuplicateToken)

	_, err = r.FindActive(ctx, "t1", "someone-else")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	got, err := r.FindActive(ctx, "t1", u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ua", got.Device.UserAgent)

	require.NoError(t, r.Revoke(ctx, "t1"))
	require.NoError(t, r.Revoke(ctx, "t1"))
	require.NoError(t, r.Revoke(ctx, "unknown"))
	_, err = r.FindActive(ctx, "t1", u.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, r.Consume(ctx, "t1", u.ID), common.ErrorNotFound)
}

func TestTokens_RevokeAllListAndPurge(t *testing.T) {
	s := NewStore()
	users := NewUserRepository(s)
	r := NewRefreshTokenRepository(s)
	ctx := context.Background()
	alice := newUser(t, users, "alice")
	bob := newUser(t, users, "bob")
	now := time.Now()

	for _, tc := range []struct {
		tok, user string
		exp       time.Time
	}{
		{"a1", alice.ID, now.Add(time.Hour)},
		{"a2", alice.ID, now.Add(2 * time.Hour)},
		{"a3", alice.ID, now.Add(-time.Minute)},
		{"b1", bob.ID, now.Add(time.Hour)},
	} {
		rt, err := models.NewRefreshToken(tc.tok, tc.user, tc.exp, models.Device{})
		require.NoError(t, err)
		require.NoError(t, r.Create(ctx, rt))
	}

	list, err := r.ListActiveForUser(ctx, alice.ID, now)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := r.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.RevokeAllForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err = r.ListActiveForUser(ctx, alice.ID, now)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = r.FindActive(ctx, "b1", bob.ID)
	assert.NoError(t, err)
}

func TestTokens_CreateForUnknownUser(t *testing.T) {
	s := NewStore()
	r := NewRefreshTokenRepository(s)
	rt, _ := models.NewRefreshToken("t", "ghost", time.Now().Add(time.Hour), models.Device{})
	assert.ErrorIs(t, r.Create(context.Background(), rt), common.ErrorNotFound)
}

func TestWithTx_RollbackOnErrorAndPanic(t *testing.T) {
	s := NewStore()
	users := NewUserRepository(s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, _ dbx.DBTX) error {
		newUser(t, users, "alice")
		return errors.New("fail")
	})
	assert.EqualError(t, err, "fail")

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(ctx context.Context, _ dbx.DBTX) error {
			newUser(t, users, "bob")
			panic("boom")
		})
	})

	n, _ := users.Count(ctx)
	assert.Equal(t, int64(0), n)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, _ dbx.DBTX) error {
		newUser(t, users, "carol")
		return nil
	}))
	n, _ = users.Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestWithTx_CanceledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(context.Context, dbx.DBTX) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestConsume_ExactlyOneWinner(t *testing.T) {
	s := NewStore()
	users := NewUserRepository(s)
	r := NewRefreshTokenRepository(s)
	ctx := context.Background()
	u := newUser(t, users, "alice")

	rt, _ := models.NewRefreshToken("tok", u.ID, time.Now().Add(time.Hour), models.Device{})
	require.NoError(t, r.Create(ctx, rt))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(ctx context.Context, _ dbx.DBTX) error {
				return r.Consume(ctx, "tok", u.ID)
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
