// Package services contains server-side business logic. This file implements
// AuthService: registration, login, refresh-token rotation, logout and the
// lookups the request gate and handlers need.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/cryptox"
	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/dmitrijs2005/feedauth/internal/server/auth"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
)

// maxMintAttempts bounds retries when a freshly minted refresh token
// collides with one already in the ledger.
const maxMintAttempts = 3

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Session is the result of a successful login.
type Session struct {
	TokenPair
	User *models.User
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// ProfileInput carries a partial profile update; nil fields are unchanged.
type ProfileInput struct {
	Username *string
	Email    *string
}

// AuthService provides authentication-related operations.
//
// Every write goes through RepositoryManager.WithTx. Errors returned to
// callers are always one of the common sentinels; anything unexpected is
// logged and reported as common.ErrorInternal.
type AuthService struct {
	repomanager repomanager.RepositoryManager
	codec       *auth.Codec
	hashParams  cryptox.Params
	log         logging.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*AuthService)

func WithLogger(l logging.Logger) Option {
	return func(s *AuthService) { s.log = l }
}

func WithHashParams(p cryptox.Params) Option {
	return func(s *AuthService) { s.hashParams = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService constructs an AuthService over the repositories of m.
func NewAuthService(m repomanager.RepositoryManager, codec *auth.Codec, opts ...Option) *AuthService {
	s := &AuthService{
		repomanager: m,
		codec:       codec,
		hashParams:  cryptox.DefaultParams,
		log:         logging.Nop{},
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates a user. The first user ever registered becomes an
// admin; everyone after gets the lowest role.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	u, err := s.createUser(ctx, in, func(existing int64) roles.Role {
		if existing == 0 {
			return roles.Highest
		}
		return roles.Lowest
	})
	if err != nil {
		return nil, s.mapError(ctx, "register", err)
	}
	s.log.Info(ctx, "user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// CreateUserWithRole registers a user with a fixed role, bypassing the
// first-user rule. It backs the admin bootstrap command.
func (s *AuthService) CreateUserWithRole(ctx context.Context, in RegisterInput, role roles.Role) (*models.User, error) {
	if !role.Valid() {
		v := common.NewValidationError()
		v.Add("role", "unknown role")
		return nil, v
	}
	u, err := s.createUser(ctx, in, func(int64) roles.Role { return role })
	if err != nil {
		return nil, s.mapError(ctx, "create user", err)
	}
	return u, nil
}

func (s *AuthService) createUser(ctx context.Context, in RegisterInput, roleFor func(existing int64) roles.Role) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	email := models.NormalizeEmail(in.Email)

	v := common.NewValidationError()
	models.ValidateUserName(v, username)
	models.ValidateEmail(v, email)
	models.ValidatePassword(v, in.Password)
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	// hashing is slow; keep it out of the transaction
	hash, err := cryptox.HashPassword([]byte(in.Password), s.hashParams)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *models.User
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		if err := users.LockRegistrations(ctx); err != nil {
			return err
		}
		n, err := users.Count(ctx)
		if err != nil {
			return err
		}

		u, err := models.NewUser(username, email, hash, roleFor(n))
		if err != nil {
			return err
		}
		created, err = users.Create(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Login checks credentials and opens a new session. Unknown email and wrong
// password are indistinguishable to the caller, in result and in timing.
func (s *AuthService) Login(ctx context.Context, email, password string, device models.Device) (*Session, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		v := common.NewValidationError()
		if email == "" {
			v.Add("email", "is required")
		}
		if password == "" {
			v.Add("password", "is required")
		}
		return nil, v
	}

	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.burnHash(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.mapError(ctx, "login: lookup", err)
	}

	ok, err := cryptox.VerifyPassword([]byte(password), user.PasswordHash)
	if err != nil {
		return nil, s.mapError(ctx, "login: verify", err)
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	now := s.now()
	var pair *TokenPair
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdateLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		var err error
		pair, err = s.mintPair(ctx, tx, identityOf(user), device)
		return err
	})
	if err != nil {
		return nil, s.mapError(ctx, "login", err)
	}

	user.LastLogin = &now
	s.log.Info(ctx, "user logged in", "user_id", user.ID)
	return &Session{TokenPair: *pair, User: user}, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is consumed: of two concurrent calls with the same token exactly one
// succeeds and the other gets common.ErrRevokedToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device models.Device) (*TokenPair, error) {
	claims, err := s.codec.Verify(refreshToken, auth.Refresh)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	now := s.now()
	var pair *TokenPair
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		ledger := s.repomanager.RefreshTokens(tx)

		rec, err := ledger.FindActive(ctx, refreshToken, claims.UserID)
		if err != nil {
			return revokedIfNotFound(err)
		}
		if !rec.IsActive(now) {
			return common.ErrRevokedToken
		}
		if err := ledger.Consume(ctx, refreshToken, claims.UserID); err != nil {
			return revokedIfNotFound(err)
		}

		// reload so role or email changes apply from this rotation on
		user, err := s.repomanager.Users(tx).GetUserByID(ctx, claims.UserID)
		if err != nil {
			return revokedIfNotFound(err)
		}

		if device == (models.Device{}) {
			device = rec.Device
		}
		pair, err = s.mintPair(ctx, tx, identityOf(user), device)
		return err
	})
	if err != nil {
		return nil, s.mapError(ctx, "refresh", err)
	}
	return pair, nil
}

// Logout revokes refreshToken. It never fails: an unknown, revoked or
// malformed token is already logged out, and storage errors are only logged.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if _, err := s.codec.Verify(refreshToken, auth.Refresh); err != nil {
		return nil
	}

	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.RefreshTokens(tx).Revoke(ctx, refreshToken)
	})
	if err != nil {
		s.log.Warn(ctx, "logout: revoke failed", "error", err)
	}
	return nil
}

// LogoutAll revokes every session of userID and returns how many there were.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return 0, s.mapError(ctx, "logout all", err)
	}
	s.log.Info(ctx, "all sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

// GetUserFromToken resolves an access token to its user. A valid token whose
// user no longer exists yields (nil, nil).
func (s *AuthService) GetUserFromToken(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.codec.Verify(accessToken, auth.Access)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, s.mapError(ctx, "get user from token", err)
	}
	return user, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.mapError(ctx, "get user", err)
	}
	return user, nil
}

// UpdateProfile changes username and/or email. The role is not settable here.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*models.User, error) {
	var updated *models.User
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		cur, err := users.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}

		username, email := cur.UserName, cur.Email
		v := common.NewValidationError()
		if in.Username != nil {
			username = strings.TrimSpace(*in.Username)
			models.ValidateUserName(v, username)
		}
		if in.Email != nil {
			email = models.NormalizeEmail(*in.Email)
			models.ValidateEmail(v, email)
		}
		if err := v.OrNil(); err != nil {
			return err
		}

		updated, err = users.UpdateProfile(ctx, userID, username, email)
		return err
	})
	if err != nil {
		return nil, s.mapError(ctx, "update profile", err)
	}
	return updated, nil
}

// ListSessions returns the live sessions of userID, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	recs, err := s.repomanager.RefreshTokens(s.repomanager.Conn()).ListActiveForUser(ctx, userID, s.now())
	if err != nil {
		return nil, s.mapError(ctx, "list sessions", err)
	}
	out := make([]models.Session, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Session())
	}
	return out, nil
}

// SetRole changes the role of userID. Live access tokens keep the old role
// until they expire; the next refresh picks up the new one.
func (s *AuthService) SetRole(ctx context.Context, userID string, role roles.Role) error {
	if !role.Valid() {
		v := common.NewValidationError()
		v.Add("role", "unknown role")
		return v
	}
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Users(tx).SetRole(ctx, userID, role)
	})
	if err != nil {
		return s.mapError(ctx, "set role", err)
	}
	s.log.Info(ctx, "role changed", "user_id", userID, "role", role)
	return nil
}

// SetRoleByEmail is SetRole for callers that only know the address.
func (s *AuthService) SetRoleByEmail(ctx context.Context, email string, role roles.Role) (*models.User, error) {
	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, s.mapError(ctx, "set role by email", err)
	}
	if err := s.SetRole(ctx, user.ID, role); err != nil {
		return nil, err
	}
	user.Role = role
	return user, nil
}

// PurgeExpiredSessions deletes ledger rows that can no longer be used.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = s.repomanager.RefreshTokens(tx).DeleteExpired(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, s.mapError(ctx, "purge sessions", err)
	}
	return n, nil
}

// --- helpers below ---

func identityOf(u *models.User) auth.Identity {
	return auth.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func (s *AuthService) mintPair(ctx context.Context, tx dbx.DBTX, id auth.Identity, device models.Device) (*TokenPair, error) {
	ledger := s.repomanager.RefreshTokens(tx)

	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		access, accessExp, err := s.codec.Issue(id, auth.Access)
		if err != nil {
			return nil, fmt.Errorf("issue access token: %w", err)
		}
		refresh, refreshExp, err := s.codec.Issue(id, auth.Refresh)
		if err != nil {
			return nil, fmt.Errorf("issue refresh token: %w", err)
		}

		rec, err := models.NewRefreshToken(refresh, id.UserID, refreshExp, device)
		if err != nil {
			return nil, err
		}
		err = ledger.Create(ctx, rec)
		if errors.Is(err, common.ErrDuplicateToken) {
			s.log.Warn(ctx, "refresh token collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		return &TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refresh,
			RefreshExpiresAt: refreshExp,
		}, nil
	}
	return nil, fmt.Errorf("mint refresh token: %w after %d attempts", common.ErrDuplicateToken, maxMintAttempts)
}

// burnHash spends the same work as a real verification so a missing account
// cannot be told apart by response time.
func (s *AuthService) burnHash(password string) {
	s.dummyOnce.Do(func() {
		h, err := cryptox.HashPassword(common.GenerateRandByteArray(16), s.hashParams)
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_, _ = cryptox.VerifyPassword([]byte(password), s.dummyHash)
	}
}

func revokedIfNotFound(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrRevokedToken
	}
	return err
}

// mapError lets the domain sentinels through and hides everything else.
func (s *AuthService) mapError(ctx context.Context, op string, err error) error {
	for _, known := range []error{
		common.ErrValidation,
		common.ErrInvalidCredentials,
		common.ErrInvalidToken,
		common.ErrRevokedToken,
		common.ErrConflict,
		common.ErrorNotFound,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	s.log.Error(ctx, op+" failed", "error", err)
	return common.ErrorInternal
}
