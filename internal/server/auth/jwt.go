// Package auth signs and verifies the bearer tokens of a session.
//
// Access and refresh tokens share one claims shape but are signed with two
// distinct HMAC secrets, so a leaked token of one kind cannot be used to
// mint or pass as the other.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind selects the token class and therefore the secret and lifetime.
type Kind int

const (
	Access Kind = iota
	Refresh
)

func (k Kind) String() string {
	if k == Refresh {
		return "refresh"
	}
	return "access"
}

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Identity is what a token asserts about its bearer.
type Identity struct {
	UserID string     `json:"userId"`
	Email  string     `json:"email"`
	Role   roles.Role `json:"role"`
}

// Claims are the signed contents of a token. ID (jti) is random per token.
type Claims struct {
	jwt.RegisteredClaims
	Identity
}

// Codec issues and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type Option func(*Codec)

func WithTTL(access, refresh time.Duration) Option {
	return func(c *Codec) {
		if access > 0 {
			c.accessTTL = access
		}
		if refresh > 0 {
			c.refreshTTL = refresh
		}
	}
}

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(accessSecret, refreshSecret string, opts ...Option) (*Codec, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh token secrets must differ")
	}

	c := &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) IssueAccessToken(id Identity) (string, error) {
	token, _, err := c.Issue(id, Access)
	return token, err
}

func (c *Codec) IssueRefreshToken(id Identity) (string, error) {
	token, _, err := c.Issue(id, Refresh)
	return token, err
}

// Issue signs a token of kind for id and returns it with its expiry instant.
func (c *Codec) Issue(id Identity, kind Kind) (string, time.Time, error) {
	secret, ttl := c.keyFor(kind)
	now := c.now().Truncate(jwt.TimePrecision)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Identity: id,
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses token as kind. Every failure (bad shape, foreign algorithm,
// wrong signature, expiry) is reported as common.ErrInvalidToken.
func (c *Codec) Verify(tokenString string, kind Kind) (*Claims, error) {
	secret, _ := c.keyFor(kind)
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

func (c *Codec) keyFor(kind Kind) ([]byte, time.Duration) {
	if kind == Refresh {
		return c.refreshSecret, c.refreshTTL
	}
	return c.accessSecret, c.accessTTL
}
