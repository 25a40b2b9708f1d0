// Package models defines the records persisted by the credential store and
// the refresh-token ledger.
package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{2,20}$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

type User struct {
	ID           string
	UserName     string
	Email        string
	PasswordHash string
	Role         roles.Role
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the client-facing view of a User. It has no password field.
type PublicUser struct {
	ID        string     `json:"id"`
	UserName  string     `json:"username"`
	Email     string     `json:"email"`
	Role      roles.Role `json:"role"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		UserName:  u.UserName,
		Email:     u.Email,
		Role:      u.Role,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidUserName reports whether username has the allowed shape.
func IsValidUserName(username string) bool {
	return usernameRe.MatchString(username)
}

// ValidateUserName checks the username shape into v.
func ValidateUserName(v *common.ValidationError, username string) {
	if !IsValidUserName(username) {
		v.Add("username", "must be 2-20 letters, digits or underscores")
	}
}

// ValidateEmail checks an already normalized address into v.
func ValidateEmail(v *common.ValidationError, email string) {
	if email == "" || !emailRe.MatchString(email) {
		v.Add("email", "must be a valid email address")
	}
}

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// ValidatePassword checks a plaintext password into v. Only length is
// enforced.
func ValidatePassword(v *common.ValidationError, password string) {
	if n := len(password); n < minPasswordLen || n > maxPasswordLen {
		v.Add("password", "must be 8-128 characters")
	}
}

// NewUser builds a User ready for insertion. The email is normalized; the
// hash must already be computed.
func NewUser(username, email, passwordHash string, role roles.Role) (*User, error) {
	username = strings.TrimSpace(username)
	email = NormalizeEmail(email)

	v := common.NewValidationError()
	ValidateUserName(v, username)
	ValidateEmail(v, email)
	if passwordHash == "" {
		v.Add("password", "hash is required")
	}
	if !role.Valid() {
		v.Add("role", "unknown role")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	return &User{
		UserName:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
	}, nil
}
