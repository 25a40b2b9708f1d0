// Package common defines sentinel errors and small helpers shared by every
// layer of the service. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound     = errors.New("not found")
	ErrDuplicateToken = errors.New("duplicate refresh token")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
	ErrConflict   = errors.New("already exists")
	ErrValidation = errors.New("validation error")

	// Auth errors. ErrInvalidCredentials is returned both for an unknown
	// account and for a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRevokedToken       = errors.New("refresh token revoked")
)
