package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Device is a best-effort fingerprint of the client that opened a session.
// It is informational only.
type Device struct {
	UserAgent string `json:"userAgent"`
	IPAddress string `json:"ipAddress"`
}

// RefreshToken is one row of the refresh-token ledger.
type RefreshToken struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	Device    Device
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Column limits of refresh_tokens.user_agent and ip_address.
const (
	maxUserAgentLen = 512
	maxIPAddressLen = 64
)

// clip drops invalid UTF-8 from s and cuts it to at most limit bytes
// without splitting a rune.
func clip(s string, limit int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// NewRefreshToken validates the record shape. The device fields are
// sanitized to fit their columns.
func NewRefreshToken(token, userID string, expiresAt time.Time, device Device) (*RefreshToken, error) {
	if token == "" {
		return nil, errors.New("refresh token: empty token")
	}
	if userID == "" {
		return nil, errors.New("refresh token: empty user id")
	}
	if expiresAt.IsZero() {
		return nil, errors.New("refresh token: zero expiry")
	}
	device.UserAgent = clip(device.UserAgent, maxUserAgentLen)
	device.IPAddress = clip(device.IPAddress, maxIPAddressLen)
	return &RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		Device:    device,
	}, nil
}

// IsActive reports whether the record may still be exchanged at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Session is the client-facing view of a live ledger row.
type Session struct {
	ID        string    `json:"id"`
	Device    Device    `json:"device"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t *RefreshToken) Session() Session {
	return Session{ID: t.ID, Device: t.Device, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt}
}
