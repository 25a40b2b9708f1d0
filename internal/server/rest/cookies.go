package rest

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/server/services"
	"github.com/gin-gonic/gin"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"

	// RefreshCookiePath scopes the refresh cookie so browsers only send it
	// to the rotation endpoint and what lies below it.
	RefreshCookiePath = "/auth/refresh"
)

// cookieJar writes the auth cookies. Both are httpOnly and SameSite=Strict;
// Secure is set outside development.
type cookieJar struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (j cookieJar) setTokens(c *gin.Context, pair *services.TokenPair) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessCookie, pair.AccessToken, int(j.accessTTL.Seconds()), "/", "", j.secure, true)
	c.SetCookie(RefreshCookie, pair.RefreshToken, int(j.refreshTTL.Seconds()), RefreshCookiePath, "", j.secure, true)
}

func (j cookieJar) clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessCookie, "", -1, "/", "", j.secure, true)
	c.SetCookie(RefreshCookie, "", -1, RefreshCookiePath, "", j.secure, true)
}
