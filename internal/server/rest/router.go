package rest

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the engine. The gate is installed globally so it also
// guards paths no route matches. Forwarding headers are honored only from
// trustedProxies; with none, ClientIP is the socket peer.
func NewRouter(h *Handler, g *Gate, l logging.Logger, trustedProxies []string) (*gin.Engine, error) {
	if err := registerValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), requestLogger(l), g.Middleware())

	r.GET("/healthz", h.Health)

	a := r.Group("/auth")
	a.POST("/register", h.Register)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/refresh/logout", h.Logout)
	a.POST("/logout", h.Logout)
	a.GET("/me", h.Me)
	a.POST("/logout-all", h.LogoutAll)

	api := r.Group("/api")
	api.GET("/user/profile", h.Profile)
	api.PATCH("/user/profile", h.UpdateProfile)
	api.GET("/user/sessions", h.Sessions)
	api.POST("/admin/users/:id/revoke-sessions", h.RevokeUserSessions)
	api.PUT("/admin/users/:id/role", h.SetUserRole)

	return r, nil
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(l logging.Logger) gin.HandlerFunc {
	l = l.With("module", "http")
	return func(c *gin.Context) {
		start := time.Now()

		id, err := common.MakeRandHexString(8)
		if err == nil {
			c.Header("X-Request-Id", id)
		}

		c.Next()

		status := c.Writer.Status()
		args := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if status >= 500 {
			l.Error(c.Request.Context(), "request failed", args...)
			return
		}
		l.Info(c.Request.Context(), "request", args...)
	}
}
