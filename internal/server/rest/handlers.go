package rest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/dmitrijs2005/feedauth/internal/server/services"
	"github.com/gin-gonic/gin"
)

// AuthService is what the handlers need from services.AuthService.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string, device models.Device) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string, device models.Device) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	GetUserFromToken(ctx context.Context, accessToken string) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, in services.ProfileInput) (*models.User, error)
	ListSessions(ctx context.Context, userID string) ([]models.Session, error)
	SetRole(ctx context.Context, userID string, role roles.Role) error
}

type Handler struct {
	auth    AuthService
	cookies cookieJar
	logger  logging.Logger
}

func NewHandler(a AuthService, cookies CookieOptions, l logging.Logger) *Handler {
	return &Handler{
		auth:    a,
		cookies: cookieJar{secure: cookies.Secure, accessTTL: cookies.AccessTTL, refreshTTL: cookies.RefreshTTL},
		logger:  l.With("module", "rest"),
	}
}

// CookieOptions configures the auth cookies written by the handlers.
type CookieOptions struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type registerRequest struct {
	Username string `json:"username" binding:"required,username"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type profileRequest struct {
	Username *string `json:"username" binding:"omitempty,username"`
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required,oneof=user editor admin"`
}

// deviceOf fingerprints the client. X-Real-IP is set by the reverse proxy
// and is used only when it holds an address.
func deviceOf(c *gin.Context) models.Device {
	ip := c.ClientIP()
	if parsed := net.ParseIP(strings.TrimSpace(c.GetHeader("X-Real-IP"))); parsed != nil {
		ip = parsed.String()
	}
	return models.Device{UserAgent: c.Request.UserAgent(), IPAddress: ip}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.auth.Register(c.Request.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, deviceOf(c))
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.setTokens(c, &session.TokenPair)
	c.JSON(http.StatusOK, gin.H{"user": session.User.Public(), "message": "Login successful"})
}

func (h *Handler) Refresh(c *gin.Context) {
	token, err := c.Cookie(RefreshCookie)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, errorBody{Error: codeMissingToken, Message: "No session to refresh."})
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), token, deviceOf(c))
	if err != nil {
		h.logger.Debug(c.Request.Context(), "refresh rejected", "error", err)
		h.cookies.clear(c)
		writeError(c, err)
		return
	}

	h.cookies.setTokens(c, pair)
	c.JSON(http.StatusOK, gin.H{"message": "Token refreshed"})
}

// Logout always succeeds and always clears the cookies.
func (h *Handler) Logout(c *gin.Context) {
	if token, err := c.Cookie(RefreshCookie); err == nil && token != "" {
		_ = h.auth.Logout(c.Request.Context(), token)
	}
	h.cookies.clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) Me(c *gin.Context) {
	token, err := c.Cookie(AccessCookie)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, errorBody{Error: codeMissingToken, Message: "Authentication required."})
		return
	}

	user, err := h.auth.GetUserFromToken(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	if user == nil {
		writeError(c, common.ErrorNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

func (h *Handler) LogoutAll(c *gin.Context) {
	id, ok := identityOf(c)
	if !ok {
		writeError(c, common.ErrInvalidToken)
		return
	}

	n, err := h.auth.LogoutAll(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.clear(c)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *Handler) Profile(c *gin.Context) {
	id, ok := identityOf(c)
	if !ok {
		writeError(c, common.ErrInvalidToken)
		return
	}

	user, err := h.auth.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	id, ok := identityOf(c)
	if !ok {
		writeError(c, common.ErrInvalidToken)
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.auth.UpdateProfile(c.Request.Context(), id.UserID, services.ProfileInput{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

func (h *Handler) Sessions(c *gin.Context) {
	id, ok := identityOf(c)
	if !ok {
		writeError(c, common.ErrInvalidToken)
		return
	}

	sessions, err := h.auth.ListSessions(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) RevokeUserSessions(c *gin.Context) {
	n, err := h.auth.LogoutAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *Handler) SetUserRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	userID := c.Param("id")
	if err := h.auth.SetRole(c.Request.Context(), userID, roles.Role(req.Role)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": userID, "role": req.Role})
}
