package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/dmitrijs2005/feedauth/internal/server/auth"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/gin-gonic/gin"
)

// Headers the gate sets on admitted requests for downstream handlers.
// Client-supplied values are always stripped first.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

const identityKey = "identity"

type ctxKey struct{}

// TokenVerifier is the part of the token codec the gate needs.
type TokenVerifier interface {
	Verify(token string, kind auth.Kind) (*auth.Claims, error)
}

// Gate decides, before any handler runs, whether a request may proceed.
//
// Public paths pass untouched and never cost a verification. Protected
// paths need a valid access token cookie and, when the policy names one, a
// sufficient role. Page requests that fail are redirected; API requests get
// a JSON error.
type Gate struct {
	policy           *roles.Policy
	verifier         TokenVerifier
	loginPath        string
	unauthorizedPath string
	logger           logging.Logger
}

func NewGate(policy *roles.Policy, verifier TokenVerifier, loginPath string, l logging.Logger) *Gate {
	return &Gate{
		policy:           policy,
		verifier:         verifier,
		loginPath:        loginPath,
		unauthorizedPath: "/unauthorized",
		logger:           l.With("module", "gate"),
	}
}

func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Request.Header
		h.Del(HeaderUserID)
		h.Del(HeaderUserRole)
		h.Del(HeaderUserEmail)

		path := c.Request.URL.Path
		if g.policy.IsPublic(path) {
			c.Next()
			return
		}

		token, err := c.Cookie(AccessCookie)
		if err != nil || token == "" {
			g.toLogin(c, codeMissingToken)
			return
		}

		claims, err := g.verifier.Verify(token, auth.Access)
		if err != nil {
			g.toLogin(c, codeSessionExpired)
			return
		}

		if need, ok := g.policy.RequiredRoleFor(path); ok && !roles.Allows(claims.Role, need) {
			g.logger.Info(c.Request.Context(), "access denied",
				"path", path, "user_id", claims.UserID, "role", claims.Role, "required", need)
			g.forbid(c)
			return
		}

		id := claims.Identity
		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, id))
		h.Set(HeaderUserID, id.UserID)
		h.Set(HeaderUserRole, id.Role.String())
		h.Set(HeaderUserEmail, id.Email)

		c.Next()
	}
}

func isAPI(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/")
}

// toLogin sends the client to the login surface. reason is codeMissingToken
// for an absent cookie or codeSessionExpired for one that failed to verify.
func (g *Gate) toLogin(c *gin.Context, reason string) {
	if isAPI(c.Request.URL.Path) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: reason, Message: "Authentication required."})
		return
	}

	c.Redirect(http.StatusFound, g.loginTarget(reason))
	c.Abort()
}

// loginTarget merges the reason into whatever query loginPath already has.
func (g *Gate) loginTarget(reason string) string {
	if reason != codeSessionExpired {
		return g.loginPath
	}
	u, err := url.Parse(g.loginPath)
	if err != nil {
		return g.loginPath
	}
	q := u.Query()
	q.Set("error", codeSessionExpired)
	u.RawQuery = q.Encode()
	return u.String()
}

func (g *Gate) forbid(c *gin.Context) {
	if isAPI(c.Request.URL.Path) {
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: codeForbidden, Message: "You don't have permission to access this resource."})
		return
	}
	c.Redirect(http.StatusFound, g.unauthorizedPath)
	c.Abort()
}

// IdentityFrom returns the identity the gate attached to ctx.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(auth.Identity)
	return id, ok
}

func identityOf(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
