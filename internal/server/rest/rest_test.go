package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/cryptox"
	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/dmitrijs2005/feedauth/internal/server/auth"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/dmitrijs2005/feedauth/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testApp struct {
	engine *gin.Engine
	svc    *services.AuthService
	codec  *auth.Codec
	clock  *fakeClock
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewCodec("access-secret", "refresh-secret", auth.WithClock(clock.Now))
	require.NoError(t, err)

	rm := repomanager.NewInMemoryRepositoryManager()
	rm.Store().SetClock(clock.Now)
	svc := services.NewAuthService(rm, codec,
		services.WithClock(clock.Now),
		services.WithHashParams(cryptox.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
	)

	h := NewHandler(svc, CookieOptions{AccessTTL: codec.AccessTTL(), RefreshTTL: codec.RefreshTTL()}, logging.Nop{})
	g := NewGate(roles.DefaultPolicy(), codec, "/login", logging.Nop{})
	engine, err := NewRouter(h, g, logging.Nop{}, nil)
	require.NoError(t, err)

	// a page behind the gate, as the surrounding app would mount it
	engine.GET("/profile", func(c *gin.Context) { c.String(http.StatusOK, "profile page") })
	engine.GET("/admin/dashboard", func(c *gin.Context) { c.String(http.StatusOK, "admin") })

	return &testApp{engine: engine, svc: svc, codec: codec, clock: clock}
}

func (a *testApp) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rest-test")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func (a *testApp) register(t *testing.T, username, email string) map[string]any {
	t.Helper()
	w := a.do(t, http.MethodPost, "/auth/register", gin.H{"username": username, "email": email, "password": "Secret1!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["user"].(map[string]any)
}

func (a *testApp) login(t *testing.T, email string) (access, refresh *http.Cookie) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/auth/login", gin.H{"email": email, "password": "Secret1!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	access, refresh = cookieNamed(w, AccessCookie), cookieNamed(w, RefreshCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	return access, refresh
}

func TestScenario_RegisterLoginMe(t *testing.T) {
	app := newTestApp(t)

	first := app.register(t, "al", "al@x.com")
	assert.Equal(t, "admin", first["role"])
	assert.NotContains(t, first, "password")
	assert.NotContains(t, first, "passwordHash")

	second := app.register(t, "bob", "bob@x.com")
	assert.Equal(t, "user", second["role"])

	access, refresh := app.login(t, "bob@x.com")
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, 900, access.MaxAge)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, RefreshCookiePath, refresh.Path)
	assert.Equal(t, 7*24*3600, refresh.MaxAge)

	w := app.do(t, http.MethodGet, "/auth/me", nil, access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	me := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "bob@x.com", me["email"])
	assert.Equal(t, "bob", me["username"])
	assert.Equal(t, second["id"], me["id"])
}

func TestScenario_ExpiredAccessThenRefresh(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@x.com")
	access, refresh := app.login(t, "alice@x.com")

	app.clock.Advance(16 * time.Minute)

	w := app.do(t, http.MethodGet, "/profile", nil, access)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=session_expired", w.Header().Get("Location"))

	w = app.do(t, http.MethodGet, "/api/user/profile", nil, access)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeSessionExpired, decode(t, w)["error"])

	w = app.do(t, http.MethodPost, "/auth/refresh", nil, refresh)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newAccess := cookieNamed(w, AccessCookie)
	require.NotNil(t, newAccess)
	assert.NotNil(t, cookieNamed(w, RefreshCookie))

	w = app.do(t, http.MethodGet, "/auth/me", nil, newAccess)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/profile", nil, newAccess)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScenario_LogoutThenRefresh(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@x.com")
	_, phone := app.login(t, "alice@x.com")
	_, laptop := app.login(t, "alice@x.com")

	w := app.do(t, http.MethodPost, "/auth/logout", nil, phone)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := cookieNamed(w, RefreshCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, RefreshCookiePath, cleared.Path)
	assert.Less(t, cleared.MaxAge, 0)

	w = app.do(t, http.MethodPost, "/auth/refresh", nil, phone)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeRevokedToken, decode(t, w)["error"])

	w = app.do(t, http.MethodPost, "/auth/refresh", nil, laptop)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshScopedLogout(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@x.com")
	_, refresh := app.login(t, "alice@x.com")

	w := app.do(t, http.MethodPost, "/auth/refresh/logout", nil, refresh)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPost, "/auth/refresh", nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_AlwaysOK(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, cookieNamed(w, AccessCookie))

	w = app.do(t, http.MethodPost, "/auth/logout", nil, &http.Cookie{Name: RefreshCookie, Value: "garbage"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_MissingCookie(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeMissingToken, decode(t, w)["error"])
}

func TestMe_Failures(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodGet, "/auth/me", nil, &http.Cookie{Name: AccessCookie, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeInvalidToken, decode(t, w)["error"])

	ghost, err := app.codec.IssueAccessToken(auth.Identity{UserID: "ghost", Email: "g@x.com", Role: roles.User})
	require.NoError(t, err)
	w = app.do(t, http.MethodGet, "/auth/me", nil, &http.Cookie{Name: AccessCookie, Value: ghost})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegister_Errors(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@x.com")

	w := app.do(t, http.MethodPost, "/auth/register", gin.H{"username": "x", "email": "nope", "password": "short"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, codeValidationFailed, body["error"])
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	w = app.do(t, http.MethodPost, "/auth/register", gin.H{"username": "alice2", "email": "ALICE@x.com", "password": "Secret1!"})
	assert.Equal(t, http.StatusConflict, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	app.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidRequest, decode(t, rec)["error"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@x.com")

	wrong := app.do(t, http.MethodPost, "/auth/login", gin.H{"email": "alice@x.com", "password": "nope-nope"})
	missing := app.do(t, http.MethodPost, "/auth/login", gin.H{"email": "who@x.com", "password": "nope-nope"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, wrong.Body.String(), missing.Body.String())
	assert.Nil(t, cookieNamed(wrong, AccessCookie))
}

func TestProfileAndSessions(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@x.com")
	access, _ := app.login(t, "alice@x.com")
	app.login(t, "alice@x.com")

	w := app.do(t, http.MethodGet, "/api/user/profile", nil, access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["user"].(map[string]any)["username"])

	w = app.do(t, http.MethodPatch, "/api/user/profile", gin.H{"username": "alice_b"}, access)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice_b", decode(t, w)["user"].(map[string]any)["username"])

	w = app.do(t, http.MethodPatch, "/api/user/profile", gin.H{"username": "no spaces allowed"}, access)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/user/sessions", nil, access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sessions"], 2)

	w = app.do(t, http.MethodPost, "/auth/logout-all", nil, access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["revoked"])
}

func TestAdminRoutes(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "root", "root@x.com")
	bob := app.register(t, "bob", "bob@x.com")
	adminAccess, _ := app.login(t, "root@x.com")
	bobAccess, bobRefresh := app.login(t, "bob@x.com")

	path := "/api/admin/users/" + bob["id"].(string)

	w := app.do(t, http.MethodPut, path+"/role", gin.H{"role": "editor"}, bobAccess)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeForbidden, decode(t, w)["error"])

	w = app.do(t, http.MethodPut, path+"/role", gin.H{"role": "emperor"}, adminAccess)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPut, path+"/role", gin.H{"role": "editor"}, adminAccess)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(t, http.MethodPut, "/api/admin/users/missing/role", gin.H{"role": "editor"}, adminAccess)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodPost, path+"/revoke-sessions", nil, adminAccess)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["revoked"])

	w = app.do(t, http.MethodPost, "/auth/refresh", nil, bobRefresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// page paths redirect instead
	w = app.do(t, http.MethodGet, "/admin/dashboard", nil, bobAccess)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/unauthorized", w.Header().Get("Location"))

	w = app.do(t, http.MethodGet, "/admin/dashboard", nil, adminAccess)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	app := newTestApp(t)
	srv := NewHTTPServer("127.0.0.1:0", logging.Nop{}, app.engine)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
