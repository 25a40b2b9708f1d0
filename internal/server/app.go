// Package server wires configuration, storage, the auth service and the HTTP
// transport together and runs them until the process is told to stop.
package server

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/dmitrijs2005/feedauth/internal/server/auth"
	"github.com/dmitrijs2005/feedauth/internal/server/config"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedauth/internal/server/rest"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/dmitrijs2005/feedauth/internal/server/services"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	authService *services.AuthService
	httpServer  *rest.HTTPServer
}

// OpenStorage returns the repository manager selected by c, with the
// schema migrated.
func OpenStorage(ctx context.Context, c *config.Config, l logging.Logger) (repomanager.RepositoryManager, error) {
	if c.Storage == config.StorageMemory {
		l.Warn(ctx, "using in-memory storage; all data is lost on exit")
		return repomanager.NewInMemoryRepositoryManager(), nil
	}

	m, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := m.RunMigrations(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return m, nil
}

// NewAuthService builds the codec and service for c over m.
func NewAuthService(c *config.Config, m repomanager.RepositoryManager, l logging.Logger) (*services.AuthService, *auth.Codec, error) {
	codec, err := auth.NewCodec(c.AccessTokenSecret, c.RefreshTokenSecret, auth.WithTTL(c.AccessTokenTTL, c.RefreshTokenTTL))
	if err != nil {
		return nil, nil, fmt.Errorf("token codec: %w", err)
	}
	svc := services.NewAuthService(m, codec,
		services.WithLogger(l.With("module", "auth_service")),
		services.WithHashParams(c.Argon2),
	)
	return svc, codec, nil
}

func NewApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	logger := logging.New(logOut, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.UsesDefaultSecrets() {
		logger.Warn(ctx, "token secrets are the built-in defaults; set ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET")
	}

	m, err := OpenStorage(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	svc, codec, err := NewAuthService(c, m, logger)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	if c.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	h := rest.NewHandler(svc, rest.CookieOptions{
		Secure:     c.SecureCookies(),
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	}, logger)
	gate := rest.NewGate(roles.DefaultPolicy(), codec, c.LoginPath, logger)

	engine, err := rest.NewRouter(h, gate, logger, c.TrustedProxies)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	return &App{
		config:      c,
		logger:      logger,
		repomanager: m,
		authService: svc,
		httpServer:  rest.NewHTTPServer(c.HTTPAddr, logger, engine),
	}, nil
}

// runJanitor purges dead refresh tokens every interval until ctx ends.
func (app *App) runJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := app.authService.PurgeExpiredSessions(ctx)
			if err != nil {
				app.logger.Error(ctx, "session purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired sessions purged", "count", n)
			}
		}
	}
}

// Run serves until SIGINT/SIGTERM/SIGQUIT or ctx cancellation, then
// releases storage.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.Storage, "env", app.config.Env)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.httpServer.Run(ctx) })
	g.Go(func() error { return app.runJanitor(ctx, app.config.JanitorInterval) })

	err := g.Wait()

	if cerr := app.repomanager.Close(); cerr != nil {
		app.logger.Error(context.Background(), "closing storage", "error", cerr)
	}
	app.logger.Info(context.Background(), "App stopped")
	return err
}
