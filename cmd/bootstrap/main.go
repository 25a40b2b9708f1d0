// Command bootstrap provisions the first admin account against the
// configured database, or promotes an existing account to admin.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/feedauth/internal/logging"
	"github.com/dmitrijs2005/feedauth/internal/server"
	"github.com/dmitrijs2005/feedauth/internal/server/bootstrap"
	"github.com/dmitrijs2005/feedauth/internal/server/config"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Printf("bootstrap failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.LoadConfig()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage == config.StorageMemory {
		return errors.New("bootstrap needs persistent storage; set STORAGE=postgres")
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)

	m, err := server.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	svc, _, err := server.NewAuthService(cfg, m, logger)
	if err != nil {
		return err
	}

	_, err = bootstrap.Run(ctx, svc, os.Stdin, os.Stdout)
	return err
}
