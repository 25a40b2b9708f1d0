package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/feedauth/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-d string     PostgreSQL DSN
//	-m string     storage backend: postgres | memory
//	-t duration   access token lifetime (e.g., "15m")
//	-r duration   refresh token lifetime (e.g., "168h")
//	-l string     log level: debug | info | warn | error
//	-e string     environment: development | production
//
// Secrets are read only from the JSON file or the environment.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-m", "-t", "-r", "-l", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.Storage, "m", config.Storage, "storage backend (postgres|memory)")
	fs.DurationVar(&config.AccessTokenTTL, "t", config.AccessTokenTTL, "access token lifetime")
	fs.DurationVar(&config.RefreshTokenTTL, "r", config.RefreshTokenTTL, "refresh token lifetime")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.Env, "e", config.Env, "environment (development|production)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
