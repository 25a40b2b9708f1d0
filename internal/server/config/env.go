package config

import (
	"strings"
	"time"
)

type lookupFunc func(key string) (string, bool)

// parseEnv overlays the variables the deployment sets on config. Invalid
// durations are ignored so a typo never zeroes a lifetime.
func parseEnv(config *Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("HTTP_ADDR", &config.HTTPAddr)
	str("STORAGE", &config.Storage)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("ACCESS_TOKEN_SECRET", &config.AccessTokenSecret)
	str("REFRESH_TOKEN_SECRET", &config.RefreshTokenSecret)
	dur("ACCESS_TOKEN_TTL", &config.AccessTokenTTL)
	dur("REFRESH_TOKEN_TTL", &config.RefreshTokenTTL)
	str("APP_ENV", &config.Env)
	str("LOGIN_PATH", &config.LoginPath)
	str("LOG_LEVEL", &config.LogLevel)

	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		var proxies []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				proxies = append(proxies, p)
			}
		}
		config.TrustedProxies = proxies
	}
}
