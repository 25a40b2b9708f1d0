package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/feedauth/internal/flagx"
	"github.com/dmitrijs2005/feedauth/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted. Only
// keys present in the file override the current values.
type JsonConfig struct {
	HTTPAddr           *string         `json:"http_addr"`
	Storage            *string         `json:"storage"`
	DatabaseDSN        *string         `json:"database_dsn"`
	AccessTokenSecret  *string         `json:"access_token_secret"`
	RefreshTokenSecret *string         `json:"refresh_token_secret"`
	AccessTokenTTL     *timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL    *timex.Duration `json:"refresh_token_ttl"`
	Env                *string         `json:"env"`
	LoginPath          *string         `json:"login_path"`
	LogLevel           *string         `json:"log_level"`
	JanitorInterval    *timex.Duration `json:"janitor_interval"`
	Argon2             *argon2JSON     `json:"argon2"`
	TrustedProxies     []string        `json:"trusted_proxies"`
}

type argon2JSON struct {
	Memory      uint32 `json:"memory_kib"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// parseJson loads the file named by -c / -config, if any, over config.
// An unreadable file or invalid JSON panics: the process cannot start
// with a configuration it was explicitly told to use.
func parseJson(config *Config) {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.Storage, c.Storage)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.AccessTokenSecret, c.AccessTokenSecret)
	setString(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	setString(&config.Env, c.Env)
	setString(&config.LoginPath, c.LoginPath)
	setString(&config.LogLevel, c.LogLevel)

	if c.AccessTokenTTL != nil {
		config.AccessTokenTTL = c.AccessTokenTTL.Duration
	}
	if c.RefreshTokenTTL != nil {
		config.RefreshTokenTTL = c.RefreshTokenTTL.Duration
	}
	if c.JanitorInterval != nil {
		config.JanitorInterval = c.JanitorInterval.Duration
	}
	if c.TrustedProxies != nil {
		config.TrustedProxies = c.TrustedProxies
	}
	if c.Argon2 != nil {
		if c.Argon2.Memory != 0 {
			config.Argon2.Memory = c.Argon2.Memory
		}
		if c.Argon2.Iterations != 0 {
			config.Argon2.Iterations = c.Argon2.Iterations
		}
		if c.Argon2.Parallelism != 0 {
			config.Argon2.Parallelism = c.Argon2.Parallelism
		}
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
