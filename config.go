package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

const devJWTSecret = "dev-insecure-secret-change"

// Config holds every setting read from the environment.
type Config struct {
	// --- Database ---
	DBDriver       string `envconfig:"DB_DRIVER" default:"postgres"`
	DBDSN          string `envconfig:"DB_DSN"`
	DBAutoMigrate  bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`

	// --- HTTP / auth ---
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8081"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"2h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`

	// --- Login throttling ---
	LoginMaxAttempts int           `envconfig:"LOGIN_MAX_ATTEMPTS" default:"5"`
	LoginWindow      time.Duration `envconfig:"LOGIN_WINDOW" default:"5m"`

	// --- Logging ---
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// --- Jobs ---
	// Empty disables the nightly reconciliation.
	ReconcileSchedule string `envconfig:"RECONCILE_SCHEDULE" default:"0 2 * * *"`
	Timezone          string `envconfig:"TIMEZONE" default:"Asia/Jakarta"`

	// --- Seed ---
	SeedAdminPassword    string `envconfig:"SEED_ADMIN_PASSWORD" default:"admin123"`
	WalletOpeningBalance int64  `envconfig:"WALLET_OPENING_BALANCE" default:"0"`
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return errors.New("DB_DSN is not set")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.LoginMaxAttempts <= 0 || c.LoginWindow <= 0 {
		return errors.New("LOGIN_MAX_ATTEMPTS and LOGIN_WINDOW must be > 0")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL and REFRESH_TOKEN_TTL must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// loadDotEnv loads ./.env without overriding variables that are already set.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn(".env present but could not be parsed")
	}
}

// loadConfig reads the environment into a Config.
func loadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}
	if c.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using development secret")
		c.JWTSecret = devJWTSecret
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
