package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"

	devSecretKey = "dev-secret-key-change-me"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	DBPath string `env:"DB_PATH" envDefault:"ledger.db"`

	SecretKey       string        `env:"SECRET_KEY"`
	SecureCookie    bool          `env:"SECURE_COOKIE" envDefault:"false"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"168h"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	MaxContentLength int64 `env:"MAX_CONTENT_LENGTH" envDefault:"16777216"`
	ItemsPerPage     int   `env:"ITEMS_PER_PAGE" envDefault:"10"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`
	LogFile  LogFile

	RateLimit RateLimit
	AMQP      AMQP
	Admin     Admin

	TemplateDir string `env:"TEMPLATE_DIR" envDefault:"web/templates"`
	StaticDir   string `env:"STATIC_DIR" envDefault:"web/static"`
}

type RateLimit struct {
	PerMinute      int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	RedisAddr      string   `env:"REDIS_ADDR"`
	RedisPassword  string   `env:"REDIS_PASSWORD"`
	RedisDB        int      `env:"REDIS_DB" envDefault:"0"`
}

// LogFile, when Path is set, receives a copy of the log rotated by size.
type LogFile struct {
	Path       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_FILE_MAX_MB" envDefault:"10"`
	MaxBackups int    `env:"LOG_FILE_BACKUPS" envDefault:"10"`
}

type AMQP struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"ledger"`
}

type Admin struct {
	Username string `env:"ADMIN_USER"`
	Password string `env:"ADMIN_PASSWORD"`
	Email    string `env:"ADMIN_EMAIL"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.SecretKey == "" && cfg.Env != EnvProduction {
		cfg.SecretKey = devSecretKey
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Env {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		problems = append(problems, fmt.Sprintf("APP_ENV %q must be one of development, testing, production", c.Env))
	}

	var port int
	if _, err := fmt.Sscanf(c.Port, "%d", &port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid PORT %q: must be a number between 1 and 65535", c.Port))
	}

	if c.DBPath == "" {
		problems = append(problems, "DB_PATH is required")
	}
	if c.SecretKey == "" {
		problems = append(problems, "SECRET_KEY is required in production")
	} else if c.IsProduction() && c.SecretKey == devSecretKey {
		problems = append(problems, "SECRET_KEY must be changed in production")
	}
	if c.SessionLifetime <= 0 {
		problems = append(problems, "SESSION_LIFETIME must be positive")
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "TOKEN_TTL must be positive")
	}
	if c.MaxContentLength <= 0 {
		problems = append(problems, "MAX_CONTENT_LENGTH must be positive")
	}
	if c.ItemsPerPage < 1 {
		problems = append(problems, "ITEMS_PER_PAGE must be at least 1")
	}
	if c.LogFile.Path != "" && (c.LogFile.MaxSizeMB < 1 || c.LogFile.MaxBackups < 0) {
		problems = append(problems, "LOG_FILE_MAX_MB must be at least 1 and LOG_FILE_BACKUPS must not be negative")
	}
	if c.RateLimit.PerMinute < 0 {
		problems = append(problems, "RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		problems = append(problems, "ADMIN_USER and ADMIN_PASSWORD must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
