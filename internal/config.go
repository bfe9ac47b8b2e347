package internal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Client        ClientConfig        `mapstructure:"client"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	BCryptCost           int           `mapstructure:"bcrypt_cost"`
}

type AuthConfig struct {
	// MasterPassword is the login code that provisions the owner account the
	// first time it is used. Empty disables the bootstrap.
	MasterPassword string `mapstructure:"master_password"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ReconcileConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Schedule          string `mapstructure:"schedule"`
	DeleteOrphanRoles bool   `mapstructure:"delete_orphan_roles"`
}

// ClientConfig is read by the client subcommand only.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Defaults are applied before the config file and environment are read.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"http_server.port":                8080,
		"http_server.allowed_origins":     "*",
		"http_server.read_header_timeout": 5 * time.Second,
		"http_server.read_timeout":        15 * time.Second,
		"http_server.write_timeout":       15 * time.Second,
		"http_server.idle_timeout":        60 * time.Second,
		"http_server.shutdown_timeout":    30 * time.Second,
		"database.driver":                 "pgx",
		"database.max_open_conns":         10,
		"database.max_idle_conns":         5,
		"database.conn_max_lifetime":      30 * time.Minute,
		"database.conn_max_idle_time":     5 * time.Minute,
		"security.access_token_duration":  time.Hour,
		"security.refresh_token_duration": 7 * 24 * time.Hour,
		"security.bcrypt_cost":            bcrypt.DefaultCost,
		"observability.metrics.enabled":   true,
		"observability.metrics.path":      "/metrics",
		"observability.logging.level":     "info",
		"observability.logging.format":    "text",
		"reconcile.enabled":               true,
		"reconcile.schedule":              "@every 1h",
		"reconcile.delete_orphan_roles":   true,
		"client.base_url":                 "http://localhost:8080/api/v1",
		"client.timeout":                  10 * time.Second,
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("observability config: %v", err))
	}

	if err := c.Reconcile.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconcile config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	for _, origin := range c.Origins() {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid allowed origin %s", origin)
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// Origins splits AllowedOrigins on commas.
func (c *ServerConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

const minSecretLength = 32

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < minSecretLength {
		return fmt.Errorf("access_token_secret must be at least %d characters", minSecretLength)
	}
	if len(c.RefreshTokenSecret) < minSecretLength {
		return fmt.Errorf("refresh_token_secret must be at least %d characters", minSecretLength)
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("access and refresh token secrets must differ")
	}
	if c.AccessTokenDuration < time.Minute {
		return errors.New("access_token_duration must be at least 1m")
	}
	if c.RefreshTokenDuration < c.AccessTokenDuration {
		return errors.New("refresh_token_duration must be >= access_token_duration")
	}
	if c.BCryptCost < bcrypt.MinCost || c.BCryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func (c *ObservabilityConfig) Validate() error {
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *ReconcileConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	return nil
}
