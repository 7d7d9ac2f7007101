package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENTERPRISE_ACCESS_"

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "config.yaml"

// Config is the process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Lock      LockConfig      `yaml:"lock" envPrefix:"LOCK_"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	JWT       JWTConfig       `yaml:"jwt" envPrefix:"JWT_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the primary database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// RedisConfig configures the shared lock store. An empty Addr selects the
// in-process store, which only serializes a single instance.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// LockConfig configures policy locks.
type LockConfig struct {
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// UpstreamConfig configures one external service.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base-url" env:"URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// UpstreamsConfig groups the external services.
type UpstreamsConfig struct {
	Ledger  UpstreamConfig `yaml:"ledger" envPrefix:"LEDGER_"`
	Catalog UpstreamConfig `yaml:"catalog" envPrefix:"CATALOG_"`
	LMS     UpstreamConfig `yaml:"lms" envPrefix:"LMS_"`
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	Secret string `yaml:"secret" env:"SECRET"`
}

// LoggingConfig configures logrus output and rotation.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max-size-mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max-backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max-age-days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// ResolveConfigPath returns the explicit path, the ENTERPRISE_ACCESS_CONFIG
// override, or DefaultConfigPath, in that order.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if fromEnv := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); fromEnv != "" {
		return fromEnv
	}
	return DefaultConfigPath
}

// Load reads the YAML file at path, applies environment overrides and defaults,
// and validates the result. A missing file is allowed when the environment
// supplies the required values.
func Load(path string) (Config, error) {
	var cfg Config
	raw, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(raw, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	if errEnv := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); errEnv != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", errEnv)
	}
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = 300 * time.Second
	}
	for _, upstream := range []*UpstreamConfig{&c.Upstreams.Ledger, &c.Upstreams.Catalog, &c.Upstreams.LMS} {
		if upstream.Timeout <= 0 {
			upstream.Timeout = 10 * time.Second
		}
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 14
	}
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Database.DSN) == "" {
		missing = append(missing, "database.dsn")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		missing = append(missing, "jwt.secret")
	}
	if strings.TrimSpace(c.Upstreams.Ledger.BaseURL) == "" {
		missing = append(missing, "upstreams.ledger.base-url")
	}
	if strings.TrimSpace(c.Upstreams.Catalog.BaseURL) == "" {
		missing = append(missing, "upstreams.catalog.base-url")
	}
	if strings.TrimSpace(c.Upstreams.LMS.BaseURL) == "" {
		missing = append(missing, "upstreams.lms.base-url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadDatabaseDSN returns only the database DSN, for commands that do not
// need the full service configuration.
func LoadDatabaseDSN(path string) (string, error) {
	var cfg Config
	raw, errRead := os.ReadFile(path)
	if errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
		return "", fmt.Errorf("config: read %s: %w", path, errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(raw, &cfg); errUnmarshal != nil {
			return "", fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	}
	if errEnv := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); errEnv != nil {
		return "", fmt.Errorf("config: parse env: %w", errEnv)
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return "", errors.New("config: database.dsn is required")
	}
	return dsn, nil
}

// AppConfig carries command-line inputs shared by every command.
type AppConfig struct {
	ConfigPath string
}
