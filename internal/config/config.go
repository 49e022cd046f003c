// Package config provides configuration loading for the tpoint CLI.
//
// Values come from, in increasing priority: defaults, a YAML config file,
// a .env file, and TPOINT_* environment variables. DATABASE_URL is used
// when no DSN is configured.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TPOINT"

// DefaultSQLiteDSN is used when the sqlite driver is selected without a DSN.
const DefaultSQLiteDSN = "tpoint.db"

// Config holds the application configuration.
type Config struct {
	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Migrations configuration
	Migrations MigrationsConfig `mapstructure:"migrations"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// DatabaseConfig holds the store connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// ConnectAttempts is how many times the store is pinged before giving up.
	ConnectAttempts int `mapstructure:"connect_attempts"`
}

// MigrationsConfig holds where definitions come from and where they are recorded.
type MigrationsConfig struct {
	// Dir is a directory of definition files; empty uses the embedded set.
	Dir string `mapstructure:"dir"`

	// LedgerTable is the table recording applied migrations.
	LedgerTable string `mapstructure:"ledger_table"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             DefaultSQLiteDSN,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 3,
		},
		Migrations: MigrationsConfig{
			LedgerTable: "schema_migrations",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment. An explicit
// configPath must exist; otherwise ./tpoint.yaml and ~/.tpoint/config.yaml
// are tried in that order. The result is not validated: callers apply
// their overrides first and then call Validate.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := configPath
	if file == "" {
		file = findConfigFile()
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.File = file
	cfg.resolveDatabase()
	return &cfg, nil
}

// Validate checks the values Load cannot coerce.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q (want postgres, pgx or sqlite)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required for driver %s (or set DATABASE_URL)", c.Database.Driver)
	}
	if c.Database.ConnectAttempts < 1 {
		return fmt.Errorf("database.connect_attempts: must be at least 1, got %d", c.Database.ConnectAttempts)
	}
	if c.Migrations.LedgerTable == "" {
		return fmt.Errorf("migrations.ledger_table: must not be empty")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: want json or console, got %q", c.Logging.Format)
	}
	return nil
}

// resolveDatabase fills the DSN from DATABASE_URL and infers the driver
// from it when none was configured.
func (c *Config) resolveDatabase() {
	if c.Database.DSN == "" {
		c.Database.DSN = os.Getenv("DATABASE_URL")
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
		if strings.HasPrefix(c.Database.DSN, "postgres://") || strings.HasPrefix(c.Database.DSN, "postgresql://") {
			c.Database.Driver = "postgres"
		}
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = DefaultSQLiteDSN
	}
}

// loadDotEnv exports the variables of path without overriding the
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	candidates := []string{"tpoint.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tpoint", "config.yaml"))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	// Driver and DSN default to empty so DATABASE_URL can fill them in.
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", def.Database.ConnMaxLifetime.String())
	v.SetDefault("database.connect_attempts", def.Database.ConnectAttempts)
	v.SetDefault("migrations.dir", def.Migrations.Dir)
	v.SetDefault("migrations.ledger_table", def.Migrations.LedgerTable)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
}
