package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate keeps the caller's home directory and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, key := range []string{
		"DATABASE_URL", "TPOINT_DATABASE_DRIVER", "TPOINT_DATABASE_DSN",
		"TPOINT_LOGGING_LEVEL", "TPOINT_MIGRATIONS_LEDGER_TABLE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

// TestLoad_Defaults verifies defaults apply with no file or environment.
func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != DefaultSQLiteDSN {
		t.Errorf("expected sqlite %s, got %s %s", DefaultSQLiteDSN, cfg.Database.Driver, cfg.Database.DSN)
	}
	if cfg.Migrations.LedgerTable != "schema_migrations" {
		t.Errorf("expected schema_migrations, got %s", cfg.Migrations.LedgerTable)
	}
	if cfg.Database.ConnectAttempts != 3 {
		t.Errorf("expected 3 connect attempts, got %d", cfg.Database.ConnectAttempts)
	}
	if cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("expected 30m lifetime, got %s", cfg.Database.ConnMaxLifetime)
	}
}

// TestLoad_File verifies values from an explicit config file.
func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tpoint.yaml")
	data := []byte(`
database:
  driver: pgx
  dsn: postgres://tpoint@localhost/school
  conn_max_lifetime: 5m
migrations:
  dir: ./defs
logging:
  level: debug
  format: console
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.Driver != "pgx" {
		t.Errorf("expected pgx, got %s", cfg.Database.Driver)
	}
	if cfg.Database.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("expected 5m, got %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Migrations.Dir != "./defs" || cfg.Logging.Format != "console" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.File != path {
		t.Errorf("expected file %s, got %s", path, cfg.File)
	}
}

// TestLoad_EnvOverridesFile verifies TPOINT_* variables win over the file.
func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tpoint.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TPOINT_LOGGING_LEVEL", "error")
	t.Setenv("TPOINT_MIGRATIONS_LEDGER_TABLE", "tpoint_ledger")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected error level, got %s", cfg.Logging.Level)
	}
	if cfg.Migrations.LedgerTable != "tpoint_ledger" {
		t.Errorf("expected tpoint_ledger, got %s", cfg.Migrations.LedgerTable)
	}
}

// TestLoad_DatabaseURL verifies the DSN fallback and driver inference.
func TestLoad_DatabaseURL(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://tpoint@db/school?sslmode=disable")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://tpoint@db/school?sslmode=disable" {
		t.Errorf("unexpected dsn %s", cfg.Database.DSN)
	}
}

// TestLoad_LeavesValidationToCaller verifies an incomplete environment still
// loads, so later overrides can complete it before Validate.
func TestLoad_LeavesValidationToCaller(t *testing.T) {
	isolate(t)
	t.Setenv("TPOINT_DATABASE_DRIVER", "postgres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected postgres without a dsn to fail validation")
	}

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "school.db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected overridden config to be valid: %v", err)
	}
}

// TestLoad_MissingExplicitFile verifies an explicit path must exist.
func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected missing config file to fail")
	}
}

// TestValidate verifies unsupported values are rejected.
func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	cfg.Database.Driver = "duckdb"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unsupported driver to fail")
	}

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unsupported log format to fail")
	}

	cfg = DefaultConfig()
	cfg.Database.ConnectAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected zero connect attempts to fail")
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unsupported log level to fail")
	}
}

// TestLoadDotEnv verifies a missing .env file is ignored and present values are exported.
func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	if err := loadDotEnv(filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TPOINT_DATABASE_DSN=from-dotenv.db\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("TPOINT_DATABASE_DSN", "")
	os.Unsetenv("TPOINT_DATABASE_DSN")
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if got := os.Getenv("TPOINT_DATABASE_DSN"); got != "from-dotenv.db" {
		t.Errorf("expected from-dotenv.db, got %q", got)
	}
}
