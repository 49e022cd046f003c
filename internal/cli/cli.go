// Package cli provides the command-line interface for tpoint.
// The CLI plans, applies and inspects the schema migrations of the
// training-point tracker.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tpoint-labs/tpoint/internal/config"
	"github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/migration"
	"github.com/tpoint-labs/tpoint/internal/observability"
	"github.com/tpoint-labs/tpoint/internal/storage"
	"github.com/tpoint-labs/tpoint/migrations"
)

// Exit codes, one per error category.
const (
	ExitSuccess    = 0
	ExitValidation = int(errors.CodeValidation)
	ExitPlanning   = int(errors.CodePlanning)
	ExitStore      = int(errors.CodeStore)
	ExitInternal   = int(errors.CodeInternal)
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config
	logger  *zap.Logger

	out    io.Writer
	errOut io.Writer

	// Global flags
	configPath    string
	driver        string
	dsn           string
	migrationsDir string
	jsonOutput    bool
	quiet         bool
	debug         bool
}

// New creates a new CLI instance.
func New() *CLI {
	cli := &CLI{out: os.Stdout, errOut: os.Stderr, logger: zap.NewNop()}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// SetOutput redirects command output and error output.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.out = out
	c.errOut = errOut
}

// SetArgs sets the arguments used instead of os.Args.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute(ctx context.Context) int {
	defer c.logger.Sync() //nolint:errcheck

	if err := c.rootCmd.ExecuteContext(ctx); err != nil {
		c.errorf("Error: %v\n", err)
		return errors.ExitCode(err)
	}
	return ExitSuccess
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tpoint",
		Short: "tpoint - schema migrations for the training-point tracker",
		Long: `tpoint applies the versioned schema of the training-point tracker.

It provides:
  • Dependency-ordered planning of migrations
  • Exactly-once application, each migration in one transaction
  • A ledger of applied migrations with status and repair tools
  • PostgreSQL and SQLite stores

Migrations are embedded in the binary unless --migrations-dir is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &errors.TPointError{
			Code:       errors.CodeValidation,
			Message:    err.Error(),
			Suggestion: "run 'tpoint --help' for usage",
		}
	})

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ./tpoint.yaml or ~/.tpoint/config.yaml)")
	cmd.PersistentFlags().StringVar(&c.driver, "driver", "", "database driver: postgres, pgx or sqlite")
	cmd.PersistentFlags().StringVar(&c.dsn, "dsn", "", "database connection string")
	cmd.PersistentFlags().StringVar(&c.migrationsDir, "migrations-dir", "", "read migrations from a directory instead of the embedded set")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newMigrateCmd())
	cmd.AddCommand(c.newPlanCmd())
	cmd.AddCommand(c.newStatusCmd())
	cmd.AddCommand(c.newSQLMigrateCmd())
	cmd.AddCommand(c.newLedgerCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return &errors.TPointError{
			Code:       errors.CodeValidation,
			Message:    "invalid configuration",
			Suggestion: "check the config file and TPOINT_* environment variables",
			Cause:      err,
		}
	}
	c.cfg = cfg

	// Override with flags
	if c.driver != "" {
		c.cfg.Database.Driver = c.driver
	}
	if c.dsn != "" {
		c.cfg.Database.DSN = c.dsn
	}
	if c.migrationsDir != "" {
		c.cfg.Migrations.Dir = c.migrationsDir
	}
	if c.debug {
		c.cfg.Logging.Level = "debug"
	}
	if err := c.cfg.Validate(); err != nil {
		return &errors.TPointError{Code: errors.CodeValidation, Message: "invalid configuration", Cause: err}
	}

	logger, err := observability.NewLogger(c.cfg.Logging.Level, c.cfg.Logging.Format)
	if err != nil {
		return err
	}
	c.logger = logger
	c.debugf("config file: %q, driver: %s\n", c.cfg.File, c.cfg.Database.Driver)
	return nil
}

// openStore opens the configured store. Callers close it.
func (c *CLI) openStore(ctx context.Context) (*storage.Store, error) {
	db := c.cfg.Database
	return storage.Open(ctx, storage.Config{
		Driver:          db.Driver,
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		Retry:           storage.RetryConfig{MaxAttempts: db.ConnectAttempts},
	})
}

// loadMigrations reads the configured migration set in file order.
func (c *CLI) loadMigrations() ([]migration.Migration, error) {
	if dir := c.cfg.Migrations.Dir; dir != "" {
		c.debugf("loading migrations from %s\n", dir)
		return migration.LoadDir(dir)
	}
	return migration.Load(migrations.FS, ".")
}

func (c *CLI) newApplier(store *storage.Store) *migration.Applier {
	return migration.NewApplier(store.DB, store.Dialect,
		migration.WithLogger(c.logger),
		migration.WithLedgerTable(c.cfg.Migrations.LedgerTable),
	)
}

// withApplier opens the store, loads migrations and runs fn.
func (c *CLI) withApplier(ctx context.Context, fn func(*migration.Applier, []migration.Migration) error) error {
	set, err := c.loadMigrations()
	if err != nil {
		return err
	}
	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(c.newApplier(store), set)
}

// Helper functions for output

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Fprintln(c.out, args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.errOut, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Fprintf(c.errOut, "[DEBUG] "+format, args...)
	}
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
