package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tpoint-labs/tpoint/internal/migration"
	"github.com/tpoint-labs/tpoint/internal/storage"
)

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run diagnostics.

Checks:
  - configuration
  - store connectivity
  - migration definitions
  - migration plan
  - ledger state`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

func (c *CLI) runDoctor(ctx context.Context) error {
	if !c.jsonOutput {
		c.println("tpoint Diagnostics")
		c.println("==================")
		c.println("")
	}

	var (
		checks   []DiagnosticCheck
		firstErr error
		set      []migration.Migration
		store    *storage.Store
	)
	record := func(check DiagnosticCheck, err error) {
		checks = append(checks, check)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !c.jsonOutput {
			c.printCheck(check)
		}
	}

	record(c.checkConfig(), nil)

	check, err := c.checkStore(ctx, &store)
	record(check, err)
	if store != nil {
		defer store.Close()
	}

	check, err = c.checkDefinitions(&set)
	record(check, err)

	if err == nil {
		check, err = c.checkPlan(set)
		record(check, err)
		if err == nil && store != nil {
			check, err = c.checkLedger(ctx, store, set)
			record(check, err)
		}
	}

	allPassed := firstErr == nil
	if c.jsonOutput {
		if err := c.outputJSON(map[string]interface{}{
			"checks":     checks,
			"all_passed": allPassed,
		}); err != nil {
			return err
		}
		return firstErr
	}

	c.println("")
	if allPassed {
		c.println("✓ All checks passed")
	} else {
		c.println("✗ Some checks failed - see above for details")
	}
	return firstErr
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("  → %s\n", check.Details)
	}
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration", Passed: true}
	source := c.cfg.File
	if source == "" {
		source = "defaults and environment"
	}
	check.Message = fmt.Sprintf("driver %s, ledger %s (from %s)",
		c.cfg.Database.Driver, c.cfg.Migrations.LedgerTable, source)
	return check
}

func (c *CLI) checkStore(ctx context.Context, out **storage.Store) (DiagnosticCheck, error) {
	check := DiagnosticCheck{Name: "Store Connectivity"}
	store, err := c.openStore(ctx)
	if err != nil {
		check.Message = "Cannot connect to store"
		check.Details = err.Error()
		return check, err
	}
	*out = store
	check.Passed = true
	check.Message = fmt.Sprintf("Connected (%s)", store.Dialect.Name())
	return check, nil
}

func (c *CLI) checkDefinitions(out *[]migration.Migration) (DiagnosticCheck, error) {
	check := DiagnosticCheck{Name: "Migration Definitions"}
	set, err := c.loadMigrations()
	if err != nil {
		check.Message = "Invalid migration definitions"
		check.Details = err.Error()
		return check, err
	}
	*out = set
	check.Passed = true
	source := "embedded"
	if c.cfg.Migrations.Dir != "" {
		source = c.cfg.Migrations.Dir
	}
	check.Message = fmt.Sprintf("%d migration(s) loaded (%s)", len(set), source)
	return check, nil
}

func (c *CLI) checkPlan(set []migration.Migration) (DiagnosticCheck, error) {
	check := DiagnosticCheck{Name: "Migration Plan"}
	if _, err := migration.Plan(set); err != nil {
		check.Message = "Migrations cannot be ordered"
		check.Details = err.Error()
		return check, err
	}
	check.Passed = true
	check.Message = "Dependencies resolve without cycles"
	return check, nil
}

func (c *CLI) checkLedger(ctx context.Context, store *storage.Store, set []migration.Migration) (DiagnosticCheck, error) {
	check := DiagnosticCheck{Name: "Ledger"}
	report, err := c.newApplier(store).Status(ctx, set)
	if err != nil {
		check.Message = "Cannot read ledger"
		check.Details = err.Error()
		return check, err
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%d applied, %d pending, %d orphaned", report.Applied, report.Pending, report.Orphaned)
	return check, nil
}
