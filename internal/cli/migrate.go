package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpoint-labs/tpoint/internal/migration"
)

func (c *CLI) newMigrateCmd() *cobra.Command {
	var fake, dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply every pending migration in dependency order.

Each migration runs in its own transaction together with its ledger record;
a failure rolls that migration back and stops the run. Migrations already
in the ledger are skipped, so re-running is safe.

  --fake      record pending migrations as applied without running them
  --dry-run   print the SQL of pending migrations without running it`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigrate(cmd.Context(), fake, dryRun)
		},
	}
	cmd.Flags().BoolVar(&fake, "fake", false, "record pending migrations without running them")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the SQL of pending migrations")
	cmd.MarkFlagsMutuallyExclusive("fake", "dry-run")
	return cmd
}

func (c *CLI) runMigrate(ctx context.Context, fake, dryRun bool) error {
	return c.withApplier(ctx, func(a *migration.Applier, set []migration.Migration) error {
		if dryRun {
			return c.printPendingSQL(ctx, a, set)
		}

		var (
			report *migration.Report
			err    error
		)
		if fake {
			report, err = a.FakeAll(ctx, set)
		} else {
			report, err = a.Run(ctx, set)
		}

		if c.jsonOutput {
			if jsonErr := c.outputJSON(report); jsonErr != nil {
				return jsonErr
			}
			return err
		}

		for _, id := range report.Applied {
			c.printf("  Applying %s... OK\n", id)
		}
		for _, id := range report.Faked {
			c.printf("  Faking %s... OK\n", id)
		}
		if err != nil {
			return err
		}
		if len(report.Applied)+len(report.Faked) == 0 {
			c.println("No migrations to apply.")
			return nil
		}
		c.printf("Applied: %d, faked: %d, already applied: %d\n",
			len(report.Applied), len(report.Faked), len(report.Skipped))
		return nil
	})
}

func (c *CLI) printPendingSQL(ctx context.Context, a *migration.Applier, set []migration.Migration) error {
	pending, err := a.Pending(ctx, set)
	if err != nil {
		return err
	}

	type pendingSQL struct {
		MigrationID string   `json:"migration_id"`
		Statements  []string `json:"statements"`
	}
	out := make([]pendingSQL, 0, len(pending))
	for _, m := range pending {
		stmts, err := a.SQL(m)
		if err != nil {
			return err
		}
		out = append(out, pendingSQL{MigrationID: m.ID, Statements: stmts})
	}

	if c.jsonOutput {
		return c.outputJSON(out)
	}
	if len(out) == 0 {
		c.println("No migrations to apply.")
		return nil
	}
	for _, p := range out {
		c.printf("-- %s\n", p.MigrationID)
		for _, stmt := range p.Statements {
			c.printf("%s;\n", strings.TrimRight(stmt, ";"))
		}
		c.println("")
	}
	return nil
}
