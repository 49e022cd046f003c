package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tpoint-labs/tpoint/internal/migration"
)

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Long: `Show every planned migration as applied [X] or pending [ ], and
ledger records without a definition as orphaned [?].`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(cmd.Context())
		},
	}
}

func (c *CLI) runStatus(ctx context.Context) error {
	return c.withApplier(ctx, func(a *migration.Applier, set []migration.Migration) error {
		report, err := a.Status(ctx, set)
		if err != nil {
			return err
		}
		if c.jsonOutput {
			return c.outputJSON(report)
		}
		c.printf("%s", report.String())
		return nil
	})
}
