package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpoint-labs/tpoint/internal/migration"
)

func (c *CLI) newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair the migration ledger",
	}
	cmd.AddCommand(c.newLedgerListCmd())
	cmd.AddCommand(c.newLedgerForgetCmd())
	return cmd
}

func (c *CLI) newLedgerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ledger records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLedgerList(cmd.Context())
		},
	}
}

func (c *CLI) newLedgerForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <migration-id>",
		Short: "Delete the ledger record of a migration",
		Long: `Delete the ledger record of a migration so the next 'tpoint migrate'
runs it again. The schema is not changed; undo the migration's effects by
hand first if they are still present.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLedgerForget(cmd.Context(), args[0])
		},
	}
}

func (c *CLI) runLedgerList(ctx context.Context) error {
	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := c.newApplier(store).Records(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		records = []migration.Record{}
	}
	if c.jsonOutput {
		return c.outputJSON(records)
	}
	if len(records) == 0 {
		c.println("Ledger is empty.")
		return nil
	}
	for _, r := range records {
		c.printf("%s  %s\n", r.AppliedAt.UTC().Format(time.RFC3339), r.MigrationID)
	}
	return nil
}

func (c *CLI) runLedgerForget(ctx context.Context, id string) error {
	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := c.newApplier(store).Forget(ctx, id); err != nil {
		return err
	}
	if c.jsonOutput {
		return c.outputJSON(map[string]string{"forgotten": id})
	}
	c.printf("Forgot %s; it will run on the next migrate.\n", id)
	return nil
}
