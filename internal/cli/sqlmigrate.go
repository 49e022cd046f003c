package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpoint-labs/tpoint/internal/dialect"
	"github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/migration"
)

func (c *CLI) newSQLMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sqlmigrate <migration-id>",
		Short: "Print the SQL of one migration",
		Long: `Print the statements a migration runs, rendered for the configured
driver. Nothing is executed and the store is not opened.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSQLMigrate(args[0])
		},
	}
}

func (c *CLI) runSQLMigrate(id string) error {
	set, err := c.loadMigrations()
	if err != nil {
		return err
	}
	var target *migration.Migration
	for i := range set {
		if set[i].ID == id {
			target = &set[i]
			break
		}
	}
	if target == nil {
		return errors.NewMigrationNotFound(id)
	}

	d, err := dialect.ForDriver(c.cfg.Database.Driver)
	if err != nil {
		return err
	}
	stmts, err := migration.NewApplier(nil, d).SQL(*target)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"migration_id": id,
			"dialect":      d.Name(),
			"statements":   stmts,
		})
	}
	for _, stmt := range stmts {
		c.printf("%s;\n", strings.TrimRight(stmt, ";"))
	}
	return nil
}
