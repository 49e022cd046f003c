package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tpoint-labs/tpoint/internal/migration"
)

func (c *CLI) newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the execution order of migrations",
		Long: `Show the order migrations would be applied in, with their dependencies.

The plan does not consult the store; use 'tpoint status' to see what is
already applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPlan()
		},
	}
}

// PlanEntry is one migration of the plan.
type PlanEntry struct {
	Position     int      `json:"position"`
	MigrationID  string   `json:"migration_id"`
	Dependencies []string `json:"dependencies"`
	Operations   []string `json:"operations"`
}

func (c *CLI) runPlan() error {
	set, err := c.loadMigrations()
	if err != nil {
		return err
	}
	plan, err := migration.Plan(set)
	if err != nil {
		return err
	}

	entries := make([]PlanEntry, len(plan))
	for i, m := range plan {
		ops := make([]string, len(m.Operations))
		for j, op := range m.Operations {
			ops[j] = op.Describe()
		}
		deps := m.Dependencies
		if deps == nil {
			deps = []string{}
		}
		entries[i] = PlanEntry{Position: i + 1, MigrationID: m.ID, Dependencies: deps, Operations: ops}
	}

	if c.jsonOutput {
		return c.outputJSON(entries)
	}
	c.println("Planned operations:")
	for _, e := range entries {
		c.printf("%3d. %s", e.Position, e.MigrationID)
		if len(e.Dependencies) > 0 {
			c.printf(" (after %s)", strings.Join(e.Dependencies, ", "))
		}
		c.println("")
		for _, op := range e.Operations {
			c.printf("       - %s\n", op)
		}
	}
	return nil
}
