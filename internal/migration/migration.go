// Package migration plans and applies versioned schema migrations.
//
// A Migration is a unit of schema change: an id, the ids it depends on, and
// a list of operations. Plan orders a set so every migration comes after its
// dependencies; the Applier runs each one exactly once, inside a single
// transaction that also writes its ledger record.
package migration

import (
	"time"

	"github.com/tpoint-labs/tpoint/internal/schema"
	"github.com/tpoint-labs/tpoint/internal/status"
)

// Migration is one versioned unit of schema change.
type Migration struct {
	// ID is unique within a migration set.
	ID string

	// Dependencies are ids that must be applied first.
	Dependencies []string

	// Operations run in order inside one transaction.
	Operations []schema.Operation

	// Source is where the definition was loaded from, for diagnostics.
	Source string
}

// Record is one row of the migration ledger. Records are created when a
// migration is applied and never mutated.
type Record struct {
	MigrationID string    `json:"migration_id"`
	AppliedAt   time.Time `json:"applied_at"`
}

// IDs returns the ids of migrations in order.
func IDs(migrations []Migration) []string {
	ids := make([]string, len(migrations))
	for i, m := range migrations {
		ids[i] = m.ID
	}
	return ids
}

func toPlanned(migrations []Migration) []status.Planned {
	planned := make([]status.Planned, len(migrations))
	for i, m := range migrations {
		planned[i] = status.Planned{ID: m.ID, Dependencies: m.Dependencies}
	}
	return planned
}
