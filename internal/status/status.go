// Package status reports which migrations are applied, pending, or only
// known to the ledger.
package status

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// State of a migration relative to the ledger.
type State string

const (
	StateApplied State = "applied"
	StatePending State = "pending"
	// StateOrphaned marks a ledger record without a definition.
	StateOrphaned State = "orphaned"
)

// Planned is the part of a planned migration status needs.
type Planned struct {
	ID           string
	Dependencies []string
}

// Entry is the status of one migration.
type Entry struct {
	MigrationID  string     `json:"migration_id"`
	Dependencies []string   `json:"dependencies,omitempty"`
	State        State      `json:"state"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
}

// Report lists entries in plan order, followed by orphans sorted by id.
type Report struct {
	Entries  []Entry `json:"entries"`
	Applied  int     `json:"applied"`
	Pending  int     `json:"pending"`
	Orphaned int     `json:"orphaned"`
}

// Build combines a plan with the applied records of the ledger.
func Build(plan []Planned, applied map[string]time.Time) *Report {
	r := &Report{Entries: make([]Entry, 0, len(plan))}
	known := make(map[string]bool, len(plan))

	for _, p := range plan {
		known[p.ID] = true
		e := Entry{MigrationID: p.ID, Dependencies: p.Dependencies, State: StatePending}
		if at, ok := applied[p.ID]; ok {
			at := at
			e.State = StateApplied
			e.AppliedAt = &at
			r.Applied++
		} else {
			r.Pending++
		}
		r.Entries = append(r.Entries, e)
	}

	orphans := make([]string, 0)
	for id := range applied {
		if !known[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		at := applied[id]
		r.Entries = append(r.Entries, Entry{MigrationID: id, State: StateOrphaned, AppliedAt: &at})
		r.Orphaned++
	}
	return r
}

// UpToDate reports whether nothing is pending.
func (r *Report) UpToDate() bool {
	return r.Pending == 0
}

// String renders the report the way 'tpoint status' prints it.
func (r *Report) String() string {
	var b strings.Builder
	for _, e := range r.Entries {
		mark := "[ ]"
		switch e.State {
		case StateApplied:
			mark = "[X]"
		case StateOrphaned:
			mark = "[?]"
		}
		line := fmt.Sprintf("%s %s", mark, e.MigrationID)
		if e.AppliedAt != nil {
			line += fmt.Sprintf("  (applied %s)", e.AppliedAt.UTC().Format(time.RFC3339))
		}
		if e.State == StateOrphaned {
			line += "  no definition"
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "\n%d applied, %d pending, %d orphaned\n", r.Applied, r.Pending, r.Orphaned)
	return b.String()
}
