package migration

import (
	"github.com/tpoint-labs/tpoint/internal/errors"
)

// Plan returns migrations in execution order: every migration appears after
// all of its dependencies. Among migrations that are ready at the same time
// the one earliest in the input is placed first, so input order is kept
// wherever the dependencies allow it.
//
// Plan fails with ErrDuplicateMigration, ErrMissingDependency or ErrCycle
// without returning a partial order.
func Plan(migrations []Migration) ([]Migration, error) {
	index := make(map[string]int, len(migrations))
	for i, m := range migrations {
		if _, dup := index[m.ID]; dup {
			return nil, errors.NewDuplicateMigration(m.ID)
		}
		index[m.ID] = i
	}
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, errors.NewMissingDependency(m.ID, dep)
			}
		}
	}

	placed := make([]bool, len(migrations))
	ordered := make([]Migration, 0, len(migrations))
	for len(ordered) < len(migrations) {
		next := -1
		for i, m := range migrations {
			if !placed[i] && ready(m, index, placed) {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, errors.NewCycle(findCycle(migrations, index, placed))
		}
		placed[next] = true
		ordered = append(ordered, migrations[next])
	}
	return ordered, nil
}

func ready(m Migration, index map[string]int, placed []bool) bool {
	for _, dep := range m.Dependencies {
		if !placed[index[dep]] {
			return false
		}
	}
	return true
}

// findCycle walks unplaced dependencies from the earliest unplaced migration.
// Every unplaced migration waits on another unplaced one, so the walk must
// revisit a node; the path from that node back to itself is the cycle.
func findCycle(migrations []Migration, index map[string]int, placed []bool) []string {
	start := 0
	for start < len(migrations) && placed[start] {
		start++
	}

	seenAt := make(map[int]int)
	var path []string
	for cur := start; ; {
		if at, ok := seenAt[cur]; ok {
			return append(path[at:], migrations[cur].ID)
		}
		seenAt[cur] = len(path)
		path = append(path, migrations[cur].ID)

		for _, dep := range migrations[cur].Dependencies {
			if i := index[dep]; !placed[i] {
				cur = i
				break
			}
		}
	}
}
