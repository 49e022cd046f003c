package migration

import (
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/tpoint-labs/tpoint/internal/errors"
)

func mig(id string, deps ...string) Migration {
	return Migration{ID: id, Dependencies: deps}
}

// TestPlan_DependencyFirst verifies a dependency moves ahead of its dependent.
func TestPlan_DependencyFirst(t *testing.T) {
	plan, err := Plan([]Migration{mig("B", "A"), mig("A")})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if got := IDs(plan); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("expected [A B], got %v", got)
	}
}

// TestPlan_KeepsInputOrder verifies ties are broken by input position, not id.
func TestPlan_KeepsInputOrder(t *testing.T) {
	plan, err := Plan([]Migration{mig("c"), mig("a"), mig("b")})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if got := IDs(plan); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("expected input order, got %v", got)
	}

	plan, err = Plan([]Migration{mig("A"), mig("B", "C"), mig("C"), mig("D")})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if got := IDs(plan); !reflect.DeepEqual(got, []string{"A", "C", "B", "D"}) {
		t.Fatalf("expected [A C B D], got %v", got)
	}
}

// TestPlan_EveryDependencyFirst checks the ordering property on a wider graph.
func TestPlan_EveryDependencyFirst(t *testing.T) {
	input := []Migration{
		mig("schools/0003", "schools/0002", "actors/0001"),
		mig("schools/0002", "schools/0001"),
		mig("reports/0001", "schools/0003"),
		mig("schools/0001", "actors/0001"),
		mig("actors/0001"),
	}
	plan, err := Plan(input)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(plan) != len(input) {
		t.Fatalf("expected %d migrations, got %d", len(input), len(plan))
	}
	pos := make(map[string]int)
	for i, m := range plan {
		pos[m.ID] = i
	}
	for _, m := range plan {
		for _, dep := range m.Dependencies {
			if pos[dep] >= pos[m.ID] {
				t.Errorf("%s planned before its dependency %s", m.ID, dep)
			}
		}
	}
}

// TestPlan_Cycle verifies the full cycle path is reported.
func TestPlan_Cycle(t *testing.T) {
	_, err := Plan([]Migration{mig("A", "B"), mig("B", "A"), mig("C")})

	var cycle *errors.ErrCycle
	if !stderrors.As(err, &cycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if !reflect.DeepEqual(cycle.Path, []string{"A", "B", "A"}) {
		t.Fatalf("expected path [A B A], got %v", cycle.Path)
	}
	if errors.ExitCode(err) != int(errors.CodePlanning) {
		t.Errorf("expected planning exit code, got %d", errors.ExitCode(err))
	}
}

// TestPlan_CycleBehindReadyPrefix verifies the cycle is found past placed migrations.
func TestPlan_CycleBehindReadyPrefix(t *testing.T) {
	_, err := Plan([]Migration{mig("A"), mig("B", "A", "D"), mig("C", "B"), mig("D", "C")})

	var cycle *errors.ErrCycle
	if !stderrors.As(err, &cycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if !reflect.DeepEqual(cycle.Path, []string{"B", "D", "C", "B"}) {
		t.Fatalf("expected path [B D C B], got %v", cycle.Path)
	}
}

// TestPlan_SelfDependency verifies a migration depending on itself is a cycle.
func TestPlan_SelfDependency(t *testing.T) {
	_, err := Plan([]Migration{mig("A", "A")})

	var cycle *errors.ErrCycle
	if !stderrors.As(err, &cycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if !reflect.DeepEqual(cycle.Path, []string{"A", "A"}) {
		t.Fatalf("expected path [A A], got %v", cycle.Path)
	}
}

// TestPlan_MissingDependency verifies unknown ids abort planning.
func TestPlan_MissingDependency(t *testing.T) {
	_, err := Plan([]Migration{mig("A"), mig("B", "Z")})

	var missing *errors.ErrMissingDependency
	if !stderrors.As(err, &missing) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	if missing.MigrationID != "B" || missing.Dependency != "Z" {
		t.Fatalf("unexpected error fields: %+v", missing)
	}
}

// TestPlan_Duplicate verifies two migrations cannot share an id.
func TestPlan_Duplicate(t *testing.T) {
	_, err := Plan([]Migration{mig("A"), mig("A")})

	var dup *errors.ErrDuplicateMigration
	if !stderrors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateMigration, got %v", err)
	}
}

// TestPlan_Empty verifies an empty set plans to nothing.
func TestPlan_Empty(t *testing.T) {
	plan, err := Plan(nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(plan) != 0 {
		t.Fatalf("expected empty plan, got %v", IDs(plan))
	}
}
