package migration

import (
	"context"
	"database/sql"
	stderrors "errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/observability"
	"github.com/tpoint-labs/tpoint/internal/schema"
	"github.com/tpoint-labs/tpoint/internal/status"
	"github.com/tpoint-labs/tpoint/internal/storage"
)

func openStore(t *testing.T, dsn string) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func newTestApplier(t *testing.T, opts ...Option) (*Applier, *sql.DB) {
	t.Helper()
	store := openStore(t, ":memory:")
	return NewApplier(store.DB, store.Dialect, opts...), store.DB
}

func createTable(id, table string, deps ...string) Migration {
	return Migration{
		ID:           id,
		Dependencies: deps,
		Operations: []schema.Operation{
			&schema.CreateEntity{Name: table, Fields: []schema.Field{
				{Name: "name", Type: schema.TypeChar, MaxLength: 20},
			}},
		},
	}
}

func runSQL(script string) schema.Operation {
	return &schema.RunSQL{SQL: script}
}

func queryInt64(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query, args...).Scan(&value); err != nil {
		t.Fatalf("query int value: %v", err)
	}
	return value
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	return queryInt64(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?", tableName) == 1
}

// TestApplier_RunAppliesInPlanOrder verifies a dependent migration runs after its dependency.
func TestApplier_RunAppliesInPlanOrder(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	classes := Migration{
		ID:           "B",
		Dependencies: []string{"A"},
		Operations: []schema.Operation{
			&schema.CreateEntity{Name: "Class", Fields: []schema.Field{
				{Name: "academic_year", Type: schema.TypeForeignKey, To: "AcademicYear", OnDelete: schema.OnDeleteCascade},
			}},
		},
	}
	report, err := a.Run(ctx, []Migration{classes, createTable("A", "AcademicYear")})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !reflect.DeepEqual(report.Applied, []string{"A", "B"}) {
		t.Fatalf("expected [A B] applied, got %v", report.Applied)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if !tableExists(t, db, "class") || !tableExists(t, db, "academic_year") {
		t.Fatal("expected both tables to exist")
	}
}

// TestApplier_RunTwiceIsIdempotent verifies a second run applies nothing.
func TestApplier_RunTwiceIsIdempotent(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()
	set := []Migration{createTable("A", "Semester"), createTable("B", "Faculty", "A")}

	if _, err := a.Run(ctx, set); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	report, err := a.Run(ctx, set)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(report.Applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", report.Applied)
	}
	if !reflect.DeepEqual(report.Skipped, []string{"A", "B"}) {
		t.Fatalf("expected [A B] skipped, got %v", report.Skipped)
	}
	if n := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", n)
	}
}

// TestApplier_OnlyPendingRun verifies a migration already in the ledger is not executed.
func TestApplier_OnlyPendingRun(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	if _, err := a.Apply(ctx, createTable("A", "Major")); err != nil {
		t.Fatalf("apply A failed: %v", err)
	}

	// Re-running A would fail because the table exists.
	report, err := a.Run(ctx, []Migration{createTable("A", "Major"), createTable("B", "Criterion", "A")})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !reflect.DeepEqual(report.Applied, []string{"B"}) {
		t.Fatalf("expected only B applied, got %v", report.Applied)
	}
	if !reflect.DeepEqual(report.Skipped, []string{"A"}) {
		t.Fatalf("expected A skipped, got %v", report.Skipped)
	}
	if n := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 2 {
		t.Fatalf("expected ledger {A, B}, got %d rows", n)
	}
}

// TestApplier_FailedOperationRollsBack verifies a failing operation leaves no effect and no record.
func TestApplier_FailedOperationRollsBack(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	c := Migration{
		ID: "C",
		Operations: []schema.Operation{
			runSQL("CREATE TABLE c_items (id INTEGER PRIMARY KEY)"),
			runSQL("INSERT INTO no_such_table (id) VALUES (1)"),
		},
	}
	_, err := a.Apply(ctx, c)

	var opErr *errors.ErrOperation
	if !stderrors.As(err, &opErr) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
	if opErr.MigrationID != "C" || opErr.Index != 1 {
		t.Fatalf("expected C at operation 1, got %s at %d", opErr.MigrationID, opErr.Index)
	}
	if opErr.Unwrap() == nil {
		t.Error("expected the store error as cause")
	}
	if tableExists(t, db, "c_items") {
		t.Fatal("expected first operation to be rolled back")
	}
	if n := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); n != 0 {
		t.Fatalf("expected no ledger row, got %d", n)
	}
}

// TestApplier_RunSQLTrigger verifies a trigger body with inner statements applies as one statement.
func TestApplier_RunSQLTrigger(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	m := Migration{
		ID: "faculty_touch",
		Operations: []schema.Operation{
			&schema.CreateEntity{Name: "Faculty", Audited: true, Fields: []schema.Field{
				{Name: "name", Type: schema.TypeChar, MaxLength: 30},
			}},
			runSQL(`CREATE TRIGGER faculty_touch AFTER UPDATE OF name ON faculty
BEGIN
    UPDATE faculty SET updated_date = '2000-01-01 00:00:00' WHERE id = NEW.id;
END;`),
		},
	}
	res, err := a.Apply(ctx, m)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res.Operations != 2 {
		t.Fatalf("expected 2 operations, got %d", res.Operations)
	}

	if _, err := db.Exec("INSERT INTO faculty (name) VALUES ('Physics')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Exec("UPDATE faculty SET name = 'Chemistry'"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n := queryInt64(t, db, "SELECT COUNT(*) FROM faculty WHERE updated_date = '2000-01-01 00:00:00'"); n != 1 {
		t.Fatalf("expected the trigger to touch the row, got %d rows", n)
	}
}

// TestApplier_RunStopsAtFailure verifies later migrations are not attempted.
func TestApplier_RunStopsAtFailure(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	bad := Migration{ID: "B", Operations: []schema.Operation{runSQL("DROP TABLE missing")}}
	report, err := a.Run(ctx, []Migration{createTable("A", "Semester"), bad, createTable("C", "Faculty")})
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !reflect.DeepEqual(report.Applied, []string{"A"}) {
		t.Fatalf("expected A applied before the failure, got %v", report.Applied)
	}
	if tableExists(t, db, "faculty") {
		t.Fatal("expected C not to run")
	}
}

// TestApplier_ConcurrentRecordSkips verifies losing the ledger race is a skip, not an error.
func TestApplier_ConcurrentRecordSkips(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	// The operation writes the ledger row itself, as a concurrent runner would
	// have done between our check and our insert.
	raced := Migration{
		ID: "X",
		Operations: []schema.Operation{
			runSQL("CREATE TABLE raced (id INTEGER PRIMARY KEY)"),
			runSQL("INSERT INTO schema_migrations (migration_id, applied_at) VALUES ('X', '2024-01-01 00:00:00')"),
		},
	}
	res, err := a.Apply(ctx, raced)
	if err != nil {
		t.Fatalf("expected conflict to be absorbed, got %v", err)
	}
	if res.Outcome != observability.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", res.Outcome)
	}
	if tableExists(t, db, "raced") {
		t.Fatal("expected the losing transaction to be rolled back")
	}
}

// TestApplier_ConcurrentRunners verifies two runners on one database apply each migration once.
func TestApplier_ConcurrentRunners(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "school.db")
	first := openStore(t, dsn)
	second := openStore(t, dsn)
	set := []Migration{createTable("A", "Semester"), createTable("B", "Faculty", "A")}

	reports := make([]*Report, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, store := range []*storage.Store{first, second} {
		wg.Add(1)
		go func(i int, store *storage.Store) {
			defer wg.Done()
			reports[i], errs[i] = NewApplier(store.DB, store.Dialect).Run(context.Background(), set)
		}(i, store)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("runner %d failed: %v", i, err)
		}
	}
	applied := len(reports[0].Applied) + len(reports[1].Applied)
	skipped := len(reports[0].Skipped) + len(reports[1].Skipped)
	if applied != 2 || skipped != 2 {
		t.Fatalf("expected 2 applied and 2 skipped in total, got %d and %d", applied, skipped)
	}
	if n := queryInt64(t, first.DB, "SELECT COUNT(*) FROM schema_migrations"); n != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", n)
	}
}

// TestApplier_Fake verifies faking records without executing.
func TestApplier_Fake(t *testing.T) {
	a, db := newTestApplier(t)
	ctx := context.Background()

	report, err := a.FakeAll(ctx, []Migration{createTable("A", "Semester")})
	if err != nil {
		t.Fatalf("fake failed: %v", err)
	}
	if !reflect.DeepEqual(report.Faked, []string{"A"}) {
		t.Fatalf("expected A faked, got %v", report.Faked)
	}
	if tableExists(t, db, "semester") {
		t.Fatal("expected faked migration not to run")
	}
	applied, err := a.IsApplied(ctx, "A")
	if err != nil {
		t.Fatalf("is applied failed: %v", err)
	}
	if !applied {
		t.Fatal("expected faked migration to be recorded")
	}
}

// TestApplier_SQL verifies rendering does not touch the store.
func TestApplier_SQL(t *testing.T) {
	a, db := newTestApplier(t)

	stmts, err := a.SQL(createTable("A", "AcademicYear"))
	if err != nil {
		t.Fatalf("sql failed: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	if tableExists(t, db, "academic_year") {
		t.Fatal("expected nothing to be executed")
	}
}

// TestApplier_SQLUnsupported verifies dialect gaps surface as operation errors.
func TestApplier_SQLUnsupported(t *testing.T) {
	a, _ := newTestApplier(t)

	m := Migration{ID: "D", Operations: []schema.Operation{
		&schema.AlterDefault{Entity: "TrainingPoint", Column: "point", Default: 1},
	}}
	_, err := a.SQL(m)

	var unsupported *errors.ErrUnsupportedOperation
	if !stderrors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedOperation cause, got %v", err)
	}
	var opErr *errors.ErrOperation
	if !stderrors.As(err, &opErr) || opErr.Index != 0 {
		t.Fatalf("expected ErrOperation at index 0, got %v", err)
	}
}

// TestApplier_StatusAndForget verifies status states and ledger forgetting.
func TestApplier_StatusAndForget(t *testing.T) {
	fixed := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	a, _ := newTestApplier(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	if _, err := a.Run(ctx, []Migration{createTable("A", "Semester"), createTable("old", "Faculty")}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	report, err := a.Status(ctx, []Migration{createTable("A", "Semester"), createTable("B", "Major", "A")})
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Applied != 1 || report.Pending != 1 || report.Orphaned != 1 {
		t.Fatalf("expected 1/1/1, got %d/%d/%d", report.Applied, report.Pending, report.Orphaned)
	}
	if report.Entries[0].State != status.StateApplied || !report.Entries[0].AppliedAt.Equal(fixed) {
		t.Fatalf("unexpected first entry: %+v", report.Entries[0])
	}

	if err := a.Forget(ctx, "old"); err != nil {
		t.Fatalf("forget failed: %v", err)
	}
	records, err := a.Records(ctx)
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if len(records) != 1 || records[0].MigrationID != "A" {
		t.Fatalf("expected only A left, got %+v", records)
	}

	var notFound *errors.ErrMigrationNotFound
	if err := a.Forget(ctx, "old"); !stderrors.As(err, &notFound) {
		t.Fatalf("expected ErrMigrationNotFound, got %v", err)
	}
}

// TestApplier_Pending verifies only unrecorded migrations are returned.
func TestApplier_Pending(t *testing.T) {
	a, _ := newTestApplier(t)
	ctx := context.Background()

	if _, err := a.Apply(ctx, createTable("A", "Semester")); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	pending, err := a.Pending(ctx, []Migration{createTable("B", "Major", "A"), createTable("A", "Semester")})
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if got := IDs(pending); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("expected [B], got %v", got)
	}
}

// TestApplier_EmitsEvents verifies one structured event per decision.
func TestApplier_EmitsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	recorder := observability.NewZapRecorder(zap.New(core))
	a, _ := newTestApplier(t, WithRecorder(recorder))
	ctx := context.Background()

	set := []Migration{createTable("A", "Semester")}
	if _, err := a.Run(ctx, set); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := a.Run(ctx, set); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	summary := recorder.Summary()
	if summary.Applied != 1 || summary.Skipped != 1 || summary.Total != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	entries := logs.FilterMessage("migration").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 migration log entries, got %d", len(entries))
	}
	if entries[0].ContextMap()["run_id"] != a.RunID() {
		t.Errorf("expected run_id %s, got %v", a.RunID(), entries[0].ContextMap()["run_id"])
	}
}
