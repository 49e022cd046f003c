package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tpoint-labs/tpoint/internal/dialect"
	"github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/observability"
	"github.com/tpoint-labs/tpoint/internal/status"
)

// Result is the outcome of one migration decision.
type Result struct {
	MigrationID string        `json:"migration_id"`
	Outcome     string        `json:"outcome"`
	Operations  int           `json:"operations"`
	Duration    time.Duration `json:"duration"`
	Reason      string        `json:"reason,omitempty"`
}

// Report summarizes a Run.
type Report struct {
	RunID   string   `json:"run_id"`
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
	Faked   []string `json:"faked"`
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case observability.OutcomeApplied:
		r.Applied = append(r.Applied, res.MigrationID)
	case observability.OutcomeSkipped:
		r.Skipped = append(r.Skipped, res.MigrationID)
	case observability.OutcomeFaked:
		r.Faked = append(r.Faked, res.MigrationID)
	}
}

// Applier applies migrations to one store and keeps its ledger.
type Applier struct {
	db       *sql.DB
	dialect  dialect.Dialect
	ledger   *Ledger
	recorder observability.Recorder
	logger   *zap.Logger
	now      func() time.Time
	runID    string
	ensured  bool
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Applier) { a.logger = logger }
}

// WithRecorder sets where migration events go.
func WithRecorder(r observability.Recorder) Option {
	return func(a *Applier) { a.recorder = r }
}

// WithLedgerTable overrides the ledger table name.
func WithLedgerTable(table string) Option {
	return func(a *Applier) { a.ledger = NewLedger(a.dialect, table) }
}

// WithClock sets the clock used for ledger timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

// NewApplier creates an Applier. Events are logged through a ZapRecorder on
// the logger unless WithRecorder is given.
func NewApplier(db *sql.DB, d dialect.Dialect, opts ...Option) *Applier {
	a := &Applier{
		db:      db,
		dialect: d,
		ledger:  NewLedger(d, DefaultLedgerTable),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.recorder == nil {
		a.recorder = observability.NewZapRecorder(a.logger)
	}
	return a
}

// RunID identifies the events of this applier.
func (a *Applier) RunID() string {
	return a.runID
}

// Ledger returns the ledger the applier writes to.
func (a *Applier) Ledger() *Ledger {
	return a.ledger
}

// EnsureLedger creates the ledger table if needed.
func (a *Applier) EnsureLedger(ctx context.Context) error {
	if a.ensured {
		return nil
	}
	// Under the ledger lock, so runners starting together on a fresh store
	// do not race on creating the table.
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewLedgerFailed(a.ledger.Table(), fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	if err := a.dialect.AcquireLedgerLock(ctx, tx, a.ledger.Table()); err != nil {
		return errors.NewLedgerFailed(a.ledger.Table(), err)
	}
	if err := a.ledger.Ensure(ctx, tx); err != nil {
		return errors.NewLedgerFailed(a.ledger.Table(), err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewLedgerFailed(a.ledger.Table(), fmt.Errorf("commit: %w", err))
	}
	a.ensured = true
	return nil
}

// IsApplied reports whether id has a ledger record.
func (a *Applier) IsApplied(ctx context.Context, id string) (bool, error) {
	if err := a.EnsureLedger(ctx); err != nil {
		return false, err
	}
	applied, err := a.ledger.IsApplied(ctx, a.db, id)
	if err != nil {
		return false, errors.NewLedgerFailed(id, err)
	}
	return applied, nil
}

// Apply runs every operation of m and records it, all in one transaction.
// A migration already in the ledger is skipped. If another runner records m
// first, the insert fails on the ledger key and m is skipped as well.
// On an operation failure nothing of m remains and ErrOperation is returned.
func (a *Applier) Apply(ctx context.Context, m Migration) (Result, error) {
	return a.decide(ctx, m, false)
}

// Fake records m as applied without running its operations.
func (a *Applier) Fake(ctx context.Context, m Migration) (Result, error) {
	return a.decide(ctx, m, true)
}

func (a *Applier) decide(ctx context.Context, m Migration, fake bool) (Result, error) {
	start := a.now()
	res, err := a.transact(ctx, m, fake)
	res.MigrationID = m.ID
	res.Duration = a.now().Sub(start)
	if res.Duration < 0 {
		res.Duration = 0
	}

	event := observability.MigrationEvent{
		RunID:       a.runID,
		MigrationID: m.ID,
		Outcome:     res.Outcome,
		Operations:  res.Operations,
		Duration:    res.Duration,
		Reason:      res.Reason,
	}
	if err != nil {
		event.Outcome = observability.OutcomeFailed
		event.Error = err.Error()
		res.Outcome = observability.OutcomeFailed
	}
	if recErr := a.recorder.Record(ctx, event); recErr != nil {
		a.logger.Warn("migration event not recorded", zap.String("migration_id", m.ID), zap.Error(recErr))
	}
	return res, err
}

func (a *Applier) transact(ctx context.Context, m Migration, fake bool) (res Result, err error) {
	if err := a.EnsureLedger(ctx); err != nil {
		return res, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return res, errors.NewLedgerFailed(m.ID, fmt.Errorf("begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				a.logger.Warn("rollback failed", zap.String("migration_id", m.ID), zap.Error(rbErr))
			}
		}
	}()

	if err := a.dialect.AcquireLedgerLock(ctx, tx, a.ledger.Table()); err != nil {
		return res, errors.NewLedgerFailed(m.ID, err)
	}
	applied, err := a.ledger.IsApplied(ctx, tx, m.ID)
	if err != nil {
		return res, errors.NewLedgerFailed(m.ID, err)
	}
	if applied {
		res.Outcome = observability.OutcomeSkipped
		res.Reason = "already applied"
		return res, nil
	}

	if !fake {
		for i, op := range m.Operations {
			stmts, err := op.Statements(a.dialect)
			if err != nil {
				return res, errors.NewOperationFailed(m.ID, i, op.Describe(), err)
			}
			for _, stmt := range stmts {
				a.logger.Debug("exec", zap.String("migration_id", m.ID), zap.Int("operation", i), zap.String("sql", stmt))
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return res, errors.NewOperationFailed(m.ID, i, op.Describe(), err)
				}
			}
			res.Operations++
		}
	}

	if err := a.ledger.Insert(ctx, tx, m.ID, a.now()); err != nil {
		if a.dialect.IsUniqueViolation(err) {
			return Result{Outcome: observability.OutcomeSkipped, Reason: "recorded by a concurrent runner"}, nil
		}
		return res, errors.NewLedgerFailed(m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		if a.dialect.IsUniqueViolation(err) {
			return Result{Outcome: observability.OutcomeSkipped, Reason: "recorded by a concurrent runner"}, nil
		}
		return res, errors.NewLedgerFailed(m.ID, fmt.Errorf("commit: %w", err))
	}
	committed = true

	res.Outcome = observability.OutcomeApplied
	if fake {
		res.Outcome = observability.OutcomeFaked
	}
	return res, nil
}

// Run plans migrations and applies them in order, skipping those already in
// the ledger. It stops at the first failure; the report then lists what was
// decided before it. Running the same set again applies nothing.
func (a *Applier) Run(ctx context.Context, migrations []Migration) (*Report, error) {
	report := &Report{RunID: a.runID, Applied: []string{}, Skipped: []string{}, Faked: []string{}}

	plan, err := Plan(migrations)
	if err != nil {
		return report, err
	}
	if err := a.EnsureLedger(ctx); err != nil {
		return report, err
	}

	a.logger.Info("run started", zap.String("run_id", a.runID), zap.Int("migrations", len(plan)))
	for _, m := range plan {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := a.Apply(ctx, m)
		if err != nil {
			return report, err
		}
		report.add(res)
	}
	a.logger.Info("run finished",
		zap.String("run_id", a.runID),
		zap.Int("applied", len(report.Applied)),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

// FakeAll records every pending migration of the plan without running it.
func (a *Applier) FakeAll(ctx context.Context, migrations []Migration) (*Report, error) {
	report := &Report{RunID: a.runID, Applied: []string{}, Skipped: []string{}, Faked: []string{}}
	plan, err := Plan(migrations)
	if err != nil {
		return report, err
	}
	for _, m := range plan {
		res, err := a.Fake(ctx, m)
		if err != nil {
			return report, err
		}
		report.add(res)
	}
	return report, nil
}

// Pending returns the planned migrations that have no ledger record.
func (a *Applier) Pending(ctx context.Context, migrations []Migration) ([]Migration, error) {
	plan, err := Plan(migrations)
	if err != nil {
		return nil, err
	}
	applied, err := a.appliedSet(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]Migration, 0, len(plan))
	for _, m := range plan {
		if _, ok := applied[m.ID]; !ok {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// SQL renders the statements m would execute, without touching the store.
func (a *Applier) SQL(m Migration) ([]string, error) {
	var out []string
	for i, op := range m.Operations {
		stmts, err := op.Statements(a.dialect)
		if err != nil {
			return nil, errors.NewOperationFailed(m.ID, i, op.Describe(), err)
		}
		out = append(out, stmts...)
	}
	return out, nil
}

// Status reports each planned migration against the ledger, plus ledger
// records with no definition.
func (a *Applier) Status(ctx context.Context, migrations []Migration) (*status.Report, error) {
	plan, err := Plan(migrations)
	if err != nil {
		return nil, err
	}
	applied, err := a.appliedSet(ctx)
	if err != nil {
		return nil, err
	}
	return status.Build(toPlanned(plan), applied), nil
}

// Records returns the ledger contents.
func (a *Applier) Records(ctx context.Context) ([]Record, error) {
	if err := a.EnsureLedger(ctx); err != nil {
		return nil, err
	}
	records, err := a.ledger.Records(ctx, a.db)
	if err != nil {
		return nil, errors.NewLedgerFailed(a.ledger.Table(), err)
	}
	return records, nil
}

// Forget deletes the ledger record of id so the migration runs again.
// The schema is not touched.
func (a *Applier) Forget(ctx context.Context, id string) error {
	if err := a.EnsureLedger(ctx); err != nil {
		return err
	}
	if err := a.ledger.Delete(ctx, a.db, id); err != nil {
		return err
	}
	a.logger.Info("ledger record deleted", zap.String("run_id", a.runID), zap.String("migration_id", id))
	return nil
}

func (a *Applier) appliedSet(ctx context.Context) (map[string]time.Time, error) {
	records, err := a.Records(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]time.Time, len(records))
	for _, r := range records {
		applied[r.MigrationID] = r.AppliedAt
	}
	return applied, nil
}
