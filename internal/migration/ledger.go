package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tpoint-labs/tpoint/internal/dialect"
	"github.com/tpoint-labs/tpoint/internal/errors"
)

// DefaultLedgerTable is the table that records applied migrations.
const DefaultLedgerTable = "schema_migrations"

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger reads and writes migration records.
type Ledger struct {
	table   string
	dialect dialect.Dialect
}

// NewLedger creates a ledger over table. An empty table selects DefaultLedgerTable.
func NewLedger(d dialect.Dialect, table string) *Ledger {
	if table == "" {
		table = DefaultLedgerTable
	}
	return &Ledger{table: table, dialect: d}
}

// Table returns the ledger table name.
func (l *Ledger) Table() string {
	return l.table
}

// Ensure creates the ledger table if it does not exist.
func (l *Ledger) Ensure(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, l.dialect.LedgerDDL(l.table)); err != nil {
		return fmt.Errorf("create ledger table %s: %w", l.table, err)
	}
	return nil
}

// IsApplied reports whether a record exists for id.
func (l *Ledger) IsApplied(ctx context.Context, q Querier, id string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE migration_id = %s",
		l.dialect.Quote(l.table), l.dialect.Placeholder(1))

	var one int
	err := q.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ledger for %s: %w", id, err)
	}
	return true, nil
}

// Insert writes the record of id. The primary key on migration_id makes a
// second insert for the same id fail with a unique violation.
func (l *Ledger) Insert(ctx context.Context, q Querier, id string, at time.Time) error {
	query := fmt.Sprintf("INSERT INTO %s (migration_id, applied_at) VALUES (%s, %s)",
		l.dialect.Quote(l.table), l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	if _, err := q.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}

// Records returns every record ordered by application time.
func (l *Ledger) Records(ctx context.Context, q Querier) ([]Record, error) {
	query := fmt.Sprintf("SELECT migration_id, applied_at FROM %s ORDER BY applied_at, migration_id",
		l.dialect.Quote(l.table))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.MigrationID, &r.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes the record of id. Only ledger tooling calls this.
func (l *Ledger) Delete(ctx context.Context, q Querier, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE migration_id = %s",
		l.dialect.Quote(l.table), l.dialect.Placeholder(1))
	res, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return errors.NewLedgerFailed(id, fmt.Errorf("delete: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewLedgerFailed(id, fmt.Errorf("delete: %w", err))
	}
	if n == 0 {
		return errors.NewMigrationNotFound(id)
	}
	return nil
}
