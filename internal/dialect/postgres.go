package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/tpoint-labs/tpoint/internal/schema"
)

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

// Postgres renders PostgreSQL DDL. It serves both the lib/pq and the pgx
// drivers.
type Postgres struct {
	driver string
}

// NewPostgres creates a PostgreSQL dialect bound to a driver name.
func NewPostgres(driver string) *Postgres {
	return &Postgres{driver: driver}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) DriverName() string { return p.driver }

func (p *Postgres) Quote(ident string) string { return quoteIdent(ident) }

func (p *Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (p *Postgres) AutoPrimaryKey() string {
	return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (p *Postgres) ColumnType(f schema.Field) (string, error) {
	switch f.Type {
	case schema.TypeBoolean:
		return "BOOLEAN", nil
	case schema.TypeSmallInt:
		return "SMALLINT", nil
	case schema.TypeInteger, schema.TypePositiveInteger:
		return "INTEGER", nil
	case schema.TypeChar, schema.TypeEnum, schema.TypeImage:
		return varchar(f), nil
	case schema.TypeText, schema.TypeRichText:
		return "TEXT", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeDateTime:
		return "TIMESTAMP WITH TIME ZONE", nil
	case schema.TypeForeignKey:
		return "BIGINT", nil
	default:
		return "", fmt.Errorf("postgres: no column type for %s field %s", f.Type, f.Name)
	}
}

func (p *Postgres) Literal(v any) (string, error) {
	return literal(v, func(b bool) string {
		if b {
			return "TRUE"
		}
		return "FALSE"
	})
}

func (p *Postgres) AlterColumnDefault(table, column, lit string) (string, error) {
	if lit == "" {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", p.Quote(table), p.Quote(column)), nil
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", p.Quote(table), p.Quote(column), lit), nil
}

func (p *Postgres) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    migration_id VARCHAR(255) PRIMARY KEY,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL
)`, p.Quote(table))
}

// AcquireLedgerLock takes a transaction-scoped advisory lock keyed by the
// ledger table, so concurrent runners check and record one at a time.
func (p *Postgres) AcquireLedgerLock(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	return nil
}

func (p *Postgres) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
