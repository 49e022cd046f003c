package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	tperrors "github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/schema"
)

// SQLite renders SQLite DDL for the modernc.org/sqlite driver.
type SQLite struct{}

// NewSQLite creates a SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{}
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) DriverName() string { return DriverSQLite }

func (s *SQLite) Quote(ident string) string { return quoteIdent(ident) }

func (s *SQLite) Placeholder(int) string { return "?" }

func (s *SQLite) AutoPrimaryKey() string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (s *SQLite) ColumnType(f schema.Field) (string, error) {
	switch f.Type {
	case schema.TypeBoolean:
		return "BOOLEAN", nil
	case schema.TypeSmallInt:
		return "SMALLINT", nil
	case schema.TypeInteger, schema.TypePositiveInteger, schema.TypeForeignKey:
		return "INTEGER", nil
	case schema.TypeChar, schema.TypeEnum, schema.TypeImage:
		return varchar(f), nil
	case schema.TypeText, schema.TypeRichText:
		return "TEXT", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeDateTime:
		return "TIMESTAMP", nil
	default:
		return "", fmt.Errorf("sqlite: no column type for %s field %s", f.Type, f.Name)
	}
}

func (s *SQLite) Literal(v any) (string, error) {
	return literal(v, func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	})
}

// AlterColumnDefault is not expressible: SQLite has no ALTER COLUMN and a
// table rebuild cannot run with foreign keys enforced inside a transaction.
func (s *SQLite) AlterColumnDefault(table, column, lit string) (string, error) {
	return "", tperrors.NewUnsupportedOperation(s.Name(), "alter_default",
		fmt.Sprintf("SQLite cannot change the default of %s.%s in place", table, column))
}

func (s *SQLite) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    migration_id TEXT PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`, s.Quote(table))
}

// AcquireLedgerLock is a no-op: stores opened by the storage package begin
// every transaction IMMEDIATE, which already holds the write lock.
func (s *SQLite) AcquireLedgerLock(context.Context, *sql.Tx, string) error {
	return nil
}

func (s *SQLite) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	// Connections without extended result codes only report the primary code.
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
}
