// Package dialect implements the store-specific parts of migration: column
// types, literals, placeholders, the ledger lock and unique-violation
// detection for each supported driver.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/tpoint-labs/tpoint/internal/schema"
)

// Driver names accepted by ForDriver. They match the database/sql driver
// registered by each store package.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// Dialect extends the DDL rendering of schema.Dialect with what the applier
// needs at run time.
type Dialect interface {
	schema.Dialect

	// DriverName is the database/sql driver name.
	DriverName() string

	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string

	// LedgerDDL creates the ledger table if it does not exist.
	LedgerDDL(table string) string

	// AcquireLedgerLock serializes runners for the rest of tx.
	AcquireLedgerLock(ctx context.Context, tx *sql.Tx, key string) error

	// IsUniqueViolation reports whether err is a unique or primary key violation.
	IsUniqueViolation(err error) bool
}

// ForDriver returns the dialect of a driver name.
func ForDriver(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgres(DriverPostgres), nil
	case DriverPgx:
		return NewPostgres(DriverPgx), nil
	case DriverSQLite:
		return NewSQLite(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q (want %s, %s or %s)",
			driver, DriverPostgres, DriverPgx, DriverSQLite)
	}
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders the values a definition can hold; booleans are rendered
// by the caller because stores disagree on them.
func literal(v any, boolean func(bool) string) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		return boolean(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case string:
		return quoteString(val), nil
	default:
		return "", fmt.Errorf("unsupported literal %v (%T)", v, v)
	}
}

func varchar(f schema.Field) string {
	n := f.MaxLength
	if n <= 0 && f.Type == schema.TypeImage {
		n = schema.ImageMaxLength
	}
	return fmt.Sprintf("VARCHAR(%d)", n)
}
