// Package errors provides explicit, human-readable error types for tpoint.
// All errors carry a Reason and a Suggestion so an operator running a
// migration knows what failed and what to do next.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// TPointError is the base error type for all tpoint errors.
// Every error must provide a human-readable reason and suggestion.
type TPointError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodePlanning   ErrorCode = 2
	CodeStore      ErrorCode = 3
	CodeInternal   ErrorCode = 4
)

func (e *TPointError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *TPointError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the exit code category of the error.
func (e *TPointError) ErrorCode() ErrorCode {
	return e.Code
}

// ExitCode maps any error to a process exit code.
// Errors that are not tpoint errors are internal failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ErrorCode() ErrorCode }
	if stderrors.As(err, &coded) {
		return int(coded.ErrorCode())
	}
	return int(CodeInternal)
}

// ErrCycle is returned when migration dependencies form a cycle.
type ErrCycle struct {
	TPointError
	// Path lists the migrations on the cycle; the first id is repeated at the end.
	Path []string
}

// NewCycle creates a new ErrCycle.
func NewCycle(path []string) *ErrCycle {
	return &ErrCycle{
		TPointError: TPointError{
			Code:       CodePlanning,
			Message:    "migration dependency cycle detected",
			Reason:     fmt.Sprintf("cycle: %s", strings.Join(path, " -> ")),
			Suggestion: "remove one of the dependencies on the cycle",
		},
		Path: path,
	}
}

// ErrMissingDependency is returned when a migration depends on an id that is
// not part of the migration set.
type ErrMissingDependency struct {
	TPointError
	MigrationID string
	Dependency  string
}

// NewMissingDependency creates a new ErrMissingDependency.
func NewMissingDependency(migrationID, dependency string) *ErrMissingDependency {
	return &ErrMissingDependency{
		TPointError: TPointError{
			Code:       CodePlanning,
			Message:    fmt.Sprintf("migration %s has an unknown dependency", migrationID),
			Reason:     fmt.Sprintf("dependency %s is not defined", dependency),
			Suggestion: "check the dependency id or add the missing migration file",
		},
		MigrationID: migrationID,
		Dependency:  dependency,
	}
}

// ErrDuplicateMigration is returned when two definitions share an id.
type ErrDuplicateMigration struct {
	TPointError
	MigrationID string
}

// NewDuplicateMigration creates a new ErrDuplicateMigration.
func NewDuplicateMigration(migrationID string) *ErrDuplicateMigration {
	return &ErrDuplicateMigration{
		TPointError: TPointError{
			Code:       CodePlanning,
			Message:    fmt.Sprintf("duplicate migration id: %s", migrationID),
			Reason:     "migration ids must be unique within a set",
			Suggestion: "rename one of the migrations",
		},
		MigrationID: migrationID,
	}
}

// ErrOperation is returned when a single operation of a migration fails.
// The migration has been rolled back and is not recorded as applied.
type ErrOperation struct {
	TPointError
	MigrationID string
	Index       int
	Operation   string
}

// NewOperationFailed creates a new ErrOperation.
func NewOperationFailed(migrationID string, index int, operation string, cause error) *ErrOperation {
	return &ErrOperation{
		TPointError: TPointError{
			Code:       CodeStore,
			Message:    fmt.Sprintf("migration %s failed at operation %d (%s)", migrationID, index, operation),
			Reason:     "the store rejected the operation; the migration was rolled back",
			Suggestion: fmt.Sprintf("fix the operation and re-run; inspect it with 'tpoint sqlmigrate %s'", migrationID),
			Cause:      cause,
		},
		MigrationID: migrationID,
		Index:       index,
		Operation:   operation,
	}
}

// ErrLedger is returned when the transaction around a migration cannot be
// opened, locked, checked, recorded or committed.
type ErrLedger struct {
	TPointError
	MigrationID string
}

// NewLedgerFailed creates a new ErrLedger.
func NewLedgerFailed(migrationID string, cause error) *ErrLedger {
	return &ErrLedger{
		TPointError: TPointError{
			Code:       CodeStore,
			Message:    fmt.Sprintf("ledger update failed for migration %s", migrationID),
			Reason:     "the migration transaction did not complete; nothing was recorded",
			Suggestion: "check the store and re-run; applied migrations are skipped",
			Cause:      cause,
		},
		MigrationID: migrationID,
	}
}

// ErrUnsupportedOperation is returned when a dialect cannot express an operation.
type ErrUnsupportedOperation struct {
	TPointError
	Dialect   string
	Operation string
}

// NewUnsupportedOperation creates a new ErrUnsupportedOperation.
func NewUnsupportedOperation(dialect, operation, reason string) *ErrUnsupportedOperation {
	return &ErrUnsupportedOperation{
		TPointError: TPointError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("%s is not supported by %s", operation, dialect),
			Reason:     reason,
			Suggestion: "use a run_sql operation or a different store",
		},
		Dialect:   dialect,
		Operation: operation,
	}
}

// ErrInvalidDefinition is returned when a migration definition is malformed.
type ErrInvalidDefinition struct {
	TPointError
	Source string
	Field  string
}

// NewInvalidDefinition creates a new ErrInvalidDefinition.
func NewInvalidDefinition(source, field, reason string) *ErrInvalidDefinition {
	return &ErrInvalidDefinition{
		TPointError: TPointError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid migration definition: %s", source),
			Reason:     fmt.Sprintf("field '%s': %s", field, reason),
			Suggestion: "fix the definition file and run 'tpoint plan' to check it",
		},
		Source: source,
		Field:  field,
	}
}

// ErrMigrationNotFound is returned when a command references an unknown migration.
type ErrMigrationNotFound struct {
	TPointError
	MigrationID string
}

// NewMigrationNotFound creates a new ErrMigrationNotFound.
func NewMigrationNotFound(migrationID string) *ErrMigrationNotFound {
	return &ErrMigrationNotFound{
		TPointError: TPointError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("migration not found: %s", migrationID),
			Reason:     "no definition or ledger record has this id",
			Suggestion: "list migrations with 'tpoint status'",
		},
		MigrationID: migrationID,
	}
}

// ErrStoreUnavailable is returned when the store cannot be opened or reached.
type ErrStoreUnavailable struct {
	TPointError
	Driver string
}

// NewStoreUnavailable creates a new ErrStoreUnavailable.
func NewStoreUnavailable(driver string, cause error) *ErrStoreUnavailable {
	return &ErrStoreUnavailable{
		TPointError: TPointError{
			Code:       CodeStore,
			Message:    fmt.Sprintf("%s store unavailable", driver),
			Reason:     "could not open or ping the database",
			Suggestion: "check database.dsn or run 'tpoint doctor'",
			Cause:      cause,
		},
		Driver: driver,
	}
}

// ErrInvalidEntity is returned when a school entity violates an invariant.
type ErrInvalidEntity struct {
	TPointError
	Entity string
	Field  string
}

// NewInvalidEntity creates a new ErrInvalidEntity.
func NewInvalidEntity(entity, field, reason string) *ErrInvalidEntity {
	return &ErrInvalidEntity{
		TPointError: TPointError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid %s", entity),
			Reason:     fmt.Sprintf("field '%s': %s", field, reason),
			Suggestion: "correct the value and retry",
		},
		Entity: entity,
		Field:  field,
	}
}

// ErrEntityNotFound is returned when a school entity does not exist.
type ErrEntityNotFound struct {
	TPointError
	Entity string
	ID     int64
}

// NewEntityNotFound creates a new ErrEntityNotFound.
func NewEntityNotFound(entity string, id int64) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		TPointError: TPointError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("%s not found: %d", entity, id),
			Reason:     "no row with this id",
			Suggestion: "check the id; inactive rows are hidden unless all rows are requested",
		},
		Entity: entity,
		ID:     id,
	}
}
