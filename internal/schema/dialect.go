package schema

import (
	"fmt"
	"strings"
)

// Dialect renders store-specific fragments of DDL.
// Implementations live in the dialect package.
type Dialect interface {
	// Name identifies the dialect in errors and logs.
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// ColumnType maps a semantic field type to a column type.
	ColumnType(f Field) (string, error)

	// AutoPrimaryKey is the type and constraint clause of an auto primary key.
	AutoPrimaryKey() string

	// Literal renders a default value.
	Literal(v any) (string, error)

	// AlterColumnDefault renders a statement that sets the default of a
	// column, or drops it when literal is empty.
	AlterColumnDefault(table, column, literal string) (string, error)
}

// ColumnDefinition renders the full definition of one column.
func ColumnDefinition(d Dialect, f Field) (string, error) {
	column := d.Quote(f.Column())
	if f.Type == TypeAuto {
		return column + " " + d.AutoPrimaryKey(), nil
	}

	typ, err := d.ColumnType(f)
	if err != nil {
		return "", err
	}
	parts := []string{column, typ}
	if !f.Null {
		parts = append(parts, "NOT NULL")
	}

	switch {
	case f.Default != nil:
		lit, err := d.Literal(f.Default)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Name, err)
		}
		parts = append(parts, "DEFAULT "+lit)
	case f.AutoNow || f.AutoNowAdd:
		parts = append(parts, "DEFAULT CURRENT_TIMESTAMP")
	}

	switch f.Type {
	case TypeEnum:
		values := make([]string, 0, len(f.Choices))
		for _, c := range f.Choices {
			lit, err := d.Literal(c.Value)
			if err != nil {
				return "", fmt.Errorf("field %s: %w", f.Name, err)
			}
			values = append(values, lit)
		}
		parts = append(parts, fmt.Sprintf("CHECK (%s IN (%s))", column, strings.Join(values, ", ")))
	case TypePositiveInteger:
		parts = append(parts, fmt.Sprintf("CHECK (%s >= 0)", column))
	case TypeForeignKey:
		parts = append(parts, fmt.Sprintf("REFERENCES %s (%s) ON DELETE %s",
			d.Quote(TableName(f.To)), d.Quote("id"), f.OnDelete.SQL()))
	}

	return strings.Join(parts, " "), nil
}
