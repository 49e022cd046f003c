package schema

import (
	"fmt"
	"strings"

	tsql "github.com/tpoint-labs/tpoint/internal/sql"
)

// Operation is one schema change inside a migration.
type Operation interface {
	// Kind is the definition key of the operation, e.g. "create_entity".
	Kind() string

	// Describe is a short human-readable summary used in errors and logs.
	Describe() string

	// Validate checks the operation definition without touching a store.
	Validate() error

	// Statements renders the SQL that performs the operation.
	Statements(d Dialect) ([]string, error)
}

// CreateEntity creates the table of a new entity. An "id" auto primary key is
// added when no auto field is declared; Audited entities also receive the
// lifecycle columns from AuditFields.
type CreateEntity struct {
	Name              string  `yaml:"name" validate:"required"`
	Audited           bool    `yaml:"audited,omitempty"`
	Fields            []Field `yaml:"fields" validate:"dive"`
	VerboseName       string  `yaml:"verbose_name,omitempty"`
	VerboseNamePlural string  `yaml:"verbose_name_plural,omitempty"`
}

func (o *CreateEntity) Kind() string { return "create_entity" }

func (o *CreateEntity) Describe() string { return "create entity " + o.Name }

// Table returns the table name of the entity.
func (o *CreateEntity) Table() string { return TableName(o.Name) }

// AllFields returns the declared fields with the implicit ones added.
func (o *CreateEntity) AllFields() []Field {
	fields := make([]Field, 0, len(o.Fields)+4)
	hasAuto := false
	for _, f := range o.Fields {
		if f.Type == TypeAuto {
			hasAuto = true
			break
		}
	}
	if !hasAuto {
		fields = append(fields, Field{Name: "id", Type: TypeAuto, VerboseName: "ID"})
	}
	if o.Audited {
		fields = append(fields, AuditFields()...)
	}
	return append(fields, o.Fields...)
}

func (o *CreateEntity) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("create_entity: name is required")
	}
	seen := make(map[string]bool)
	autos := 0
	for _, f := range o.AllFields() {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("create_entity %s: %w", o.Name, err)
		}
		if seen[f.Column()] {
			return fmt.Errorf("create_entity %s: duplicate column %s", o.Name, f.Column())
		}
		seen[f.Column()] = true
		if f.Type == TypeAuto {
			autos++
		}
	}
	if autos > 1 {
		return fmt.Errorf("create_entity %s: only one auto field is allowed", o.Name)
	}
	return nil
}

func (o *CreateEntity) Statements(d Dialect) ([]string, error) {
	fields := o.AllFields()
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		def, err := ColumnDefinition(d, f)
		if err != nil {
			return nil, err
		}
		columns = append(columns, "    "+def)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.Quote(o.Table()), strings.Join(columns, ",\n"))
	return []string{stmt}, nil
}

// AddField adds one column to an existing entity.
type AddField struct {
	Entity string `yaml:"entity" validate:"required"`
	Field  Field  `yaml:"field"`
}

func (o *AddField) Kind() string { return "add_field" }

func (o *AddField) Describe() string {
	return fmt.Sprintf("add field %s to %s", o.Field.Name, o.Entity)
}

func (o *AddField) Validate() error {
	if o.Field.Type == TypeAuto {
		return fmt.Errorf("add_field %s: an auto primary key cannot be added to an existing entity", o.Field.Name)
	}
	return o.Field.Validate()
}

func (o *AddField) Statements(d Dialect) ([]string, error) {
	def, err := ColumnDefinition(d, o.Field)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(TableName(o.Entity)), def)}, nil
}

// AddRelation adds a foreign key from Entity to the entity named by To.
type AddRelation struct {
	Entity      string   `yaml:"entity" validate:"required"`
	Name        string   `yaml:"name" validate:"required"`
	To          string   `yaml:"to" validate:"required"`
	OnDelete    OnDelete `yaml:"on_delete" validate:"required,oneof=cascade set_null restrict no_action"`
	Null        bool     `yaml:"null,omitempty"`
	RelatedName string   `yaml:"related_name,omitempty"`
}

func (o *AddRelation) Kind() string { return "add_relation" }

func (o *AddRelation) Describe() string {
	return fmt.Sprintf("add relation %s.%s -> %s (on delete %s)", o.Entity, o.Name, o.To, o.OnDelete)
}

// Field returns the foreign-key field the relation adds.
func (o *AddRelation) Field() Field {
	return Field{
		Name:        o.Name,
		Type:        TypeForeignKey,
		Null:        o.Null,
		To:          o.To,
		OnDelete:    o.OnDelete,
		RelatedName: o.RelatedName,
	}
}

func (o *AddRelation) Validate() error {
	return o.Field().Validate()
}

func (o *AddRelation) Statements(d Dialect) ([]string, error) {
	add := &AddField{Entity: o.Entity, Field: o.Field()}
	return add.Statements(d)
}

// AlterDefault sets the default of an existing column. A nil Default drops it.
type AlterDefault struct {
	Entity  string `yaml:"entity" validate:"required"`
	Column  string `yaml:"column" validate:"required"`
	Default any    `yaml:"default"`
}

func (o *AlterDefault) Kind() string { return "alter_default" }

func (o *AlterDefault) Describe() string {
	if o.Default == nil {
		return fmt.Sprintf("drop default of %s.%s", o.Entity, o.Column)
	}
	return fmt.Sprintf("set default of %s.%s to %v", o.Entity, o.Column, o.Default)
}

func (o *AlterDefault) Validate() error {
	switch o.Default.(type) {
	case nil, bool, int, string:
		return nil
	default:
		return fmt.Errorf("alter_default %s.%s: unsupported default %v", o.Entity, o.Column, o.Default)
	}
}

func (o *AlterDefault) Statements(d Dialect) ([]string, error) {
	lit := ""
	if o.Default != nil {
		var err error
		if lit, err = d.Literal(o.Default); err != nil {
			return nil, err
		}
	}
	stmt, err := d.AlterColumnDefault(TableName(o.Entity), o.Column, lit)
	if err != nil {
		return nil, err
	}
	return []string{stmt}, nil
}

// AddIndex creates an index over columns of an entity. ActiveOnly restricts
// the index to rows whose is_active flag is set, which makes a unique index
// ignore soft-deleted rows.
type AddIndex struct {
	Entity     string   `yaml:"entity" validate:"required"`
	Name       string   `yaml:"name,omitempty"`
	Columns    []string `yaml:"columns" validate:"required,min=1,dive,required"`
	Unique     bool     `yaml:"unique,omitempty"`
	ActiveOnly bool     `yaml:"active_only,omitempty"`
}

func (o *AddIndex) Kind() string { return "add_index" }

func (o *AddIndex) Describe() string {
	return fmt.Sprintf("add index %s on %s", o.IndexName(), o.Entity)
}

// IndexName returns the explicit name or one derived from table and columns.
func (o *AddIndex) IndexName() string {
	if o.Name != "" {
		return o.Name
	}
	suffix := "idx"
	if o.Unique {
		suffix = "uniq"
	}
	return fmt.Sprintf("%s_%s_%s", TableName(o.Entity), strings.Join(o.Columns, "_"), suffix)
}

func (o *AddIndex) Validate() error {
	if len(o.Columns) == 0 {
		return fmt.Errorf("add_index on %s: at least one column is required", o.Entity)
	}
	return nil
}

func (o *AddIndex) Statements(d Dialect) ([]string, error) {
	cols := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		cols[i] = d.Quote(c)
	}
	unique := ""
	if o.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.Quote(o.IndexName()), d.Quote(TableName(o.Entity)), strings.Join(cols, ", "))
	if o.ActiveOnly {
		stmt += fmt.Sprintf(" WHERE %s", d.Quote("is_active"))
	}
	return []string{stmt}, nil
}

// DropEntity drops the table of an entity.
type DropEntity struct {
	Name string `yaml:"name" validate:"required"`
}

func (o *DropEntity) Kind() string { return "drop_entity" }

func (o *DropEntity) Describe() string { return "drop entity " + o.Name }

func (o *DropEntity) Validate() error { return nil }

func (o *DropEntity) Statements(d Dialect) ([]string, error) {
	return []string{"DROP TABLE " + d.Quote(TableName(o.Name))}, nil
}

// RunSQL executes raw statements. Transaction control is rejected because
// the applier owns the transaction of the migration.
type RunSQL struct {
	SQL         string `yaml:"sql" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

func (o *RunSQL) Kind() string { return "run_sql" }

func (o *RunSQL) Describe() string {
	if o.Description != "" {
		return "run sql: " + o.Description
	}
	return "run sql"
}

func (o *RunSQL) Validate() error {
	_, err := tsql.Split(o.SQL)
	return err
}

func (o *RunSQL) Statements(d Dialect) ([]string, error) {
	stmts, err := tsql.Split(o.SQL)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.Text
	}
	return out, nil
}
