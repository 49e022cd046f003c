// Package schema defines the declarative schema-change operations that make
// up a migration, and renders them into DDL through a Dialect.
//
// Entities are named in CamelCase (AcademicYear) and stored in snake_case
// tables (academic_year). Foreign-key fields are stored in a column with an
// "_id" suffix.
package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// FieldType is the semantic type of a field, independent of any store.
type FieldType string

const (
	TypeAuto            FieldType = "auto"
	TypeBoolean         FieldType = "boolean"
	TypeSmallInt        FieldType = "smallint"
	TypeInteger         FieldType = "integer"
	TypePositiveInteger FieldType = "positive_integer"
	TypeChar            FieldType = "char"
	TypeText            FieldType = "text"
	TypeRichText        FieldType = "rich_text"
	TypeDate            FieldType = "date"
	TypeDateTime        FieldType = "datetime"
	TypeEnum            FieldType = "enum"
	TypeImage           FieldType = "image"
	TypeForeignKey      FieldType = "foreign_key"
)

// OnDelete is the policy the store applies to dependent rows when the
// referenced row is deleted.
type OnDelete string

const (
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteSetNull  OnDelete = "set_null"
	OnDeleteRestrict OnDelete = "restrict"
	OnDeleteNoAction OnDelete = "no_action"
)

// SQL returns the referential action keyword.
func (o OnDelete) SQL() string {
	switch o {
	case OnDeleteCascade:
		return "CASCADE"
	case OnDeleteSetNull:
		return "SET NULL"
	case OnDeleteRestrict:
		return "RESTRICT"
	default:
		return "NO ACTION"
	}
}

// ImageMaxLength is the column length used for image references when the
// field does not set one.
const ImageMaxLength = 255

// Choice is one allowed value of an enum field.
type Choice struct {
	Value string `yaml:"value" validate:"required"`
	Label string `yaml:"label"`
}

// Field describes one column of an entity.
type Field struct {
	Name        string    `yaml:"name" validate:"required"`
	Type        FieldType `yaml:"type" validate:"required,oneof=auto boolean smallint integer positive_integer char text rich_text date datetime enum image foreign_key"`
	MaxLength   int       `yaml:"max_length,omitempty" validate:"gte=0"`
	Null        bool      `yaml:"null,omitempty"`
	Blank       bool      `yaml:"blank,omitempty"`
	Default     any       `yaml:"default,omitempty"`
	Choices     []Choice  `yaml:"choices,omitempty" validate:"dive"`
	AutoNow     bool      `yaml:"auto_now,omitempty"`
	AutoNowAdd  bool      `yaml:"auto_now_add,omitempty"`
	VerboseName string    `yaml:"verbose_name,omitempty"`

	// Relation settings, only for foreign_key fields.
	To          string   `yaml:"to,omitempty"`
	OnDelete    OnDelete `yaml:"on_delete,omitempty" validate:"omitempty,oneof=cascade set_null restrict no_action"`
	RelatedName string   `yaml:"related_name,omitempty"`
}

// Column returns the stored column name.
func (f Field) Column() string {
	if f.Type == TypeForeignKey {
		return f.Name + "_id"
	}
	return f.Name
}

// Validate checks the per-type rules that struct tags cannot express.
func (f Field) Validate() error {
	switch f.Type {
	case TypeChar, TypeEnum:
		if f.MaxLength <= 0 {
			return fmt.Errorf("field %s: %s requires max_length", f.Name, f.Type)
		}
	case TypeAuto:
		if f.Null {
			return fmt.Errorf("field %s: auto primary key cannot be null", f.Name)
		}
	case TypeForeignKey:
		if f.To == "" {
			return fmt.Errorf("field %s: foreign_key requires 'to'", f.Name)
		}
		if f.OnDelete == "" {
			return fmt.Errorf("field %s: foreign_key requires 'on_delete'", f.Name)
		}
		if f.OnDelete == OnDeleteSetNull && !f.Null {
			return fmt.Errorf("field %s: on_delete set_null requires null: true", f.Name)
		}
	}

	if f.Type != TypeForeignKey && (f.To != "" || f.OnDelete != "") {
		return fmt.Errorf("field %s: 'to' and 'on_delete' are only valid on foreign_key", f.Name)
	}
	if f.Type != TypeEnum && len(f.Choices) > 0 {
		return fmt.Errorf("field %s: choices are only valid on enum", f.Name)
	}
	if (f.AutoNow || f.AutoNowAdd) && f.Type != TypeDateTime && f.Type != TypeDate {
		return fmt.Errorf("field %s: auto_now requires a date or datetime field", f.Name)
	}

	if f.Type == TypeEnum {
		if len(f.Choices) == 0 {
			return fmt.Errorf("field %s: enum requires choices", f.Name)
		}
		for _, c := range f.Choices {
			if len(c.Value) > f.MaxLength {
				return fmt.Errorf("field %s: choice %q exceeds max_length %d", f.Name, c.Value, f.MaxLength)
			}
		}
	}

	if f.Default != nil {
		return f.validateDefault()
	}
	return nil
}

func (f Field) validateDefault() error {
	switch f.Type {
	case TypeBoolean:
		if _, ok := f.Default.(bool); !ok {
			return fmt.Errorf("field %s: default must be a boolean", f.Name)
		}
	case TypeSmallInt, TypeInteger, TypePositiveInteger:
		n, ok := f.Default.(int)
		if !ok {
			return fmt.Errorf("field %s: default must be an integer", f.Name)
		}
		if f.Type == TypePositiveInteger && n < 0 {
			return fmt.Errorf("field %s: default must not be negative", f.Name)
		}
	case TypeChar, TypeText, TypeRichText, TypeImage:
		if _, ok := f.Default.(string); !ok {
			return fmt.Errorf("field %s: default must be a string", f.Name)
		}
	case TypeEnum:
		s, ok := f.Default.(string)
		if !ok || !f.hasChoice(s) {
			return fmt.Errorf("field %s: default %v is not one of the choices", f.Name, f.Default)
		}
	default:
		return fmt.Errorf("field %s: %s fields cannot declare a default", f.Name, f.Type)
	}
	return nil
}

func (f Field) hasChoice(value string) bool {
	for _, c := range f.Choices {
		if c.Value == value {
			return true
		}
	}
	return false
}

// AuditFields returns the lifecycle columns shared by every audited entity:
// the soft-delete flag and the store-managed timestamps.
func AuditFields() []Field {
	return []Field{
		{Name: "is_active", Type: TypeBoolean, Default: true},
		{Name: "updated_date", Type: TypeDateTime, AutoNow: true},
		{Name: "created_date", Type: TypeDateTime, AutoNowAdd: true},
	}
}

// TableName converts an entity name to its table name.
// AcademicYear becomes academic_year.
func TableName(entity string) string {
	runes := []rune(entity)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
