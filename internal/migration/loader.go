package migration

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/schema"
)

// definition is the YAML form of one migration file.
type definition struct {
	ID           string          `yaml:"id"`
	Dependencies []string        `yaml:"dependencies" validate:"dive,required"`
	Operations   []operationSpec `yaml:"operations" validate:"required,min=1,dive"`
}

// operationSpec holds exactly one operation.
type operationSpec struct {
	CreateEntity *schema.CreateEntity `yaml:"create_entity,omitempty" validate:"omitempty"`
	AddField     *schema.AddField     `yaml:"add_field,omitempty" validate:"omitempty"`
	AddRelation  *schema.AddRelation  `yaml:"add_relation,omitempty" validate:"omitempty"`
	AlterDefault *schema.AlterDefault `yaml:"alter_default,omitempty" validate:"omitempty"`
	AddIndex     *schema.AddIndex     `yaml:"add_index,omitempty" validate:"omitempty"`
	DropEntity   *schema.DropEntity   `yaml:"drop_entity,omitempty" validate:"omitempty"`
	RunSQL       *schema.RunSQL       `yaml:"run_sql,omitempty" validate:"omitempty"`
}

func (s operationSpec) operation() (schema.Operation, error) {
	var set []schema.Operation
	if s.CreateEntity != nil {
		set = append(set, s.CreateEntity)
	}
	if s.AddField != nil {
		set = append(set, s.AddField)
	}
	if s.AddRelation != nil {
		set = append(set, s.AddRelation)
	}
	if s.AlterDefault != nil {
		set = append(set, s.AlterDefault)
	}
	if s.AddIndex != nil {
		set = append(set, s.AddIndex)
	}
	if s.DropEntity != nil {
		set = append(set, s.DropEntity)
	}
	if s.RunSQL != nil {
		set = append(set, s.RunSQL)
	}
	if len(set) != 1 {
		return nil, fmt.Errorf("expected exactly one operation key, got %d", len(set))
	}
	return set[0], nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report definition keys rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads every .yaml or .yml file directly under root in lexical order,
// one migration per file. A file without an id takes its base name without
// extension. The result is in file order, ready for Plan.
func Load(fsys fs.FS, root string) ([]Migration, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, errors.NewInvalidDefinition(root, "directory", err.Error())
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch path.Ext(entry.Name()) {
		case ".yaml", ".yml":
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	migrations := make([]Migration, 0, len(files))
	for _, name := range files {
		source := path.Join(root, name)
		data, err := fs.ReadFile(fsys, source)
		if err != nil {
			return nil, errors.NewInvalidDefinition(source, "file", err.Error())
		}
		m, err := Parse(source, data)
		if err != nil {
			return nil, err
		}
		if m.ID == "" {
			m.ID = strings.TrimSuffix(name, path.Ext(name))
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}

// LoadDir loads migrations from a directory on disk.
func LoadDir(dir string) ([]Migration, error) {
	return Load(os.DirFS(dir), ".")
}

// Parse decodes and validates one migration definition.
func Parse(source string, data []byte) (Migration, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def definition
	if err := dec.Decode(&def); err != nil {
		if stderrors.Is(err, io.EOF) {
			return Migration{}, errors.NewInvalidDefinition(source, "operations", "file is empty")
		}
		return Migration{}, errors.NewInvalidDefinition(source, "yaml", err.Error())
	}

	if err := validate.Struct(def); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Migration{}, errors.NewInvalidDefinition(source, trimNamespace(fe.Namespace()),
				fmt.Sprintf("failed '%s' validation", validationRule(fe)))
		}
		return Migration{}, errors.NewInvalidDefinition(source, "definition", err.Error())
	}

	m := Migration{
		ID:           def.ID,
		Dependencies: def.Dependencies,
		Operations:   make([]schema.Operation, 0, len(def.Operations)),
		Source:       source,
	}
	for i, spec := range def.Operations {
		field := fmt.Sprintf("operations[%d]", i)
		op, err := spec.operation()
		if err != nil {
			return Migration{}, errors.NewInvalidDefinition(source, field, err.Error())
		}
		if err := op.Validate(); err != nil {
			return Migration{}, errors.NewInvalidDefinition(source, field+"."+op.Kind(), err.Error())
		}
		m.Operations = append(m.Operations, op)
	}
	return m, nil
}

func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationRule(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}
