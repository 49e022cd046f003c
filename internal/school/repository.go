package school

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tpoint-labs/tpoint/internal/dialect"
	"github.com/tpoint-labs/tpoint/internal/errors"
)

// Scope selects which rows a query sees.
type Scope int

const (
	// ScopeActive hides soft-deleted rows. It is the default.
	ScopeActive Scope = iota
	// ScopeAll includes soft-deleted rows.
	ScopeAll
)

// Repository reads and writes school entities. It relies on the store to
// enforce relations: purging a row cascades to, or nulls, its dependents as
// the schema declares.
type Repository struct {
	db      *sql.DB
	dialect dialect.Dialect
	now     func() time.Time
}

// NewRepository creates a repository over a migrated store.
func NewRepository(db *sql.DB, d dialect.Dialect) *Repository {
	return &Repository{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// query rewrites "?" placeholders for the dialect.
func (r *Repository) query(q string) string {
	if r.dialect.Placeholder(1) == "?" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteString(r.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *Repository) insert(ctx context.Context, entity Entity, columns []string, args ...any) (int64, error) {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = r.dialect.Quote(c)
		marks[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		r.dialect.Quote(entity.Table()), strings.Join(quoted, ", "), strings.Join(marks, ", "), r.dialect.Quote("id"))

	var id int64
	if err := r.db.QueryRowContext(ctx, r.query(q), args...).Scan(&id); err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return 0, errors.NewInvalidEntity(string(entity), "name", "already used by an active row")
		}
		return 0, fmt.Errorf("insert %s: %w", entity, err)
	}
	return id, nil
}

func scopeClause(scope Scope, where string) string {
	if scope == ScopeAll {
		return where
	}
	if where == "" {
		return ` WHERE "is_active"`
	}
	return where + ` AND "is_active"`
}

const auditColumns = `"id", "is_active", "created_date", "updated_date"`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudit(row rowScanner, a *Audit, rest ...any) error {
	var active bool
	dest := append([]any{&a.ID, &active, &a.CreatedDate, &a.UpdatedDate}, rest...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	a.State = stateOf(active)
	return nil
}

// RegisterActorKind returns the kind for appLabel and model, creating it if needed.
func (r *Repository) RegisterActorKind(ctx context.Context, appLabel, model string) (*ActorKind, error) {
	kind := &ActorKind{AppLabel: appLabel, Model: model}
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	q := r.query(`SELECT "id" FROM "actor_kind" WHERE "app_label" = ? AND "model" = ?`)
	err := r.db.QueryRowContext(ctx, q, appLabel, model).Scan(&kind.ID)
	if err == nil {
		return kind, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup actor kind: %w", err)
	}

	if kind.ID, err = r.insert(ctx, EntityActorKind, []string{"app_label", "model"}, appLabel, model); err != nil {
		return nil, err
	}
	return kind, nil
}

// ResolveActor returns the registered kind an actor reference points at.
func (r *Repository) ResolveActor(ctx context.Context, ref ActorRef) (*ActorKind, error) {
	kind := &ActorKind{ID: ref.Kind}
	q := r.query(`SELECT "app_label", "model" FROM "actor_kind" WHERE "id" = ?`)
	if err := r.db.QueryRowContext(ctx, q, ref.Kind).Scan(&kind.AppLabel, &kind.Model); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewEntityNotFound(string(EntityActorKind), ref.Kind)
		}
		return nil, fmt.Errorf("resolve actor kind: %w", err)
	}
	return kind, nil
}

// CreateAcademicYear stores a new academic year and sets its ID.
func (r *Repository) CreateAcademicYear(ctx context.Context, y *AcademicYear) error {
	if err := y.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, EntityAcademicYear, []string{"name", "start_date", "end_date"},
		y.Name, y.StartDate, y.EndDate)
	if err != nil {
		return err
	}
	y.ID, y.State = id, StateActive
	return nil
}

// ListAcademicYears returns academic years ordered by start date.
func (r *Repository) ListAcademicYears(ctx context.Context, scope Scope) ([]AcademicYear, error) {
	q := `SELECT ` + auditColumns + `, "name", "start_date", "end_date" FROM "academic_year"` +
		scopeClause(scope, "") + ` ORDER BY "start_date", "id"`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list academic years: %w", err)
	}
	defer rows.Close()

	var years []AcademicYear
	for rows.Next() {
		var y AcademicYear
		if err := scanAudit(rows, &y.Audit, &y.Name, &y.StartDate, &y.EndDate); err != nil {
			return nil, fmt.Errorf("scan academic year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// CreateSemester stores a new semester and sets its ID.
func (r *Repository) CreateSemester(ctx context.Context, s *Semester) error {
	if err := s.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, EntitySemester, []string{"name", "start_date", "end_date"},
		s.Name, s.StartDate, s.EndDate)
	if err != nil {
		return err
	}
	s.ID, s.State = id, StateActive
	return nil
}

// CreateReference stores a new educational system, faculty or major.
// Names are unique among active rows of the same entity.
func (r *Repository) CreateReference(ctx context.Context, ref *Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, ref.Entity, []string{"name"}, ref.Name)
	if err != nil {
		return err
	}
	ref.ID, ref.State = id, StateActive
	return nil
}

// ListReferences returns the rows of one reference entity ordered by name.
func (r *Repository) ListReferences(ctx context.Context, entity Entity, scope Scope) ([]Reference, error) {
	probe := Reference{Entity: entity, Name: "x"}
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	q := `SELECT ` + auditColumns + `, "name" FROM ` + r.dialect.Quote(entity.Table()) +
		scopeClause(scope, "") + ` ORDER BY "name", "id"`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		ref := Reference{Entity: entity}
		if err := scanAudit(rows, &ref.Audit, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entity, err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// CreateClass stores a new class of an academic year.
func (r *Repository) CreateClass(ctx context.Context, c *Class) error {
	if err := c.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, EntityClass, []string{"name", "academic_year_id"}, c.Name, c.AcademicYearID)
	if err != nil {
		return err
	}
	c.ID, c.State = id, StateActive
	return nil
}

// ListClasses returns the classes of an academic year.
func (r *Repository) ListClasses(ctx context.Context, academicYearID int64, scope Scope) ([]Class, error) {
	q := r.query(`SELECT ` + auditColumns + `, "name", "academic_year_id" FROM "class"` +
		scopeClause(scope, ` WHERE "academic_year_id" = ?`) + ` ORDER BY "name", "id"`)
	rows, err := r.db.QueryContext(ctx, q, academicYearID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	var classes []Class
	for rows.Next() {
		var c Class
		if err := scanAudit(rows, &c.Audit, &c.Name, &c.AcademicYearID); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// CreateCriterion stores a new criterion.
func (r *Repository) CreateCriterion(ctx context.Context, c *Criterion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, EntityCriterion, []string{"name", "max_point", "description"},
		c.Name, c.MaxPoint, c.Description)
	if err != nil {
		return err
	}
	c.ID, c.State = id, StateActive
	return nil
}

// CreateActivity stores a new activity. Its creator kind must be registered.
func (r *Repository) CreateActivity(ctx context.Context, a *Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, EntityActivity,
		[]string{"organizational_form", "name", "participant", "start_date", "end_date", "location",
			"point", "description", "created_by_id", "created_by_type_id", "criterion_id"},
		string(a.OrganizationalForm), a.Name, a.Participant, a.StartDate, a.EndDate, a.Location,
		a.Point, a.Description, a.CreatedBy.ID, a.CreatedBy.Kind, a.CriterionID)
	if err != nil {
		return err
	}
	a.ID, a.State = id, StateActive
	return nil
}

// GetActivity returns one activity.
func (r *Repository) GetActivity(ctx context.Context, id int64, scope Scope) (*Activity, error) {
	q := r.query(`SELECT ` + auditColumns + `, "organizational_form", "name", "participant", "start_date",
		"end_date", "location", "point", "description", "created_by_id", "created_by_type_id", "criterion_id"
		FROM "activity"` + scopeClause(scope, ` WHERE "id" = ?`))

	var (
		a         Activity
		form      string
		criterion sql.NullInt64
	)
	err := scanAudit(r.db.QueryRowContext(ctx, q, id), &a.Audit,
		&form, &a.Name, &a.Participant, &a.StartDate, &a.EndDate, &a.Location,
		&a.Point, &a.Description, &a.CreatedBy.ID, &a.CreatedBy.Kind, &criterion)
	if err == sql.ErrNoRows {
		return nil, errors.NewEntityNotFound(string(EntityActivity), id)
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	a.OrganizationalForm = OrganizationalForm(form)
	if criterion.Valid {
		a.CriterionID = &criterion.Int64
	}
	return &a, nil
}

// CreateDeficiencyReport stores a new report against an activity.
func (r *Repository) CreateDeficiencyReport(ctx context.Context, d *DeficiencyReport) error {
	if err := d.Validate(); err != nil {
		return err
	}
	id, err := r.insert(ctx, EntityDeficiencyReport, []string{"is_resolved", "image", "content", "activity_id"},
		d.IsResolved, d.Image, d.Content, d.ActivityID)
	if err != nil {
		return err
	}
	d.ID, d.State = id, StateActive
	return nil
}

// ListDeficiencyReports returns the reports of an activity.
func (r *Repository) ListDeficiencyReports(ctx context.Context, activityID int64, scope Scope) ([]DeficiencyReport, error) {
	q := r.query(`SELECT ` + auditColumns + `, "is_resolved", "image", "content", "activity_id" FROM "deficiency_report"` +
		scopeClause(scope, ` WHERE "activity_id" = ?`) + ` ORDER BY "id"`)
	rows, err := r.db.QueryContext(ctx, q, activityID)
	if err != nil {
		return nil, fmt.Errorf("list deficiency reports: %w", err)
	}
	defer rows.Close()

	var reports []DeficiencyReport
	for rows.Next() {
		var (
			d              DeficiencyReport
			image, content sql.NullString
		)
		if err := scanAudit(rows, &d.Audit, &d.IsResolved, &image, &content, &d.ActivityID); err != nil {
			return nil, fmt.Errorf("scan deficiency report: %w", err)
		}
		if image.Valid {
			d.Image = &image.String
		}
		if content.Valid {
			d.Content = &content.String
		}
		reports = append(reports, d)
	}
	return reports, rows.Err()
}

// Deactivate soft-deletes a row and refreshes its updated_date. Dependents
// are untouched; default queries stop returning the row.
func (r *Repository) Deactivate(ctx context.Context, entity Entity, id int64) error {
	q := r.query(fmt.Sprintf(`UPDATE %s SET "is_active" = ?, "updated_date" = ? WHERE "id" = ?`,
		r.dialect.Quote(entity.Table())))
	return r.exec(ctx, entity, id, q, false, r.now(), id)
}

// Purge hard-deletes a row. The store cascades or nulls dependents.
func (r *Repository) Purge(ctx context.Context, entity Entity, id int64) error {
	q := r.query(fmt.Sprintf(`DELETE FROM %s WHERE "id" = ?`, r.dialect.Quote(entity.Table())))
	return r.exec(ctx, entity, id, q, id)
}

func (r *Repository) exec(ctx context.Context, entity Entity, id int64, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", entity, id, err)
	}
	if n == 0 {
		return errors.NewEntityNotFound(string(entity), id)
	}
	return nil
}
