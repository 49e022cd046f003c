// Package school holds the entities of the training-point tracker and a
// repository over the schema the embedded migrations create.
package school

import (
	stderrors "errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tpoint-labs/tpoint/internal/errors"
	"github.com/tpoint-labs/tpoint/internal/schema"
)

// Entity names an entity of the school schema.
type Entity string

const (
	EntityActorKind         Entity = "ActorKind"
	EntityAcademicYear      Entity = "AcademicYear"
	EntitySemester          Entity = "Semester"
	EntityEducationalSystem Entity = "EducationalSystem"
	EntityFaculty           Entity = "Faculty"
	EntityMajor             Entity = "Major"
	EntityClass             Entity = "Class"
	EntityCriterion         Entity = "Criterion"
	EntityActivity          Entity = "Activity"
	EntityDeficiencyReport  Entity = "DeficiencyReport"
	EntityParticipation     Entity = "Participation"
	EntityTrainingPoint     Entity = "TrainingPoint"
)

// Table returns the table the entity is stored in.
func (e Entity) Table() string {
	return schema.TableName(string(e))
}

// State is the soft-delete state of a row.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
)

func stateOf(active bool) State {
	if active {
		return StateActive
	}
	return StateInactive
}

// OrganizationalForm is how an activity is held.
type OrganizationalForm string

const (
	FormOnline  OrganizationalForm = "Onl"
	FormOffline OrganizationalForm = "Off"
)

// Label returns the display label of the form.
func (f OrganizationalForm) Label() string {
	switch f {
	case FormOnline:
		return "Online"
	case FormOffline:
		return "Offline"
	default:
		return string(f)
	}
}

// Audit holds the lifecycle columns every entity carries.
type Audit struct {
	ID          int64     `json:"id"`
	State       State     `json:"state"`
	CreatedDate time.Time `json:"created_date"`
	UpdatedDate time.Time `json:"updated_date"`
}

// Active reports whether the row is visible to default queries.
func (a Audit) Active() bool {
	return a.State != StateInactive
}

// ActorKind is a registered kind of actor, such as a student or an officer.
type ActorKind struct {
	ID       int64  `json:"id"`
	AppLabel string `json:"app_label" validate:"required,max=100"`
	Model    string `json:"model" validate:"required,max=100"`
}

// ActorRef points at an actor of any kind: the kind in the registry and the
// id of the actor within that kind.
type ActorRef struct {
	Kind int64 `json:"kind" validate:"gt=0"`
	ID   int64 `json:"id" validate:"gte=0"`
}

type AcademicYear struct {
	Audit
	Name      string    `json:"name" validate:"required,max=20"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

type Semester struct {
	Audit
	Name      string    `json:"name" validate:"required,max=10"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// Reference is a row of one of the name-only reference tables:
// EducationalSystem, Faculty or Major.
type Reference struct {
	Audit
	Entity Entity `json:"entity" validate:"oneof=EducationalSystem Faculty Major"`
	Name   string `json:"name" validate:"required,max=30"`
}

type Class struct {
	Audit
	Name           string `json:"name" validate:"required,max=20"`
	AcademicYearID int64  `json:"academic_year_id" validate:"gt=0"`
}

type Criterion struct {
	Audit
	Name        string `json:"name" validate:"required,max=20"`
	MaxPoint    int16  `json:"max_point" validate:"gte=0"`
	Description string `json:"description"`
}

type Activity struct {
	Audit
	OrganizationalForm OrganizationalForm `json:"organizational_form" validate:"oneof=Onl Off"`
	Name               string             `json:"name" validate:"required,max=20"`
	Participant        string             `json:"participant" validate:"required,max=20"`
	StartDate          time.Time          `json:"start_date" validate:"required"`
	EndDate            time.Time          `json:"end_date" validate:"required,gtefield=StartDate"`
	Location           string             `json:"location" validate:"required,max=255"`
	Point              int16              `json:"point"`
	Description        string             `json:"description"`
	CreatedBy          ActorRef           `json:"created_by"`
	// CriterionID is nil when the activity has no criterion, including after
	// its criterion was deleted.
	CriterionID *int64 `json:"criterion_id,omitempty"`
}

type DeficiencyReport struct {
	Audit
	IsResolved bool    `json:"is_resolved"`
	Image      *string `json:"image,omitempty" validate:"omitempty,max=255"`
	Content    *string `json:"content,omitempty"`
	ActivityID int64   `json:"activity_id" validate:"gt=0"`
}

// Participation and TrainingPoint carry no relations in this schema.
type Participation struct {
	Audit
	IsAttendance bool `json:"is_attendance"`
	IsPointAdded bool `json:"is_point_added"`
}

type TrainingPoint struct {
	Audit
	Point int16 `json:"point"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates v and reports the first violation as ErrInvalidEntity.
func check(entity Entity, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewInvalidEntity(string(entity), fe.Field(), describeRule(fe))
	}
	return errors.NewInvalidEntity(string(entity), "", err.Error())
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be less than " + fe.Param()
	case "gtfield":
		return "must be after " + fe.Param()
	case "gtefield":
		return "must not be before " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed '" + fe.Tag() + "' validation"
	}
}

func (a *AcademicYear) Validate() error     { return check(EntityAcademicYear, a) }
func (s *Semester) Validate() error         { return check(EntitySemester, s) }
func (r *Reference) Validate() error        { return check(r.Entity, r) }
func (c *Class) Validate() error            { return check(EntityClass, c) }
func (c *Criterion) Validate() error        { return check(EntityCriterion, c) }
func (k *ActorKind) Validate() error        { return check(EntityActorKind, k) }
func (d *DeficiencyReport) Validate() error { return check(EntityDeficiencyReport, d) }

func (a *Activity) Validate() error {
	if a.OrganizationalForm == "" {
		a.OrganizationalForm = FormOffline
	}
	return check(EntityActivity, a)
}
