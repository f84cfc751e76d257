package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// EntityType names a synchronized entity (one mapping table, one target table).
type EntityType string

// SourceDatabase selects which upstream connection serves a mapping table.
type SourceDatabase string

const (
	SourceERP SourceDatabase = "erp"
	SourceMES SourceDatabase = "mes"
)

// Schedule groups entities that are triggered together.
type Schedule string

const (
	ScheduleHourly   Schedule = "hourly"
	ScheduleSnapshot Schedule = "snapshot"
	ScheduleDaily    Schedule = "daily"
	ScheduleCalendar Schedule = "calendar"
)

// DefaultDateLayout is the canonical date-key pattern (YYYY-MM-DD).
const DefaultDateLayout = "2006-01-02"

var entityPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

var (
	ErrInvalidEntity    = errors.New("entity key must be lower snake case")
	ErrEmptyQuery       = errors.New("source query is required")
	ErrUnknownSource    = errors.New("unknown source database")
	ErrNoBindings       = errors.New("mapping table has no bindings")
	ErrDuplicateField   = errors.New("duplicate target field")
	ErrDuplicateColumn  = errors.New("duplicate source column")
	ErrUnknownKeyField  = errors.New("natural key names an unmapped field")
	ErrRecentWithoutKey = errors.New("recent marker requires a natural key")
	ErrInvalidLookup    = errors.New("invalid lookup")
	ErrUnknownSchedule  = errors.New("unknown schedule")
)

// Binding ties exactly one source column to exactly one target field.
type Binding struct {
	SourceColumn string
	Target       FieldDescriptor
}

// LookupDayArg is the reserved lookup argument source for the cycle day.
const LookupDayArg = "@day"

// Lookup is a secondary per-record query whose single result column is merged
// into the source record before transformation.
type Lookup struct {
	Name     string
	Database SourceDatabase
	Query    string
	// Args maps a query parameter name to the bound source column supplying its
	// value. LookupDayArg supplies the cycle day.
	Args   map[string]string
	Column string
}

// MappingTable is the declarative definition of one entity's transform.
type MappingTable struct {
	Entity          EntityType
	Description     string
	Database        SourceDatabase
	Query           string
	ParamDefaults   map[string]string
	ParamLayout     string
	DateLayout      string
	IdentityColumns []string
	NaturalKey      []string
	RecentMarker    bool
	AlwaysSnapshot  bool
	Schedules       []Schedule
	Lookups         []Lookup
	Tracking        *LotTracking
	Bindings        []Binding
}

// Fields returns the target field descriptors in binding order.
func (t *MappingTable) Fields() []FieldDescriptor {
	fields := make([]FieldDescriptor, 0, len(t.Bindings))
	for _, b := range t.Bindings {
		fields = append(fields, b.Target)
	}
	return fields
}

// Field looks up a target field by name.
func (t *MappingTable) Field(name string) (FieldDescriptor, bool) {
	for _, b := range t.Bindings {
		if b.Target.Name == name {
			return b.Target, true
		}
	}
	return FieldDescriptor{}, false
}

// EffectiveDateLayout returns the date pattern used to validate date fields.
func (t *MappingTable) EffectiveDateLayout() string {
	if strings.TrimSpace(t.DateLayout) == "" {
		return DefaultDateLayout
	}
	return t.DateLayout
}

// EffectiveParamLayout returns the layout used to format :day/:from/:to parameters.
func (t *MappingTable) EffectiveParamLayout() string {
	if strings.TrimSpace(t.ParamLayout) == "" {
		return DefaultDateLayout
	}
	return t.ParamLayout
}

// HasSchedule reports whether the entity participates in the schedule.
func (t *MappingTable) HasSchedule(s Schedule) bool {
	for _, candidate := range t.Schedules {
		if candidate == s {
			return true
		}
	}
	return false
}

// Validate checks the static consistency of the table: totality of bindings,
// unique names, known types and policies, and key/marker coherence.
func (t *MappingTable) Validate() error {
	if t == nil {
		return errors.New("mapping table is nil")
	}
	if !entityPattern.MatchString(string(t.Entity)) {
		return fmt.Errorf("%w: %q", ErrInvalidEntity, t.Entity)
	}
	wrap := func(err error) error { return fmt.Errorf("entity %s: %w", t.Entity, err) }
	if t.Database != SourceERP && t.Database != SourceMES {
		return wrap(fmt.Errorf("%w %q", ErrUnknownSource, t.Database))
	}
	if strings.TrimSpace(t.Query) == "" {
		return wrap(ErrEmptyQuery)
	}
	if len(t.Bindings) == 0 {
		return wrap(ErrNoBindings)
	}
	fields := make(map[string]struct{}, len(t.Bindings))
	columns := make(map[string]struct{}, len(t.Bindings))
	for _, b := range t.Bindings {
		if strings.TrimSpace(b.SourceColumn) == "" {
			return wrap(fmt.Errorf("field %q has no source column", b.Target.Name))
		}
		if err := b.Target.validate(); err != nil {
			return wrap(err)
		}
		if _, dup := fields[b.Target.Name]; dup {
			return wrap(fmt.Errorf("%w %q", ErrDuplicateField, b.Target.Name))
		}
		if _, dup := columns[b.SourceColumn]; dup {
			return wrap(fmt.Errorf("%w %q", ErrDuplicateColumn, b.SourceColumn))
		}
		fields[b.Target.Name] = struct{}{}
		columns[b.SourceColumn] = struct{}{}
	}
	for _, key := range t.NaturalKey {
		if _, ok := fields[key]; !ok {
			return wrap(fmt.Errorf("%w %q", ErrUnknownKeyField, key))
		}
	}
	if t.RecentMarker && len(t.NaturalKey) == 0 {
		return wrap(ErrRecentWithoutKey)
	}
	for _, s := range t.Schedules {
		switch s {
		case ScheduleHourly, ScheduleSnapshot, ScheduleDaily:
		default:
			return wrap(fmt.Errorf("%w %q", ErrUnknownSchedule, s))
		}
	}
	for _, l := range t.Lookups {
		if strings.TrimSpace(l.Query) == "" || strings.TrimSpace(l.Column) == "" {
			return wrap(fmt.Errorf("%w %q: query and column are required", ErrInvalidLookup, l.Name))
		}
		if l.Database != "" && l.Database != SourceERP && l.Database != SourceMES {
			return wrap(fmt.Errorf("%w %q: %w", ErrInvalidLookup, l.Name, ErrUnknownSource))
		}
		if _, ok := columns[l.Column]; !ok {
			return wrap(fmt.Errorf("%w %q: column %q is not bound", ErrInvalidLookup, l.Name, l.Column))
		}
		for name, column := range l.Args {
			if err := l.checkArg(name, column, columns); err != nil {
				return wrap(err)
			}
		}
	}
	if t.Tracking != nil {
		if err := t.Tracking.validate(fields); err != nil {
			return wrap(err)
		}
	}
	return nil
}

func (l Lookup) checkArg(name, column string, bound map[string]struct{}) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w %q: argument without a name", ErrInvalidLookup, l.Name)
	}
	if !regexp.MustCompile(`:` + regexp.QuoteMeta(name) + `\b`).MatchString(l.Query) {
		return fmt.Errorf("%w %q: argument %q is not used by the query", ErrInvalidLookup, l.Name, name)
	}
	if strings.HasPrefix(column, "@") {
		if column != LookupDayArg {
			return fmt.Errorf("%w %q: argument %q uses unknown token %q", ErrInvalidLookup, l.Name, name, column)
		}
		return nil
	}
	if _, ok := bound[column]; !ok {
		return fmt.Errorf("%w %q: argument %q reads unbound column %q", ErrInvalidLookup, l.Name, name, column)
	}
	return nil
}
