package mapping

import (
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

type document struct {
	Entities []tableDoc `yaml:"entities"`
}

type tableDoc struct {
	Entity         string            `yaml:"entity"`
	Description    string            `yaml:"description"`
	Database       string            `yaml:"database"`
	Query          string            `yaml:"query"`
	Params         map[string]string `yaml:"params"`
	ParamLayout    string            `yaml:"param_layout"`
	DateLayout     string            `yaml:"date_layout"`
	Identity       []string          `yaml:"identity"`
	NaturalKey     []string          `yaml:"natural_key"`
	RecentMarker   bool              `yaml:"recent_marker"`
	AlwaysSnapshot bool              `yaml:"always_snapshot"`
	Schedules      []string          `yaml:"schedules"`
	Lookups        []lookupDoc       `yaml:"lookups"`
	Tracking       *trackingDoc      `yaml:"tracking"`
	Fields         []fieldDoc        `yaml:"fields"`
}

type lookupDoc struct {
	Name     string            `yaml:"name"`
	Database string            `yaml:"database"`
	Query    string            `yaml:"query"`
	Args     map[string]string `yaml:"args"`
	Column   string            `yaml:"column"`
}

type trackingDoc struct {
	Kind   string   `yaml:"kind"`
	Lot    string   `yaml:"lot"`
	State  string   `yaml:"state"`
	Active []string `yaml:"active"`
}

type fieldDoc struct {
	Column      string   `yaml:"column"`
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Policy      string   `yaml:"policy"`
	Default     string   `yaml:"default"`
	TrueTokens  []string `yaml:"true_tokens"`
	FalseTokens []string `yaml:"false_tokens"`
}

func (d tableDoc) toDomain() *domain.MappingTable {
	table := &domain.MappingTable{
		Entity:          domain.EntityType(d.Entity),
		Description:     d.Description,
		Database:        domain.SourceDatabase(d.Database),
		Query:           d.Query,
		ParamDefaults:   d.Params,
		ParamLayout:     d.ParamLayout,
		DateLayout:      d.DateLayout,
		IdentityColumns: d.Identity,
		NaturalKey:      d.NaturalKey,
		RecentMarker:    d.RecentMarker,
		AlwaysSnapshot:  d.AlwaysSnapshot,
	}
	for _, s := range d.Schedules {
		table.Schedules = append(table.Schedules, domain.Schedule(s))
	}
	for _, l := range d.Lookups {
		db := domain.SourceDatabase(l.Database)
		if db == "" {
			db = table.Database
		}
		table.Lookups = append(table.Lookups, domain.Lookup{
			Name:     l.Name,
			Database: db,
			Query:    l.Query,
			Args:     l.Args,
			Column:   l.Column,
		})
	}
	if t := d.Tracking; t != nil {
		table.Tracking = &domain.LotTracking{Kind: t.Kind, LotField: t.Lot, StateField: t.State, Active: t.Active}
	}
	for _, f := range d.Fields {
		table.Bindings = append(table.Bindings, domain.Binding{
			SourceColumn: f.Column,
			Target: domain.FieldDescriptor{
				Name:        f.Name,
				Type:        domain.FieldType(f.Type),
				Policy:      domain.MissingPolicy(f.Policy),
				Default:     f.Default,
				TrueTokens:  f.TrueTokens,
				FalseTokens: f.FalseTokens,
			},
		})
	}
	return table
}
