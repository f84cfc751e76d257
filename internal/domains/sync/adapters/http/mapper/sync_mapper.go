package mapper

import (
	"time"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// RunSyncRequest is the optional body of an on-demand cycle.
type RunSyncRequest struct {
	Day      string `json:"day"`
	From     string `json:"from"`
	To       string `json:"to"`
	Snapshot bool   `json:"snapshot"`
}

// ToCycleParameters converts the request into manual cycle parameters.
func ToCycleParameters(req RunSyncRequest) domain.CycleParameters {
	return domain.CycleParameters{
		Day:      req.Day,
		From:     req.From,
		To:       req.To,
		Snapshot: req.Snapshot,
		Trigger:  domain.TriggerManual,
	}
}

// Field describes one target field of an entity.
type Field struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Policy       string `json:"policy"`
	Default      string `json:"default,omitempty"`
	SourceColumn string `json:"sourceColumn"`
}

// Entity is the transport shape of a mapping table.
type Entity struct {
	Entity         string   `json:"entity"`
	Description    string   `json:"description,omitempty"`
	Database       string   `json:"database"`
	Schedules      []string `json:"schedules"`
	NaturalKey     []string `json:"naturalKey,omitempty"`
	RecentMarker   bool     `json:"recentMarker"`
	AlwaysSnapshot bool     `json:"alwaysSnapshot"`
	Fields         []Field  `json:"fields"`
}

func FromMappingTable(t *domain.MappingTable) Entity {
	out := Entity{
		Entity:         string(t.Entity),
		Description:    t.Description,
		Database:       string(t.Database),
		Schedules:      make([]string, 0, len(t.Schedules)),
		NaturalKey:     t.NaturalKey,
		RecentMarker:   t.RecentMarker,
		AlwaysSnapshot: t.AlwaysSnapshot,
		Fields:         make([]Field, 0, len(t.Bindings)),
	}
	for _, s := range t.Schedules {
		out.Schedules = append(out.Schedules, string(s))
	}
	for _, b := range t.Bindings {
		out.Fields = append(out.Fields, Field{
			Name:         b.Target.Name,
			Type:         string(b.Target.Type),
			Policy:       string(b.Target.Policy),
			Default:      b.Target.Default,
			SourceColumn: b.SourceColumn,
		})
	}
	return out
}

func FromMappingTables(tables []*domain.MappingTable) []Entity {
	out := make([]Entity, 0, len(tables))
	for _, t := range tables {
		out = append(out, FromMappingTable(t))
	}
	return out
}

// Record is a synced target record. Decimals and dates are rendered as strings.
type Record struct {
	ID         int64          `json:"id"`
	CycleID    string         `json:"cycleId"`
	Snapshot   bool           `json:"snapshot"`
	Recent     bool           `json:"recent"`
	NaturalKey string         `json:"naturalKey,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Fields     map[string]any `json:"fields"`
}

func FromTargetRecords(records []*domain.TargetRecord) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		fields := make(map[string]any, len(r.Fields))
		for name, v := range r.Fields {
			fields[name] = v.Any()
		}
		out = append(out, Record{
			ID:         r.ID,
			CycleID:    r.CycleID,
			Snapshot:   r.Snapshot,
			Recent:     r.Recent,
			NaturalKey: r.NaturalKey,
			CreatedAt:  r.CreatedAt,
			Fields:     fields,
		})
	}
	return out
}

// Cycle is one cycle log entry.
type Cycle struct {
	ID         string                 `json:"id"`
	Entity     string                 `json:"entity"`
	Day        string                 `json:"day"`
	Snapshot   bool                   `json:"snapshot"`
	Trigger    string                 `json:"trigger"`
	Schedule   string                 `json:"schedule,omitempty"`
	Status     string                 `json:"status"`
	Fetched    int                    `json:"fetched"`
	Written    int                    `json:"written"`
	Failed     int                    `json:"failed"`
	Conflicts  int                    `json:"conflicts"`
	Kinds      []string               `json:"kinds,omitempty"`
	Failures   []domain.RecordFailure `json:"failures,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt time.Time              `json:"finishedAt"`
}

func FromCycleEntries(entries []domain.CycleEntry) []Cycle {
	out := make([]Cycle, 0, len(entries))
	for _, e := range entries {
		out = append(out, Cycle{
			ID:         e.ID,
			Entity:     string(e.Entity),
			Day:        e.Day,
			Snapshot:   e.Snapshot,
			Trigger:    string(e.Trigger),
			Schedule:   string(e.Schedule),
			Status:     string(e.Status),
			Fetched:    e.Fetched,
			Written:    e.Written,
			Failed:     e.Failed,
			Conflicts:  e.Conflicts,
			Kinds:      e.Kinds,
			Failures:   e.Failures,
			Error:      e.Error,
			StartedAt:  e.StartedAt,
			FinishedAt: e.FinishedAt,
		})
	}
	return out
}
