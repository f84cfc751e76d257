package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.CycleLog = (*CycleLog)(nil)

// CycleLog persists finished cycles in PostgreSQL using GORM.
type CycleLog struct {
	db *gorm.DB
}

// NewCycleLog wires a PostgreSQL-backed cycle log. Caller manages DB lifecycle.
func NewCycleLog(db *gorm.DB) *CycleLog {
	return &CycleLog{db: db}
}

// cycleRecord maps a cycle log entry to a relational table.
type cycleRecord struct {
	ID         string         `gorm:"primaryKey;column:id;type:uuid"`
	Entity     string         `gorm:"column:entity;type:varchar(64);index:idx_sync_cycles_entity_started,priority:1"`
	Day        string         `gorm:"column:day;type:varchar(10)"`
	Snapshot   bool           `gorm:"column:snapshot"`
	Trigger    string         `gorm:"column:trigger;type:varchar(16)"`
	Schedule   string         `gorm:"column:schedule;type:varchar(16)"`
	Status     string         `gorm:"column:status;type:varchar(16);index"`
	Fetched    int            `gorm:"column:fetched"`
	Written    int            `gorm:"column:written"`
	Failed     int            `gorm:"column:failed"`
	Conflicts  int            `gorm:"column:conflicts"`
	Kinds      pq.StringArray `gorm:"column:kinds;type:text[]"`
	Failures   datatypes.JSON `gorm:"column:failures;type:jsonb"`
	Error      string         `gorm:"column:error;type:text"`
	StartedAt  time.Time      `gorm:"column:started_at;index:idx_sync_cycles_entity_started,priority:2"`
	FinishedAt time.Time      `gorm:"column:finished_at"`
}

func (cycleRecord) TableName() string { return "sync_cycles" }

// Append stores a finished cycle.
func (l *CycleLog) Append(ctx context.Context, entry domain.CycleEntry) error {
	if err := l.ensureDB(); err != nil {
		return err
	}
	record, err := toCycleRecord(entry)
	if err != nil {
		return err
	}
	return l.db.WithContext(ctx).Create(&record).Error
}

// List returns the latest entries of entity, newest first.
func (l *CycleLog) List(ctx context.Context, entity domain.EntityType, limit int) ([]domain.CycleEntry, error) {
	if err := l.ensureDB(); err != nil {
		return nil, err
	}
	query := l.db.WithContext(ctx).Where("entity = ?", string(entity)).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []cycleRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.CycleEntry, 0, len(records))
	for i := range records {
		entry, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LastSuccessful returns the newest succeeded or partial entry with the snapshot flag.
func (l *CycleLog) LastSuccessful(ctx context.Context, entity domain.EntityType, snapshot bool) (*domain.CycleEntry, error) {
	if err := l.ensureDB(); err != nil {
		return nil, err
	}
	var record cycleRecord
	err := l.db.WithContext(ctx).
		Where("entity = ? AND snapshot = ? AND status IN ?", string(entity), snapshot,
			[]string{string(domain.StatusSucceeded), string(domain.StatusPartial)}).
		Order("started_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entry, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *CycleLog) ensureDB() error {
	if l == nil || l.db == nil {
		return errors.New("postgres cycle log not configured")
	}
	return nil
}

func toCycleRecord(e domain.CycleEntry) (cycleRecord, error) {
	failures, err := json.Marshal(e.Failures)
	if err != nil {
		return cycleRecord{}, err
	}
	return cycleRecord{
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
		Kinds:      pq.StringArray(e.Kinds),
		Failures:   datatypes.JSON(failures),
		Error:      e.Error,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
	}, nil
}

func (r cycleRecord) toDomain() (domain.CycleEntry, error) {
	var failures []domain.RecordFailure
	if len(r.Failures) > 0 {
		if err := json.Unmarshal(r.Failures, &failures); err != nil {
			return domain.CycleEntry{}, err
		}
	}
	return domain.CycleEntry{
		ID:         r.ID,
		Entity:     domain.EntityType(r.Entity),
		Day:        r.Day,
		Snapshot:   r.Snapshot,
		Trigger:    domain.Trigger(r.Trigger),
		Schedule:   domain.Schedule(r.Schedule),
		Status:     domain.CycleStatus(r.Status),
		Fetched:    r.Fetched,
		Written:    r.Written,
		Failed:     r.Failed,
		Conflicts:  r.Conflicts,
		Kinds:      []string(r.Kinds),
		Failures:   failures,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}, nil
}
