package migrations

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Run applies the fixed schema of the sync bounded context. Entity tables
// (sync_<entity>) are derived from the mapping tables by the target store.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&cycleRecord{},
		&holidayRecord{},
		&trackedLotRecord{},
	)
}

// Cycle log schema mirrors the sync Postgres cycle log.
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

// Holiday schema mirrors the sync Postgres calendar.
type holidayRecord struct {
	Day       string    `gorm:"primaryKey;column:day;type:varchar(10)"`
	Name      string    `gorm:"column:name"`
	Source    string    `gorm:"column:source;type:varchar(16)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (holidayRecord) TableName() string { return "sync_holidays" }

// Lot marker schema mirrors the sync Postgres lot tracker.
type trackedLotRecord struct {
	Kind      string    `gorm:"primaryKey;column:kind;type:varchar(32)"`
	LotCode   string    `gorm:"primaryKey;column:lot_code;type:varchar(64)"`
	Entity    string    `gorm:"column:entity;type:varchar(64)"`
	CycleID   string    `gorm:"column:cycle_id;type:uuid"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (trackedLotRecord) TableName() string { return "sync_tracked_lots" }
