package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.Calendar = (*Calendar)(nil)

// Calendar persists holidays in PostgreSQL using GORM.
type Calendar struct {
	db *gorm.DB
}

func NewCalendar(db *gorm.DB) *Calendar {
	return &Calendar{db: db}
}

type holidayRecord struct {
	Day       string    `gorm:"primaryKey;column:day;type:varchar(10)"`
	Name      string    `gorm:"column:name"`
	Source    string    `gorm:"column:source;type:varchar(16)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (holidayRecord) TableName() string { return "sync_holidays" }

func (c *Calendar) IsHoliday(ctx context.Context, day string) (bool, error) {
	if err := c.ensureDB(); err != nil {
		return false, err
	}
	var count int64
	if err := c.db.WithContext(ctx).Model(&holidayRecord{}).Where("day = ?", day).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddHolidays inserts the days, leaving existing ones untouched.
func (c *Calendar) AddHolidays(ctx context.Context, holidays []domain.Holiday) (int, error) {
	if err := c.ensureDB(); err != nil {
		return 0, err
	}
	if len(holidays) == 0 {
		return 0, nil
	}
	records := make([]holidayRecord, 0, len(holidays))
	for _, h := range holidays {
		records = append(records, holidayRecord{Day: h.Day, Name: h.Name, Source: h.Source})
	}
	result := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "day"}}, DoNothing: true}).
		Create(&records)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (c *Calendar) List(ctx context.Context, from, to string) ([]domain.Holiday, error) {
	if err := c.ensureDB(); err != nil {
		return nil, err
	}
	query := c.db.WithContext(ctx).Order("day ASC")
	if from != "" {
		query = query.Where("day >= ?", from)
	}
	if to != "" {
		query = query.Where("day <= ?", to)
	}
	var records []holidayRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Holiday, 0, len(records))
	for _, r := range records {
		out = append(out, domain.Holiday{Day: r.Day, Name: r.Name, Source: r.Source})
	}
	return out, nil
}

func (c *Calendar) ensureDB() error {
	if c == nil || c.db == nil {
		return errors.New("postgres holiday calendar not configured")
	}
	return nil
}
