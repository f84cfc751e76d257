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

var _ ports.LotTracker = (*LotTracker)(nil)

// LotTracker stores the active lot markers in sync_tracked_lots.
type LotTracker struct {
	db *gorm.DB
}

func NewLotTracker(db *gorm.DB) *LotTracker {
	return &LotTracker{db: db}
}

type trackedLotRecord struct {
	Kind      string    `gorm:"primaryKey;column:kind;type:varchar(32)"`
	LotCode   string    `gorm:"primaryKey;column:lot_code;type:varchar(64)"`
	Entity    string    `gorm:"column:entity;type:varchar(64)"`
	CycleID   string    `gorm:"column:cycle_id;type:uuid"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (trackedLotRecord) TableName() string { return "sync_tracked_lots" }

// Apply inserts new markers and deletes released ones in one transaction.
// Markers already present keep their original cycle and time.
func (t *LotTracker) Apply(ctx context.Context, update domain.LotUpdate) error {
	if t == nil || t.db == nil {
		return errors.New("postgres lot tracker not configured")
	}
	if update.Empty() {
		return nil
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(update.Active) > 0 {
			records := make([]trackedLotRecord, 0, len(update.Active))
			for _, code := range update.Active {
				records = append(records, trackedLotRecord{
					Kind:      update.Kind,
					LotCode:   code,
					Entity:    string(update.Entity),
					CycleID:   update.CycleID,
					CreatedAt: update.At,
				})
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kind"}, {Name: "lot_code"}},
				DoNothing: true,
			}).Create(&records).Error
			if err != nil {
				return err
			}
		}
		if len(update.Released) > 0 {
			err := tx.Where("kind = ? AND lot_code IN ?", update.Kind, update.Released).
				Delete(&trackedLotRecord{}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *LotTracker) List(ctx context.Context, kind string) ([]domain.TrackedLot, error) {
	if t == nil || t.db == nil {
		return nil, errors.New("postgres lot tracker not configured")
	}
	var records []trackedLotRecord
	if err := t.db.WithContext(ctx).Where("kind = ?", kind).Order("lot_code ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TrackedLot, 0, len(records))
	for _, r := range records {
		out = append(out, domain.TrackedLot{
			Kind:    r.Kind,
			LotCode: r.LotCode,
			Entity:  domain.EntityType(r.Entity),
			CycleID: r.CycleID,
			Since:   r.CreatedAt,
		})
	}
	return out, nil
}
