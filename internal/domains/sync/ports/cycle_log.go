package ports

import (
	"context"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

type CycleLog interface {
	Append(ctx context.Context, entry domain.CycleEntry) error
	// List returns the latest entries for entity, newest first.
	List(ctx context.Context, entity domain.EntityType, limit int) ([]domain.CycleEntry, error)
	// LastSuccessful returns the newest succeeded or partial entry with the given
	// snapshot flag, or nil when there is none.
	LastSuccessful(ctx context.Context, entity domain.EntityType, snapshot bool) (*domain.CycleEntry, error)
}

// Calendar stores the days on which scheduled cycles do not run.
type Calendar interface {
	IsHoliday(ctx context.Context, day string) (bool, error)
	// AddHolidays inserts the days, ignoring ones already present.
	AddHolidays(ctx context.Context, holidays []domain.Holiday) (int, error)
	List(ctx context.Context, from, to string) ([]domain.Holiday, error)
}
