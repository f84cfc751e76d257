package ports

import (
	"context"
	"time"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// Service defines the sync use cases exposed to adapters (inbound/driving port).
type Service interface {
	RunSync(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error)
	ListEntities(ctx context.Context) ([]*domain.MappingTable, error)
	ListRecords(ctx context.Context, entity domain.EntityType, query RecordQuery) ([]*domain.TargetRecord, error)
	ListCycles(ctx context.Context, entity domain.EntityType, limit int) ([]domain.CycleEntry, error)
}

// ScheduleRunner executes every entity of a schedule for the trigger time at.
// PlanSchedule runs only the pre-run checks, for callers that execute the
// planned cycles themselves.
type ScheduleRunner interface {
	PlanSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.SchedulePlan, error)
	RunSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.ScheduleReport, error)
	RefreshCalendar(ctx context.Context, at time.Time) (int, error)
}
