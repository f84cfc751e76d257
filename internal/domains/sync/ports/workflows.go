package ports

import (
	"context"
	"time"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// CycleOrchestrator starts cycles durably (Temporal) or inline.
type CycleOrchestrator interface {
	RunCycle(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error)
	RunSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.ScheduleReport, error)
}
