package cycles

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/mfgsync/internal/domains/sync/application"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

const (
	// RunCycleActivityName runs one sync cycle for one entity.
	RunCycleActivityName = "sync.activities.RunCycle"
	// PlanScheduleActivityName decides which entities of a schedule run.
	PlanScheduleActivityName = "sync.activities.PlanSchedule"
	// RefreshCalendarActivityName stores the weekends of a month as holidays.
	RefreshCalendarActivityName = "sync.activities.RefreshCalendar"
)

// Non-retryable application error types raised by the activities.
const (
	ErrTypeCycleInProgress   = "CycleInProgress"
	ErrTypeUnknownEntity     = "UnknownEntity"
	ErrTypeInvalidParameters = "InvalidParameters"
	// ErrTypeSourceUnavailable carries the failed cycle result and the source
	// error message as details, in that order.
	ErrTypeSourceUnavailable = "SourceUnavailable"
)

// CycleInput is the payload of RunCycle.
type CycleInput struct {
	Entity domain.EntityType
	Params domain.CycleParameters
}

// ScheduleInput is the payload of PlanSchedule and RefreshCalendar.
type ScheduleInput struct {
	Schedule domain.Schedule
	At       time.Time
}

// Activities groups the sync use cases exposed to Temporal workers.
type Activities struct {
	service   ports.Service
	schedules ports.ScheduleRunner
}

// NewActivities wires the sync service and scheduler into the activities bundle.
func NewActivities(service ports.Service, schedules ports.ScheduleRunner) *Activities {
	return &Activities{service: service, schedules: schedules}
}

// RunCycle executes one cycle. Cycles that fail for their source are returned as
// non-retryable errors carrying the failed result; the next trigger retries them.
func (a *Activities) RunCycle(ctx context.Context, input CycleInput) (*domain.SyncResult, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.service == nil {
		logger.Error("sync cycle activity not initialized", "entity", input.Entity)
		return nil, errors.New("sync cycle activity not initialized")
	}
	logger.Info("RunCycle activity started", "entity", input.Entity, "day", input.Params.Day, "snapshot", input.Params.Snapshot)
	result, err := a.service.RunSync(ctx, input.Entity, input.Params)
	if err != nil {
		logger.Error("RunCycle activity failed", "entity", input.Entity, "error", err)
		return nil, classifyCycle(err, result)
	}
	logger.Info("RunCycle activity completed", "entity", input.Entity, "cycleId", result.CycleID,
		"written", result.Written, "failed", result.Failed)
	return result, nil
}

// PlanSchedule runs the holiday and same-hour checks of a scheduled trigger.
// The workflow runs the planned cycles as child workflows.
func (a *Activities) PlanSchedule(ctx context.Context, input ScheduleInput) (*domain.SchedulePlan, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.schedules == nil {
		logger.Error("sync schedule activity not initialized", "schedule", input.Schedule)
		return nil, errors.New("sync schedule activity not initialized")
	}
	plan, err := a.schedules.PlanSchedule(ctx, input.Schedule, input.At)
	if err != nil {
		logger.Error("PlanSchedule activity failed", "schedule", input.Schedule, "error", err)
		return nil, classify(err)
	}
	logger.Info("PlanSchedule activity completed", "schedule", input.Schedule, "day", plan.Day,
		"holiday", plan.Holiday, "entities", len(plan.Cycles))
	return plan, nil
}

// RefreshCalendar stores the weekends of the month of input.At.
func (a *Activities) RefreshCalendar(ctx context.Context, input ScheduleInput) (int, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.schedules == nil {
		return 0, errors.New("sync calendar activity not initialized")
	}
	added, err := a.schedules.RefreshCalendar(ctx, input.At)
	if err != nil {
		logger.Error("RefreshCalendar activity failed", "error", err)
		return 0, err
	}
	logger.Info("RefreshCalendar activity completed", "added", added)
	return added, nil
}

// classifyCycle keeps a source failure recognizable after it crosses Temporal.
func classifyCycle(err error, result *domain.SyncResult) error {
	var unavailable *domain.SourceUnavailableError
	if !errors.As(err, &unavailable) {
		return classify(err)
	}
	cause := unavailable.Error()
	if unavailable.Err != nil {
		cause = unavailable.Err.Error()
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeSourceUnavailable, err, result, cause)
}

// SourceFailure extracts the failed result and source error message of a
// SourceUnavailable activity error anywhere in err's chain.
func SourceFailure(err error) (*domain.SyncResult, string, bool) {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != ErrTypeSourceUnavailable {
		return nil, "", false
	}
	var (
		result *domain.SyncResult
		cause  string
	)
	if appErr.HasDetails() {
		if derr := appErr.Details(&result, &cause); derr != nil {
			result, cause = nil, ""
		}
	}
	if cause == "" {
		cause = appErr.Error()
	}
	return result, cause, true
}

// IsCycleInProgress reports whether err is the busy error of RunCycle.
func IsCycleInProgress(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == ErrTypeCycleInProgress
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, application.ErrCycleInProgress):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeCycleInProgress, err)
	case errors.Is(err, application.ErrUnknownEntity):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnknownEntity, err)
	case errors.Is(err, application.ErrInvalidParameters):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidParameters, err)
	}
	return err
}
