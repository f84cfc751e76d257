package sequences

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	cycleactivities "github.com/Apurer/mfgsync/internal/durable/temporal/activities/cycles"
)

// Cycles are never retried immediately; the next scheduled trigger is the retry.
var noRetry = &temporal.RetryPolicy{MaximumAttempts: 1}

func syncActivityOptions(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         noRetry,
	})
}

// RunSyncCycleSequence executes a single sync cycle activity.
func RunSyncCycleSequence(ctx workflow.Context, input cycleactivities.CycleInput) (*domain.SyncResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("sync cycle sequence started", "entity", input.Entity)
	ctx = syncActivityOptions(ctx, 30*time.Minute)

	var result domain.SyncResult
	if err := workflow.ExecuteActivity(ctx, cycleactivities.RunCycleActivityName, input).Get(ctx, &result); err != nil {
		logger.Error("sync cycle sequence failed", "entity", input.Entity, "error", err)
		return nil, err
	}
	logger.Info("sync cycle sequence completed", "entity", input.Entity, "cycleId", result.CycleID)
	return &result, nil
}

// RunPlanScheduleSequence runs the pre-run checks of a scheduled trigger.
func RunPlanScheduleSequence(ctx workflow.Context, input cycleactivities.ScheduleInput) (*domain.SchedulePlan, error) {
	ctx = syncActivityOptions(ctx, 5*time.Minute)

	var plan domain.SchedulePlan
	if err := workflow.ExecuteActivity(ctx, cycleactivities.PlanScheduleActivityName, input).Get(ctx, &plan); err != nil {
		workflow.GetLogger(ctx).Error("schedule plan sequence failed", "schedule", input.Schedule, "error", err)
		return nil, err
	}
	return &plan, nil
}

// RunCalendarSequence refreshes the holiday calendar.
func RunCalendarSequence(ctx workflow.Context, input cycleactivities.ScheduleInput) (int, error) {
	ctx = syncActivityOptions(ctx, 5*time.Minute)

	var added int
	if err := workflow.ExecuteActivity(ctx, cycleactivities.RefreshCalendarActivityName, input).Get(ctx, &added); err != nil {
		return 0, err
	}
	return added, nil
}
