package cycles

import (
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	cycleactivities "github.com/Apurer/mfgsync/internal/durable/temporal/activities/cycles"
	"github.com/Apurer/mfgsync/internal/durable/temporal/sequences"
)

const (
	// SyncCycleWorkflowName is the public identifier for registering the cycle workflow.
	SyncCycleWorkflowName = "sync.workflows.Cycle"
	// SyncScheduleWorkflowName runs one scheduled trigger; started as a cron workflow.
	SyncScheduleWorkflowName = "sync.workflows.Schedule"
	// SyncCalendarWorkflowName refreshes the holiday calendar; started as a cron workflow.
	SyncCalendarWorkflowName = "sync.workflows.Calendar"
	// SyncTaskQueue is the queue consumed by the sync worker.
	SyncTaskQueue = "SYNC_CYCLES"

	// ScheduleParallelism bounds the concurrent child cycles of one trigger.
	ScheduleParallelism = 4
)

// CycleWorkflowID is shared by every run for the entity so that Temporal rejects
// a second concurrent cycle.
func CycleWorkflowID(entity domain.EntityType) string {
	return fmt.Sprintf("sync-cycle-%s", entity)
}

// ScheduleWorkflowID identifies the cron workflow of a schedule.
func ScheduleWorkflowID(schedule domain.Schedule) string {
	return fmt.Sprintf("sync-schedule-%s", schedule)
}

// SyncCycleWorkflowInput captures one on-demand cycle.
type SyncCycleWorkflowInput struct {
	Entity  domain.EntityType
	Params  domain.CycleParameters
	TraceID string
}

// SyncCycleWorkflow runs one cycle for one entity.
func SyncCycleWorkflow(ctx workflow.Context, input SyncCycleWorkflowInput) (*domain.SyncResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncCycleWorkflow started", withTraceID(input.TraceID, "entity", input.Entity)...)
	result, err := sequences.RunSyncCycleSequence(ctx, cycleactivities.CycleInput{Entity: input.Entity, Params: input.Params})
	if err != nil {
		logger.Error("SyncCycleWorkflow failed", withTraceID(input.TraceID, "entity", input.Entity, "error", err)...)
		return nil, err
	}
	logger.Info("SyncCycleWorkflow completed", withTraceID(input.TraceID, "entity", input.Entity, "cycleId", result.CycleID)...)
	return result, nil
}

// SyncScheduleWorkflowInput names the schedule to run. At is only set for
// on-demand runs; cron runs leave it zero and use the workflow time.
type SyncScheduleWorkflowInput struct {
	Schedule domain.Schedule
	At       time.Time
}

// SyncScheduleWorkflow runs every entity of one schedule. Each planned cycle is
// a child SyncCycleWorkflow under the entity's cycle workflow ID, so a cycle
// already running for the entity anywhere makes that entity skip.
func SyncScheduleWorkflow(ctx workflow.Context, input SyncScheduleWorkflowInput) (*domain.ScheduleReport, error) {
	at := input.At
	if at.IsZero() {
		at = workflow.Now(ctx)
	}
	plan, err := sequences.RunPlanScheduleSequence(ctx, cycleactivities.ScheduleInput{Schedule: input.Schedule, At: at})
	if err != nil {
		return nil, err
	}
	report := plan.Report()

	var pending []int
	for i, c := range plan.Cycles {
		if c.Skipped == "" {
			pending = append(pending, i)
		}
	}
	for len(pending) > 0 {
		n := min(ScheduleParallelism, len(pending))
		batch := pending[:n]
		pending = pending[n:]
		futures := make([]workflow.ChildWorkflowFuture, len(batch))
		for j, i := range batch {
			c := plan.Cycles[i]
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
				WorkflowID:            CycleWorkflowID(c.Entity),
				WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			})
			futures[j] = workflow.ExecuteChildWorkflow(childCtx, SyncCycleWorkflowName,
				SyncCycleWorkflowInput{Entity: c.Entity, Params: c.Params})
		}
		for j, i := range batch {
			var result domain.SyncResult
			err := futures[j].Get(ctx, &result)
			report.Results[i] = scheduledResult(plan, plan.Cycles[i], &result, err, workflow.Now(ctx))
		}
	}
	report.FinishedAt = workflow.Now(ctx)

	workflow.GetLogger(ctx).Info("SyncScheduleWorkflow completed", "schedule", input.Schedule, "day", report.Day,
		"holiday", report.Holiday, "entities", len(report.Results), "failed", report.Count(domain.StatusFailed),
		"skipped", report.Count(domain.StatusSkipped))
	return report, nil
}

// scheduledResult turns the outcome of one child cycle into its report entry.
func scheduledResult(plan *domain.SchedulePlan, c domain.PlannedCycle, result *domain.SyncResult, err error, now time.Time) *domain.SyncResult {
	if err == nil {
		return result
	}
	var started *temporal.ChildWorkflowExecutionAlreadyStartedError
	if errors.As(err, &started) || cycleactivities.IsCycleInProgress(err) {
		return domain.SkippedResult(c.Entity, plan.Schedule, plan.Day, domain.SkipBusy, now)
	}
	if failed, cause, ok := cycleactivities.SourceFailure(err); ok {
		if failed != nil {
			return failed
		}
		err = &domain.SourceUnavailableError{Entity: c.Entity, Err: errors.New(cause)}
	}
	return &domain.SyncResult{
		Entity:     c.Entity,
		Day:        plan.Day,
		Snapshot:   c.Params.Snapshot,
		Trigger:    domain.TriggerScheduled,
		Schedule:   plan.Schedule,
		Err:        err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
}

// SyncCalendarWorkflow stores the weekends of the current month as holidays.
func SyncCalendarWorkflow(ctx workflow.Context) (int, error) {
	return sequences.RunCalendarSequence(ctx, cycleactivities.ScheduleInput{Schedule: domain.ScheduleCalendar, At: workflow.Now(ctx)})
}

func withTraceID(traceID string, keyvals ...interface{}) []interface{} {
	if traceID == "" {
		return keyvals
	}
	return append(keyvals, "traceId", traceID)
}
