package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/mfgsync/internal/domains/sync/application"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
	cycleactivities "github.com/Apurer/mfgsync/internal/durable/temporal/activities/cycles"
	cycleworkflows "github.com/Apurer/mfgsync/internal/durable/temporal/workflows/cycles"
)

var (
	_ ports.CycleOrchestrator = (*TemporalCycleWorkflows)(nil)
	_ ports.CycleOrchestrator = (*InlineCycleWorkflows)(nil)
)

// TemporalCycleWorkflows starts sync workflows on a Temporal cluster.
type TemporalCycleWorkflows struct {
	client    client.Client
	taskQueue string
}

// NewTemporalCycleWorkflows wires a Temporal client into the orchestrator.
func NewTemporalCycleWorkflows(c client.Client) *TemporalCycleWorkflows {
	return &TemporalCycleWorkflows{client: c, taskQueue: cycleworkflows.SyncTaskQueue}
}

// RunCycle starts the cycle workflow and waits for its result. The workflow ID is
// fixed per entity, so a cycle already running anywhere yields ErrCycleInProgress.
func (o *TemporalCycleWorkflows) RunCycle(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error) {
	if o == nil || o.client == nil {
		return nil, errors.New("temporal cycle workflows not configured")
	}
	options := client.StartWorkflowOptions{
		ID:                                       cycleworkflows.CycleWorkflowID(entity),
		TaskQueue:                                o.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := o.client.ExecuteWorkflow(ctx, options, cycleworkflows.SyncCycleWorkflowName,
		cycleworkflows.SyncCycleWorkflowInput{Entity: entity, Params: params, TraceID: workflowTraceID(ctx)})
	if err != nil {
		return nil, fromTemporal(err)
	}
	var result domain.SyncResult
	if err := run.Get(ctx, &result); err != nil {
		return cycleFailure(entity, err)
	}
	return &result, nil
}

// RunSchedule starts a one-off run of the schedule workflow for the trigger time at.
func (o *TemporalCycleWorkflows) RunSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.ScheduleReport, error) {
	if o == nil || o.client == nil {
		return nil, errors.New("temporal cycle workflows not configured")
	}
	options := client.StartWorkflowOptions{
		ID:                                       fmt.Sprintf("%s-manual-%d", cycleworkflows.ScheduleWorkflowID(schedule), at.Unix()),
		TaskQueue:                                o.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := o.client.ExecuteWorkflow(ctx, options, cycleworkflows.SyncScheduleWorkflowName,
		cycleworkflows.SyncScheduleWorkflowInput{Schedule: schedule, At: at})
	if err != nil {
		return nil, fromTemporal(err)
	}
	var report domain.ScheduleReport
	if err := run.Get(ctx, &report); err != nil {
		return nil, fromTemporal(err)
	}
	return &report, nil
}

// CronSpec binds a workflow to a Temporal cron expression.
type CronSpec struct {
	Schedule domain.Schedule
	Cron     string
}

// StartCronSchedules starts one cron workflow per spec. Workflows that are
// already running keep their current schedule.
func StartCronSchedules(ctx context.Context, c client.Client, specs []CronSpec) error {
	var errs []error
	for _, spec := range specs {
		if spec.Cron == "" {
			continue
		}
		options := client.StartWorkflowOptions{
			ID:                                       cycleworkflows.ScheduleWorkflowID(spec.Schedule),
			TaskQueue:                                cycleworkflows.SyncTaskQueue,
			CronSchedule:                             spec.Cron,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}
		var err error
		if spec.Schedule == domain.ScheduleCalendar {
			_, err = c.ExecuteWorkflow(ctx, options, cycleworkflows.SyncCalendarWorkflowName)
		} else {
			_, err = c.ExecuteWorkflow(ctx, options, cycleworkflows.SyncScheduleWorkflowName,
				cycleworkflows.SyncScheduleWorkflowInput{Schedule: spec.Schedule})
		}
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if err != nil && !errors.As(err, &alreadyStarted) {
			errs = append(errs, fmt.Errorf("start %s cron workflow: %w", spec.Schedule, err))
		}
	}
	return errors.Join(errs...)
}

// cycleFailure rebuilds a source failure and its failed result from the activity
// error details. Other errors go through fromTemporal.
func cycleFailure(entity domain.EntityType, err error) (*domain.SyncResult, error) {
	result, cause, ok := cycleactivities.SourceFailure(err)
	if !ok {
		return nil, fromTemporal(err)
	}
	if result != nil && result.Entity != "" {
		entity = result.Entity
	}
	return result, &domain.SourceUnavailableError{Entity: entity, Err: errors.New(cause)}
}

func fromTemporal(err error) error {
	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &alreadyStarted) {
		return application.ErrCycleInProgress
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case cycleactivities.ErrTypeCycleInProgress:
			return application.ErrCycleInProgress
		case cycleactivities.ErrTypeUnknownEntity:
			return fmt.Errorf("%w: %s", application.ErrUnknownEntity, appErr.Error())
		case cycleactivities.ErrTypeInvalidParameters:
			return fmt.Errorf("%w: %s", application.ErrInvalidParameters, appErr.Error())
		}
	}
	return err
}

// InlineCycleWorkflows executes cycles in-process without Temporal, useful for tests or dev fallbacks.
type InlineCycleWorkflows struct {
	service   ports.Service
	schedules ports.ScheduleRunner
}

// NewInlineCycleWorkflows wraps the sync service and scheduler for synchronous execution.
func NewInlineCycleWorkflows(service ports.Service, schedules ports.ScheduleRunner) *InlineCycleWorkflows {
	return &InlineCycleWorkflows{service: service, schedules: schedules}
}

func (o *InlineCycleWorkflows) RunCycle(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error) {
	if o == nil || o.service == nil {
		return nil, errors.New("inline cycle workflows not configured")
	}
	return o.service.RunSync(ctx, entity, params)
}

func (o *InlineCycleWorkflows) RunSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.ScheduleReport, error) {
	if o == nil || o.schedules == nil {
		return nil, errors.New("inline cycle workflows not configured")
	}
	return o.schedules.RunSchedule(ctx, schedule, at)
}

func workflowTraceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
