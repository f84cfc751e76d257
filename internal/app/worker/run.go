package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/mfgsync/internal/app/bootstrap"
	"github.com/Apurer/mfgsync/internal/app/config"
	syncworkflows "github.com/Apurer/mfgsync/internal/domains/sync/adapters/workflows"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	cycleactivities "github.com/Apurer/mfgsync/internal/durable/temporal/activities/cycles"
	cycleworkflows "github.com/Apurer/mfgsync/internal/durable/temporal/workflows/cycles"
	platformobservability "github.com/Apurer/mfgsync/internal/platform/observability"
)

const serviceName = "mfgsync-worker"

// Run starts the Temporal worker serving sync workflows and registers the cron
// schedules. It blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	components, cleanup, err := bootstrap.Build(ctx, cfg, instruments)
	if err != nil {
		return err
	}
	defer cleanup()

	temporalClient, err := bootstrap.DialTemporal(cfg, instruments, "temporal-worker")
	if err != nil {
		return fmt.Errorf("failed to create Temporal client: %w", err)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cycleworkflows.SyncTaskQueue, worker.Options{})
	Register(w, cycleactivities.NewActivities(components.Service, components.Schedules))

	if err := syncworkflows.StartCronSchedules(ctx, temporalClient, CronSpecs(cfg)); err != nil {
		logger.Warn("some cron schedules could not be started", slog.String("error", err.Error()))
	}

	logger.Info("worker listening", slog.String("taskQueue", cycleworkflows.SyncTaskQueue), slog.String("namespace", cfg.TemporalNamespace))
	if err := w.Run(interruptOn(ctx)); err != nil {
		logger.Error("Temporal worker exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Temporal worker stopped")
	return nil
}

// Register binds the sync workflows and activities under their stable names.
func Register(w worker.Registry, activities *cycleactivities.Activities) {
	w.RegisterWorkflowWithOptions(cycleworkflows.SyncCycleWorkflow, workflow.RegisterOptions{Name: cycleworkflows.SyncCycleWorkflowName})
	w.RegisterWorkflowWithOptions(cycleworkflows.SyncScheduleWorkflow, workflow.RegisterOptions{Name: cycleworkflows.SyncScheduleWorkflowName})
	w.RegisterWorkflowWithOptions(cycleworkflows.SyncCalendarWorkflow, workflow.RegisterOptions{Name: cycleworkflows.SyncCalendarWorkflowName})
	w.RegisterActivityWithOptions(activities.RunCycle, activity.RegisterOptions{Name: cycleactivities.RunCycleActivityName})
	w.RegisterActivityWithOptions(activities.PlanSchedule, activity.RegisterOptions{Name: cycleactivities.PlanScheduleActivityName})
	w.RegisterActivityWithOptions(activities.RefreshCalendar, activity.RegisterOptions{Name: cycleactivities.RefreshCalendarActivityName})
}

// CronSpecs maps the configured schedules onto Temporal cron workflows.
func CronSpecs(cfg config.Config) []syncworkflows.CronSpec {
	var specs []syncworkflows.CronSpec
	for _, schedule := range []domain.Schedule{domain.ScheduleHourly, domain.ScheduleSnapshot, domain.ScheduleDaily, domain.ScheduleCalendar} {
		if cron := cfg.TemporalCron(schedule); cron != "" {
			specs = append(specs, syncworkflows.CronSpec{Schedule: schedule, Cron: cron})
		}
	}
	return specs
}

func interruptOn(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
