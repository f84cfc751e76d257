package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

// Schedules decorates a schedule runner with a span and a summary log line per trigger.
type Schedules struct {
	inner  ports.ScheduleRunner
	tracer trace.Tracer
	logger *slog.Logger
}

func NewSchedules(inner ports.ScheduleRunner, logger *slog.Logger, tracer trace.Tracer) ports.ScheduleRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return &Schedules{inner: inner, tracer: tracer, logger: logger}
}

func (s *Schedules) PlanSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.SchedulePlan, error) {
	ctx, span := s.tracer.Start(ctx, "SyncScheduler.PlanSchedule", trace.WithAttributes(attribute.String("sync.schedule", string(schedule))))
	defer span.End()

	plan, err := s.inner.PlanSchedule(ctx, schedule, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("sync.holiday", plan.Holiday), attribute.Int("sync.entities", len(plan.Cycles)))
	return plan, nil
}

func (s *Schedules) RunSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.ScheduleReport, error) {
	ctx, span := s.tracer.Start(ctx, "SyncScheduler.RunSchedule", trace.WithAttributes(attribute.String("sync.schedule", string(schedule))))
	defer span.End()

	report, err := s.inner.RunSchedule(ctx, schedule, at)
	if report != nil {
		span.SetAttributes(attribute.Bool("sync.holiday", report.Holiday), attribute.Int("sync.entities", len(report.Results)))
		s.logger.LogAttrs(ctx, slog.LevelInfo, "scheduled run finished",
			slog.String("schedule", string(schedule)),
			slog.String("day", report.Day),
			slog.Bool("holiday", report.Holiday),
			slog.Int("succeeded", report.Count(domain.StatusSucceeded)),
			slog.Int("partial", report.Count(domain.StatusPartial)),
			slog.Int("failed", report.Count(domain.StatusFailed)),
			slog.Int("skipped", report.Count(domain.StatusSkipped)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.LogAttrs(ctx, slog.LevelError, "scheduled run failed",
			slog.String("schedule", string(schedule)), slog.String("error", err.Error()))
	}
	return report, err
}

func (s *Schedules) RefreshCalendar(ctx context.Context, at time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "SyncScheduler.RefreshCalendar")
	defer span.End()

	added, err := s.inner.RefreshCalendar(ctx, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("sync.holidays_added", added))
	return added, nil
}

var _ ports.ScheduleRunner = (*Schedules)(nil)
