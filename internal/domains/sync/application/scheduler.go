package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/mapping"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

// Skip reasons reported in SyncResult.Skipped.
const (
	SkipHoliday  = domain.SkipHoliday
	SkipSameHour = domain.SkipSameHour
	SkipBusy     = domain.SkipBusy
)

// DefaultScheduleParallelism bounds concurrent cycles of one scheduled trigger.
const DefaultScheduleParallelism = 4

// Scheduler runs every entity of a schedule. Entities are independent: one
// failing cycle never prevents the others.
type Scheduler struct {
	registry     *mapping.Registry
	runner       ports.Service
	cycles       ports.CycleLog
	calendar     ports.Calendar
	logger       *slog.Logger
	location     *time.Location
	skipHolidays bool
	parallelism  int
}

type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithHolidayCalendar enables skipping scheduled runs on calendar days.
func WithHolidayCalendar(c ports.Calendar, skip bool) SchedulerOption {
	return func(s *Scheduler) {
		s.calendar = c
		s.skipHolidays = skip
	}
}

// WithScheduleCycleLog enables the same-hour skip of hourly runs.
func WithScheduleCycleLog(log ports.CycleLog) SchedulerOption {
	return func(s *Scheduler) { s.cycles = log }
}

// WithScheduleLocation sets the zone of trigger times.
func WithScheduleLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) { s.location = loc }
}

// WithParallelism bounds concurrent cycles per trigger.
func WithParallelism(n int) SchedulerOption {
	return func(s *Scheduler) { s.parallelism = n }
}

// NewScheduler wires the scheduled triggers over runner.
func NewScheduler(registry *mapping.Registry, runner ports.Service, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:    registry,
		runner:      runner,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		location:    time.UTC,
		parallelism: DefaultScheduleParallelism,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.parallelism <= 0 {
		s.parallelism = 1
	}
	return s
}

// PlanSchedule decides which entities of schedule run for the day of at.
// Every entity is skipped on a holiday; hourly runs skip entities that already
// have a successful live cycle in the same hour.
func (s *Scheduler) PlanSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.SchedulePlan, error) {
	switch schedule {
	case domain.ScheduleHourly, domain.ScheduleSnapshot, domain.ScheduleDaily:
	default:
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidParameters, domain.ErrUnknownSchedule, schedule)
	}
	local := at.In(s.location)
	plan := &domain.SchedulePlan{
		Schedule:  schedule,
		Day:       local.Format(domain.DefaultDateLayout),
		StartedAt: at,
	}
	if s.skipHolidays && s.calendar != nil {
		holiday, err := s.calendar.IsHoliday(ctx, plan.Day)
		if err != nil {
			return nil, fmt.Errorf("check holiday calendar: %w", err)
		}
		plan.Holiday = holiday
	}
	for _, entity := range s.registry.BySchedule(schedule) {
		c := domain.PlannedCycle{Entity: entity, Params: domain.ScheduledParameters(schedule, plan.Day)}
		switch {
		case plan.Holiday:
			c.Skipped = SkipHoliday
		case schedule == domain.ScheduleHourly && s.ranThisHour(ctx, entity, local):
			c.Skipped = SkipSameHour
		}
		plan.Cycles = append(plan.Cycles, c)
	}
	if plan.Holiday {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "scheduled run skipped on holiday",
			slog.String("schedule", string(schedule)), slog.String("day", plan.Day))
	}
	return plan, nil
}

func (s *Scheduler) ranThisHour(ctx context.Context, entity domain.EntityType, local time.Time) bool {
	if s.cycles == nil {
		return false
	}
	last, err := s.cycles.LastSuccessful(ctx, entity, false)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "cycle log lookup failed",
			slog.String("entity", string(entity)), slog.String("error", err.Error()))
		return false
	}
	return last != nil && sameHour(last.StartedAt.In(s.location), local)
}

// RunSchedule plans schedule and runs the planned cycles in this process.
// Entities are independent: one failing cycle never prevents the others.
func (s *Scheduler) RunSchedule(ctx context.Context, schedule domain.Schedule, at time.Time) (*domain.ScheduleReport, error) {
	plan, err := s.PlanSchedule(ctx, schedule, at)
	if err != nil {
		return nil, err
	}
	report := plan.Report()

	var (
		mu   sync.Mutex
		errs []error
	)
	group := new(errgroup.Group)
	group.SetLimit(s.parallelism)
	for i, c := range plan.Cycles {
		if c.Skipped != "" {
			continue
		}
		group.Go(func() error {
			res, err := s.runEntity(ctx, c)
			report.Results[i] = res
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	report.FinishedAt = time.Now()
	return report, errors.Join(errs...)
}

func (s *Scheduler) runEntity(ctx context.Context, c domain.PlannedCycle) (*domain.SyncResult, error) {
	res, err := s.runner.RunSync(ctx, c.Entity, c.Params)
	if errors.Is(err, ErrCycleInProgress) {
		return domain.SkippedResult(c.Entity, c.Params.Schedule, c.Params.Day, SkipBusy, time.Now()), nil
	}
	if res == nil {
		res = &domain.SyncResult{Entity: c.Entity, Day: c.Params.Day, Trigger: domain.TriggerScheduled, Schedule: c.Params.Schedule}
		if err != nil {
			res.Err = err.Error()
		}
	}
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "scheduled cycle failed",
			slog.String("entity", string(c.Entity)), slog.String("schedule", string(c.Params.Schedule)), slog.String("error", err.Error()))
		return res, fmt.Errorf("%s: %w", c.Entity, err)
	}
	return res, nil
}

// RefreshCalendar stores the weekends of the month containing at as holidays
// and returns how many new days were added.
func (s *Scheduler) RefreshCalendar(ctx context.Context, at time.Time) (int, error) {
	if s.calendar == nil {
		return 0, nil
	}
	added, err := s.calendar.AddHolidays(ctx, domain.WeekendsOf(at.In(s.location)))
	if err != nil {
		return 0, fmt.Errorf("refresh holiday calendar: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "holiday calendar refreshed",
		slog.String("month", at.In(s.location).Format("2006-01")), slog.Int("added", added))
	return added, nil
}

func sameHour(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay() && a.Hour() == b.Hour()
}

var _ ports.ScheduleRunner = (*Scheduler)(nil)
