// Package scheduler fires the sync schedules in-process when Temporal is not available.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

// Default six-field (seconds first) specs evaluated in the configured zone.
const (
	DefaultHourly   = "1 0 8-22 * * *"
	DefaultSnapshot = "0 55 23 * * *"
	DefaultDaily    = "1 0 0 * * *"
	DefaultCalendar = "0 0 0 1 * *"
)

// Specs holds one cron spec per schedule; empty disables the schedule.
type Specs map[domain.Schedule]string

// DefaultSpecs returns the production timetable.
func DefaultSpecs() Specs {
	return Specs{
		domain.ScheduleHourly:   DefaultHourly,
		domain.ScheduleSnapshot: DefaultSnapshot,
		domain.ScheduleDaily:    DefaultDaily,
		domain.ScheduleCalendar: DefaultCalendar,
	}
}

// Scheduler runs schedules on a cron timetable. A trigger that fires while the
// previous run of the same schedule is still active is dropped.
type Scheduler struct {
	cron    *cron.Cron
	runner  ports.ScheduleRunner
	logger  *slog.Logger
	timeout time.Duration
	running sync.Map // domain.Schedule -> struct{}
	wg      sync.WaitGroup
}

// New parses specs into a cron timetable in loc.
func New(runner ports.ScheduleRunner, specs Specs, loc *time.Location, logger *slog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Scheduler{
		cron:    cron.NewWithLocation(loc),
		runner:  runner,
		logger:  logger,
		timeout: 2 * time.Hour,
	}
	for _, schedule := range []domain.Schedule{domain.ScheduleHourly, domain.ScheduleSnapshot, domain.ScheduleDaily, domain.ScheduleCalendar} {
		spec := specs[schedule]
		if spec == "" {
			continue
		}
		schedule := schedule
		if err := s.cron.AddFunc(spec, func() { s.Fire(context.Background(), schedule, time.Now()) }); err != nil {
			return nil, fmt.Errorf("schedule %s: invalid cron spec %q: %w", schedule, spec, err)
		}
	}
	return s, nil
}

// Start begins firing triggers in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the timetable and waits for running triggers.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.wg.Wait()
}

// Fire runs one trigger synchronously unless the schedule is already running.
// It reports whether the trigger ran.
func (s *Scheduler) Fire(ctx context.Context, schedule domain.Schedule, at time.Time) bool {
	if _, busy := s.running.LoadOrStore(schedule, struct{}{}); busy {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "previous scheduled run still active, trigger dropped",
			slog.String("schedule", string(schedule)))
		return false
	}
	s.wg.Add(1)
	defer func() {
		s.running.Delete(schedule)
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if schedule == domain.ScheduleCalendar {
		if _, err := s.runner.RefreshCalendar(ctx, at); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "calendar refresh failed", slog.String("error", err.Error()))
		}
		return true
	}
	if _, err := s.runner.RunSchedule(ctx, schedule, at); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "scheduled run failed",
			slog.String("schedule", string(schedule)), slog.String("error", err.Error()))
	}
	return true
}

// Entries returns the next activation of each registered schedule, for logging.
func (s *Scheduler) Entries() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}
