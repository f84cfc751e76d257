package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/mfgsync/internal/domains/sync/adapters/memory"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

func newScheduler(t *testing.T, f *fixture, calendar *memory.Calendar) *Scheduler {
	t.Helper()
	return NewScheduler(f.registry, f.svc,
		WithHolidayCalendar(calendar, true),
		WithScheduleCycleLog(f.cycles),
		WithScheduleLocation(f.svc.Location()),
		WithParallelism(2),
	)
}

func resultFor(report *domain.ScheduleReport, entity domain.EntityType) *domain.SyncResult {
	for _, r := range report.Results {
		if r.Entity == entity {
			return r
		}
	}
	return nil
}

func TestRunSchedule_HourlyRunsEveryHourlyEntity(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc", rec(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}))
	sched := newScheduler(t, f, memory.NewCalendar())

	report, err := sched.RunSchedule(context.Background(), domain.ScheduleHourly, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", report.Day)
	require.Len(t, report.Results, 3)
	qc := resultFor(report, "work_report_qc")
	require.NotNil(t, qc)
	assert.Equal(t, 1, qc.Written)
	assert.Equal(t, domain.TriggerScheduled, qc.Trigger)
	assert.Equal(t, domain.ScheduleHourly, qc.Schedule)
	assert.False(t, qc.Snapshot)
}

func TestRunSchedule_SnapshotStampsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc", rec(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}))
	sched := newScheduler(t, f, memory.NewCalendar())

	report, err := sched.RunSchedule(context.Background(), domain.ScheduleSnapshot, fixedNow)
	require.NoError(t, err)
	for _, r := range report.Results {
		assert.True(t, r.Snapshot, "entity %s", r.Entity)
	}
}

func TestRunSchedule_SkipsHolidays(t *testing.T) {
	f := newFixture(t)
	calendar := memory.NewCalendar()
	_, err := calendar.AddHolidays(context.Background(), []domain.Holiday{{Day: "2024-01-15", Source: domain.HolidaySourceManual}})
	require.NoError(t, err)
	sched := newScheduler(t, f, calendar)

	report, err := sched.RunSchedule(context.Background(), domain.ScheduleDaily, fixedNow)
	require.NoError(t, err)
	assert.True(t, report.Holiday)
	require.Len(t, report.Results, 2)
	for _, r := range report.Results {
		assert.Equal(t, SkipHoliday, r.Skipped)
	}
	assert.Empty(t, f.source.Calls("parts_price"))

	// Manual triggers ignore the calendar.
	_, err = f.svc.RunSync(context.Background(), "parts_price", domain.CycleParameters{})
	require.NoError(t, err)
}

func TestRunSchedule_HourlySkipsWhenAlreadySyncedThisHour(t *testing.T) {
	f := newFixture(t)
	sched := newScheduler(t, f, memory.NewCalendar())

	_, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.NoError(t, err)

	report, err := sched.RunSchedule(context.Background(), domain.ScheduleHourly, fixedNow.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SkipSameHour, resultFor(report, "work_report_qc").Skipped)
	assert.Empty(t, resultFor(report, "daily_work_loss").Skipped)

	report, err = sched.RunSchedule(context.Background(), domain.ScheduleHourly, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, resultFor(report, "work_report_qc").Skipped)
}

func TestRunSchedule_EntitiesAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.source.FailWith("work_report_qc", errors.New("timeout"))
	f.source.SetRows("daily_work_loss", rec(map[string]any{"LotNo": "L-1"}))
	sched := newScheduler(t, f, memory.NewCalendar())

	report, err := sched.RunSchedule(context.Background(), domain.ScheduleHourly, fixedNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	require.Len(t, report.Results, 3)
	assert.Equal(t, domain.StatusFailed, resultFor(report, "work_report_qc").Status())
	assert.Equal(t, 1, resultFor(report, "daily_work_loss").Written)
	assert.Equal(t, 1, report.Count(domain.StatusFailed))
}

func TestPlanSchedule_DoesNotRunCycles(t *testing.T) {
	f := newFixture(t)
	sched := newScheduler(t, f, memory.NewCalendar())

	_, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.NoError(t, err)
	before := len(f.source.Calls("daily_work_loss"))

	plan, err := sched.PlanSchedule(context.Background(), domain.ScheduleHourly, fixedNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", plan.Day)
	assert.False(t, plan.Holiday)
	require.Len(t, plan.Cycles, 3)
	for _, c := range plan.Cycles {
		assert.Equal(t, domain.ScheduledParameters(domain.ScheduleHourly, "2024-01-15"), c.Params)
		if c.Entity == "work_report_qc" {
			assert.Equal(t, SkipSameHour, c.Skipped)
		} else {
			assert.Empty(t, c.Skipped, "entity %s", c.Entity)
		}
	}
	assert.Len(t, f.source.Calls("daily_work_loss"), before)

	report := plan.Report()
	require.Len(t, report.Results, 3)
	for i, c := range plan.Cycles {
		if c.Skipped == "" {
			assert.Nil(t, report.Results[i])
		} else {
			assert.Equal(t, domain.StatusSkipped, report.Results[i].Status())
		}
	}
}

func TestRunSchedule_UnknownSchedule(t *testing.T) {
	f := newFixture(t)
	sched := newScheduler(t, f, memory.NewCalendar())
	_, err := sched.RunSchedule(context.Background(), "weekly", fixedNow)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = sched.RunSchedule(context.Background(), domain.ScheduleCalendar, fixedNow)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRefreshCalendar(t *testing.T) {
	f := newFixture(t)
	calendar := memory.NewCalendar()
	sched := newScheduler(t, f, calendar)

	added, err := sched.RefreshCalendar(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10, added)

	added, err = sched.RefreshCalendar(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, added)

	holiday, err := calendar.IsHoliday(context.Background(), "2024-06-01")
	require.NoError(t, err)
	assert.True(t, holiday)
}
