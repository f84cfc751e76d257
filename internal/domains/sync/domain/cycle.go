package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Trigger identifies what started a cycle.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

var ErrInvalidCycleParameters = errors.New("invalid cycle parameters")

// CycleParameters carries the per-cycle inputs of a sync run.
type CycleParameters struct {
	// Day is the business day (YYYY-MM-DD) used for :day filters.
	Day string
	// From and To bound range procedures; both default to Day.
	From     string
	To       string
	Snapshot bool
	Trigger  Trigger
	Schedule Schedule
}

// Normalize fills defaults relative to now (in loc) and validates the date parameters.
func (p CycleParameters) Normalize(now time.Time, loc *time.Location) (CycleParameters, error) {
	if loc == nil {
		loc = time.UTC
	}
	p.Day = strings.TrimSpace(p.Day)
	if p.Day == "" {
		p.Day = now.In(loc).Format(DefaultDateLayout)
	}
	if p.Trigger == "" {
		p.Trigger = TriggerManual
	}
	if _, err := time.ParseInLocation(DefaultDateLayout, p.Day, loc); err != nil {
		return p, fmt.Errorf("%w: day %q must be YYYY-MM-DD", ErrInvalidCycleParameters, p.Day)
	}
	if strings.TrimSpace(p.From) == "" {
		p.From = p.Day
	}
	if strings.TrimSpace(p.To) == "" {
		p.To = p.Day
	}
	from, err := time.ParseInLocation(DefaultDateLayout, p.From, loc)
	if err != nil {
		return p, fmt.Errorf("%w: from %q must be YYYY-MM-DD", ErrInvalidCycleParameters, p.From)
	}
	to, err := time.ParseInLocation(DefaultDateLayout, p.To, loc)
	if err != nil {
		return p, fmt.Errorf("%w: to %q must be YYYY-MM-DD", ErrInvalidCycleParameters, p.To)
	}
	if to.Before(from) {
		return p, fmt.Errorf("%w: from %s is after to %s", ErrInvalidCycleParameters, p.From, p.To)
	}
	return p, nil
}

// RecordFailure is one source record that did not make it into the target store,
// or whose recent marker could not be applied.
type RecordFailure struct {
	Index    int       `json:"index"`
	Identity string    `json:"identity,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Column   string    `json:"column,omitempty"`
	Field    string    `json:"field,omitempty"`
	RecordID int64     `json:"recordId,omitempty"`
	Message  string    `json:"message"`
}

// NewRecordFailure classifies err for the record at index.
func NewRecordFailure(index int, identity string, err error) RecordFailure {
	f := RecordFailure{Index: index, Identity: identity, Kind: KindOf(err), Message: err.Error()}
	var missing *MissingColumnError
	var coercion *CoercionError
	var conflict *WriteConflictError
	switch {
	case errors.As(err, &missing):
		f.Column, f.Field = missing.Column, missing.Field
	case errors.As(err, &coercion):
		f.Column, f.Field = coercion.Column, coercion.Field
	case errors.As(err, &conflict):
		f.RecordID = conflict.RecordID
	}
	return f
}

// CycleStatus summarizes the outcome of one cycle.
type CycleStatus string

const (
	StatusSucceeded CycleStatus = "succeeded"
	StatusPartial   CycleStatus = "partial"
	StatusFailed    CycleStatus = "failed"
	StatusSkipped   CycleStatus = "skipped"
)

// SyncResult is the outcome of runSync for one entity.
type SyncResult struct {
	CycleID    string          `json:"cycleId"`
	Entity     EntityType      `json:"entity"`
	Day        string          `json:"day"`
	Snapshot   bool            `json:"snapshot"`
	Trigger    Trigger         `json:"trigger"`
	Schedule   Schedule        `json:"schedule,omitempty"`
	Fetched    int             `json:"fetched"`
	Written    int             `json:"written"`
	Failed     int             `json:"failed"`
	Failures   []RecordFailure `json:"failures,omitempty"`
	Conflicts  []RecordFailure `json:"conflicts,omitempty"`
	Skipped    string          `json:"skipped,omitempty"`
	Err        string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Status derives the cycle status from counters.
func (r *SyncResult) Status() CycleStatus {
	switch {
	case r == nil:
		return StatusFailed
	case r.Skipped != "":
		return StatusSkipped
	case r.Err != "":
		return StatusFailed
	case r.Failed > 0 || len(r.Conflicts) > 0:
		return StatusPartial
	}
	return StatusSucceeded
}

// FailureKinds returns the distinct kinds of record failures and conflicts.
func (r *SyncResult) FailureKinds() []string {
	seen := map[ErrorKind]struct{}{}
	var kinds []string
	for _, list := range [][]RecordFailure{r.Failures, r.Conflicts} {
		for _, f := range list {
			if _, ok := seen[f.Kind]; ok {
				continue
			}
			seen[f.Kind] = struct{}{}
			kinds = append(kinds, string(f.Kind))
		}
	}
	return kinds
}

// CycleEntry is the persisted log line of a finished cycle.
type CycleEntry struct {
	ID         string
	Entity     EntityType
	Day        string
	Snapshot   bool
	Trigger    Trigger
	Schedule   Schedule
	Status     CycleStatus
	Fetched    int
	Written    int
	Failed     int
	Conflicts  int
	Kinds      []string
	Failures   []RecordFailure
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// EntryFromResult converts a result into a cycle log entry.
func EntryFromResult(r *SyncResult) CycleEntry {
	failures := make([]RecordFailure, 0, len(r.Failures)+len(r.Conflicts))
	failures = append(failures, r.Failures...)
	failures = append(failures, r.Conflicts...)
	return CycleEntry{
		ID:         r.CycleID,
		Entity:     r.Entity,
		Day:        r.Day,
		Snapshot:   r.Snapshot,
		Trigger:    r.Trigger,
		Schedule:   r.Schedule,
		Status:     r.Status(),
		Fetched:    r.Fetched,
		Written:    r.Written,
		Failed:     r.Failed,
		Conflicts:  len(r.Conflicts),
		Kinds:      r.FailureKinds(),
		Failures:   failures,
		Error:      r.Err,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// ScheduleReport collects the per-entity results of one scheduled trigger.
type ScheduleReport struct {
	Schedule   Schedule      `json:"schedule"`
	Day        string        `json:"day"`
	Holiday    bool          `json:"holiday"`
	Results    []*SyncResult `json:"results"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Skip reasons reported in SyncResult.Skipped.
const (
	SkipHoliday  = "holiday"
	SkipSameHour = "already synced this hour"
	SkipBusy     = "cycle in progress"
)

// ScheduledParameters are the cycle parameters every entity of a scheduled
// trigger runs with.
func ScheduledParameters(schedule Schedule, day string) CycleParameters {
	return CycleParameters{
		Day:      day,
		Snapshot: schedule == ScheduleSnapshot,
		Trigger:  TriggerScheduled,
		Schedule: schedule,
	}
}

// SkippedResult reports a scheduled entity that did not run.
func SkippedResult(entity EntityType, schedule Schedule, day, reason string, at time.Time) *SyncResult {
	return &SyncResult{
		Entity:     entity,
		Day:        day,
		Trigger:    TriggerScheduled,
		Schedule:   schedule,
		Skipped:    reason,
		StartedAt:  at,
		FinishedAt: at,
	}
}

// PlannedCycle is one entity of a scheduled trigger after the holiday and
// same-hour checks. A non-empty Skipped means the entity does not run.
type PlannedCycle struct {
	Entity  EntityType      `json:"entity"`
	Params  CycleParameters `json:"params"`
	Skipped string          `json:"skipped,omitempty"`
}

// SchedulePlan lists the cycles of one scheduled trigger in registry order.
type SchedulePlan struct {
	Schedule  Schedule       `json:"schedule"`
	Day       string         `json:"day"`
	Holiday   bool           `json:"holiday"`
	StartedAt time.Time      `json:"startedAt"`
	Cycles    []PlannedCycle `json:"cycles"`
}

// Report returns a report with one slot per planned cycle. Skipped cycles are
// filled in; the slots of cycles to run are nil.
func (p *SchedulePlan) Report() *ScheduleReport {
	r := &ScheduleReport{
		Schedule:  p.Schedule,
		Day:       p.Day,
		Holiday:   p.Holiday,
		StartedAt: p.StartedAt,
		Results:   make([]*SyncResult, len(p.Cycles)),
	}
	for i, c := range p.Cycles {
		if c.Skipped != "" {
			r.Results[i] = SkippedResult(c.Entity, p.Schedule, p.Day, c.Skipped, p.StartedAt)
		}
	}
	return r
}

// Count returns how many results ended with status.
func (r *ScheduleReport) Count(status CycleStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status() == status {
			n++
		}
	}
	return n
}

// Holiday is a day on which scheduled cycles are skipped.
type Holiday struct {
	Day    string
	Name   string
	Source string
}

const (
	HolidaySourceWeekend = "weekend"
	HolidaySourceManual  = "manual"
)

// WeekendsOf lists every Saturday and Sunday of the month containing t.
func WeekendsOf(t time.Time) []Holiday {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []Holiday
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			out = append(out, Holiday{Day: d.Format(DefaultDateLayout), Name: d.Weekday().String(), Source: HolidaySourceWeekend})
		}
	}
	return out
}
