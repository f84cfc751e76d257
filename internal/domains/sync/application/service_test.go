package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/mfgsync/internal/domains/sync/adapters/memory"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/mapping"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

func qcTable() *domain.MappingTable {
	return &domain.MappingTable{
		Entity:          "work_report_qc",
		Database:        domain.SourceERP,
		Query:           "select * from dbo.dhi_VPDSPFWorkReportQC where 작업일 = :day",
		IdentityColumns: []string{"작업지시번호"},
		Schedules:       []domain.Schedule{domain.ScheduleHourly, domain.ScheduleSnapshot},
		Bindings: []domain.Binding{
			{SourceColumn: "작업지시번호", Target: domain.FieldDescriptor{Name: "operationInstructionNumber", Type: domain.FieldText, Policy: domain.PolicyRequired}},
			{SourceColumn: "작업일", Target: domain.FieldDescriptor{Name: "workingDay", Type: domain.FieldDate, Policy: domain.PolicyRequired}},
			{SourceColumn: "생산수량", Target: domain.FieldDescriptor{Name: "productionQuantity", Type: domain.FieldDecimal, Policy: domain.PolicyRequired}},
		},
	}
}

func partsTable() *domain.MappingTable {
	return &domain.MappingTable{
		Entity:          "parts_price",
		Database:        domain.SourceERP,
		Query:           "select * from dbo.dhi_VPDPartsList",
		IdentityColumns: []string{"대호코드"},
		NaturalKey:      []string{"daehoCode"},
		RecentMarker:    true,
		Schedules:       []domain.Schedule{domain.ScheduleDaily},
		Bindings: []domain.Binding{
			{SourceColumn: "대호코드", Target: domain.FieldDescriptor{Name: "daehoCode", Type: domain.FieldText, Policy: domain.PolicyRequired}},
			{SourceColumn: "원자재비", Target: domain.FieldDescriptor{Name: "costRawMaterials", Type: domain.FieldDecimal, Policy: domain.PolicyDefault, Default: "0"}},
		},
	}
}

func lossTable() *domain.MappingTable {
	return &domain.MappingTable{
		Entity:        "daily_work_loss",
		Database:      domain.SourceMES,
		Query:         "exec dbo.usp_DailyWorkLoss :from, :to",
		ParamDefaults: map[string]string{"from": "2023-10-01"},
		Schedules:     []domain.Schedule{domain.ScheduleHourly, domain.ScheduleSnapshot},
		Bindings: []domain.Binding{
			{SourceColumn: "LotNo", Target: domain.FieldDescriptor{Name: "lotNo", Type: domain.FieldText, Policy: domain.PolicyRequired}},
		},
	}
}

func issueTable() *domain.MappingTable {
	return &domain.MappingTable{
		Entity:         "material_issue",
		Database:       domain.SourceMES,
		Query:          "select * from WM_MATERIALISSUELIST",
		AlwaysSnapshot: true,
		Schedules:      []domain.Schedule{domain.ScheduleDaily},
		Bindings: []domain.Binding{
			{SourceColumn: "ITEM_CD", Target: domain.FieldDescriptor{Name: "itemCd", Type: domain.FieldText, Policy: domain.PolicyRequired}},
		},
	}
}

func dailyTable() *domain.MappingTable {
	return &domain.MappingTable{
		Entity:    "production_daily",
		Database:  domain.SourceMES,
		Query:     "exec dbo.usp_ProductionDailyList",
		Schedules: []domain.Schedule{domain.ScheduleHourly},
		Lookups: []domain.Lookup{{
			Name:     "equipment_use_time",
			Database: domain.SourceMES,
			Query:    "select EQUIPMENTUSETIME from WM_PRODUCTIONDAILY where LOTID = :lot and PLANDATE = :day",
			Args:     map[string]string{"lot": "LotId", "day": "@day"},
			Column:   "EQUIPMENTUSETIME",
		}},
		Bindings: []domain.Binding{
			{SourceColumn: "LotId", Target: domain.FieldDescriptor{Name: "lotId", Type: domain.FieldText, Policy: domain.PolicyRequired}},
			{SourceColumn: "EQUIPMENTUSETIME", Target: domain.FieldDescriptor{Name: "equipmentUseTime", Type: domain.FieldDecimal, Policy: domain.PolicyNullable}},
		},
	}
}

type fixture struct {
	registry *mapping.Registry
	source   *memory.Source
	store    *memory.Store
	cycles   *memory.CycleLog
	notifier *recordingNotifier
	svc      *Service
}

var fixedNow = time.Date(2024, 1, 15, 1, 30, 0, 0, time.UTC) // 10:30 in Seoul

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	registry, err := mapping.New(qcTable(), partsTable(), lossTable(), issueTable(), dailyTable())
	require.NoError(t, err)
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	f := &fixture{
		registry: registry,
		source:   memory.NewSource(),
		store:    memory.NewStore(),
		cycles:   memory.NewCycleLog(),
		notifier: &recordingNotifier{},
	}
	base := []Option{
		WithCycleLog(f.cycles),
		WithNotifier(f.notifier),
		WithLocation(seoul),
		WithClock(func() time.Time { return fixedNow }),
	}
	f.svc = NewService(registry, f.source, f.store, append(base, opts...)...)
	return f
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ports.CycleEvent
}

func (n *recordingNotifier) Publish(_ context.Context, event ports.CycleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func rec(values map[string]any) domain.SourceRecord {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	return domain.NewSourceRecord(cols, values)
}

func TestRunSync_PartialBatch(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc",
		rec(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1234.5"}),
		rec(map[string]any{"작업지시번호": "WO-2", "작업일": "2024-01-15"}),
		rec(map[string]any{"작업지시번호": "WO-3", "작업일": "2024-01-15", "생산수량": "12x"}),
	)

	result, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, domain.KindMissingColumn, result.Failures[0].Kind)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Equal(t, "작업지시번호=WO-2", result.Failures[0].Identity)
	assert.Equal(t, "생산수량", result.Failures[0].Column)
	assert.Equal(t, domain.KindCoercion, result.Failures[1].Kind)
	assert.Equal(t, 2, result.Failures[1].Index)
	assert.Equal(t, domain.StatusPartial, result.Status())

	stored, err := f.store.List(context.Background(), qcTable(), ports.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "WO-1", stored[0].Fields["operationInstructionNumber"].Text)
	assert.Equal(t, result.CycleID, stored[0].CycleID)
	assert.False(t, stored[0].Snapshot)

	entries, err := f.cycles.List(context.Background(), "work_report_qc", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusPartial, entries[0].Status)
	assert.ElementsMatch(t, []string{"missing_column", "coercion"}, entries[0].Kinds)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, 2, f.notifier.events[0].Failed)
}

func TestRunSync_DefaultsDayInConfiguredZone(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc")

	result, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", result.Day)
	calls := f.source.Calls("work_report_qc")
	require.Len(t, calls, 1)
	assert.Equal(t, "2024-01-15", calls[0].Day)
	assert.Equal(t, domain.TriggerManual, calls[0].Trigger)
}

func TestRunSync_TwoLiveRunsAppend(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc",
		rec(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}),
		rec(map[string]any{"작업지시번호": "WO-2", "작업일": "2024-01-15", "생산수량": "2"}),
	)

	first, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.NoError(t, err)
	second, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.NoError(t, err)
	assert.NotEqual(t, first.CycleID, second.CycleID)

	stored, err := f.store.List(context.Background(), qcTable(), ports.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, stored, 4)
	ids := map[int64]struct{}{}
	for _, r := range stored {
		ids[r.ID] = struct{}{}
	}
	assert.Len(t, ids, 4)
}

func TestRunSync_SnapshotFlagStampedOnBatch(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc",
		rec(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}),
		rec(map[string]any{"작업지시번호": "WO-2", "작업일": "2024-01-15", "생산수량": "2"}),
	)
	_, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{Snapshot: true})
	require.NoError(t, err)

	snapshot := true
	stored, err := f.store.List(context.Background(), qcTable(), ports.RecordQuery{Snapshot: &snapshot})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunSync_RecentMarkerKeepsOneRecentPerKey(t *testing.T) {
	f := newFixture(t)
	const runs = 4
	for i := 0; i < runs; i++ {
		f.source.SetRows("parts_price",
			rec(map[string]any{"대호코드": "A1", "원자재비": i}),
			rec(map[string]any{"대호코드": "B2", "원자재비": "7"}),
		)
		result, err := f.svc.RunSync(context.Background(), "parts_price", domain.CycleParameters{})
		require.NoError(t, err)
		require.Empty(t, result.Conflicts)
	}

	history, err := f.store.FindByNaturalKey(context.Background(), partsTable(), "A1")
	require.NoError(t, err)
	require.Len(t, history, runs)
	var recent []*domain.TargetRecord
	for _, r := range history {
		if r.Recent {
			recent = append(recent, r)
		}
	}
	require.Len(t, recent, 1)
	assert.Equal(t, history[len(history)-1].ID, recent[0].ID)
	assert.Equal(t, "3", recent[0].Fields["costRawMaterials"].Decimal.String())
}

func TestRunSync_SourceUnavailableAbortsBeforeWrites(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("work_report_qc", rec(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}))
	f.source.FailWith("work_report_qc", errors.New("connection refused"))

	result, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, domain.EntityType("work_report_qc"), unavailable.Entity)
	require.NotNil(t, result)
	assert.Equal(t, domain.StatusFailed, result.Status())
	assert.Zero(t, result.Written)

	stored, err := f.store.List(context.Background(), qcTable(), ports.RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, stored)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, domain.StatusFailed, f.notifier.events[0].Status)
}

func TestRunSync_SourceTimeoutIsSourceUnavailable(t *testing.T) {
	f := newFixture(t, WithSourceTimeout(10*time.Millisecond))
	f.svc.source = blockingSource{}

	_, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunSync_SameEntityIsSerialized(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.svc.source = &gateSource{entered: entered, unblock: unblock}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
		done <- err
	}()
	<-entered

	_, err := f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{})
	assert.ErrorIs(t, err, ErrCycleInProgress)

	// A different entity is not blocked.
	f.svc.source = f.source
	_, err = f.svc.RunSync(context.Background(), "parts_price", domain.CycleParameters{})
	assert.NoError(t, err)

	close(unblock)
	require.NoError(t, <-done)
}

func TestRunSync_UnknownEntityAndBadParameters(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunSync(context.Background(), "nope", domain.CycleParameters{})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = f.svc.RunSync(context.Background(), "work_report_qc", domain.CycleParameters{Day: "15/01/2024"})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRunSync_ParamDefaultsApplyToLiveCycles(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("daily_work_loss")

	_, err := f.svc.RunSync(context.Background(), "daily_work_loss", domain.CycleParameters{})
	require.NoError(t, err)
	_, err = f.svc.RunSync(context.Background(), "daily_work_loss", domain.CycleParameters{Snapshot: true})
	require.NoError(t, err)

	calls := f.source.Calls("daily_work_loss")
	require.Len(t, calls, 2)
	assert.Equal(t, "2023-10-01", calls[0].From)
	assert.Equal(t, "2024-01-15", calls[0].To)
	assert.Equal(t, "2024-01-15", calls[1].From)
}

func TestRunSync_AlwaysSnapshot(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("material_issue", rec(map[string]any{"ITEM_CD": "M-1"}))

	result, err := f.svc.RunSync(context.Background(), "material_issue", domain.CycleParameters{})
	require.NoError(t, err)
	assert.True(t, result.Snapshot)
	stored, err := f.store.List(context.Background(), issueTable(), ports.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Snapshot)
}

func TestRunSync_LookupMergesColumn(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("production_daily",
		rec(map[string]any{"LotId": "L-1"}),
		rec(map[string]any{"LotId": "L-2"}),
	)
	f.source.SetLookup(func(_ domain.Lookup, args map[string]any) (any, bool) {
		assert.Equal(t, "2024-01-15", args["day"])
		if args["lot"] == "L-1" {
			return "3.5", true
		}
		return nil, false
	})

	result, err := f.svc.RunSync(context.Background(), "production_daily", domain.CycleParameters{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)

	stored, err := f.store.List(context.Background(), dailyTable(), ports.RecordQuery{})
	require.NoError(t, err)
	byLot := map[string]*domain.TargetRecord{}
	for _, r := range stored {
		byLot[r.Fields["lotId"].Text] = r
	}
	assert.Equal(t, "3.5", byLot["L-1"].Fields["equipmentUseTime"].Decimal.String())
	assert.True(t, byLot["L-2"].Fields["equipmentUseTime"].Null)
}

func TestRunSync_ConflictsAreReportedWithSourceIndex(t *testing.T) {
	f := newFixture(t)
	store := &conflictingStore{Store: memory.NewStore(), conflictAt: 1}
	f.svc = NewService(f.registry, f.source, store, WithClock(func() time.Time { return fixedNow }))
	f.source.SetRows("parts_price",
		rec(map[string]any{"원자재비": "1"}),
		rec(map[string]any{"대호코드": "A1"}),
		rec(map[string]any{"대호코드": "B2"}),
	)

	result, err := f.svc.RunSync(context.Background(), "parts_price", domain.CycleParameters{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, 2, result.Conflicts[0].Index)
	assert.Equal(t, "대호코드=B2", result.Conflicts[0].Identity)
	assert.Equal(t, domain.KindWriteConflict, result.Conflicts[0].Kind)
	assert.Equal(t, domain.StatusPartial, result.Status())
}

func TestListRecordsAndCycles(t *testing.T) {
	f := newFixture(t)
	f.source.SetRows("parts_price", rec(map[string]any{"대호코드": "A1", "원자재비": "1"}))
	for i := 0; i < 2; i++ {
		_, err := f.svc.RunSync(context.Background(), "parts_price", domain.CycleParameters{})
		require.NoError(t, err)
	}

	recent := true
	records, err := f.svc.ListRecords(context.Background(), "parts_price", ports.RecordQuery{Recent: &recent})
	require.NoError(t, err)
	require.Len(t, records, 1)

	history, err := f.svc.ListRecords(context.Background(), "parts_price", ports.RecordQuery{NaturalKey: "A1"})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	cycles, err := f.svc.ListCycles(context.Background(), "parts_price", 1)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)

	_, err = f.svc.ListRecords(context.Background(), "nope", ports.RecordQuery{})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	tables, err := f.svc.ListEntities(context.Background())
	require.NoError(t, err)
	assert.Len(t, tables, 5)
}

type blockingSource struct{}

func (blockingSource) Fetch(ctx context.Context, _ *domain.MappingTable, _ domain.CycleParameters) ([]domain.SourceRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Lookup(context.Context, domain.Lookup, map[string]any) (any, bool, error) {
	return nil, false, nil
}

type gateSource struct {
	entered chan struct{}
	unblock chan struct{}
}

func (g *gateSource) Fetch(context.Context, *domain.MappingTable, domain.CycleParameters) ([]domain.SourceRecord, error) {
	close(g.entered)
	<-g.unblock
	return nil, nil
}

func (g *gateSource) Lookup(context.Context, domain.Lookup, map[string]any) (any, bool, error) {
	return nil, false, nil
}

// conflictingStore fails the recent marking of the record at conflictAt in each chunk.
type conflictingStore struct {
	*memory.Store
	conflictAt int
}

func (s *conflictingStore) InsertChunk(ctx context.Context, table *domain.MappingTable, records []*domain.TargetRecord) ([]ports.Conflict, error) {
	if _, err := s.Store.InsertChunk(ctx, table, records); err != nil {
		return nil, err
	}
	if s.conflictAt >= len(records) {
		return nil, nil
	}
	r := records[s.conflictAt]
	r.Recent = false
	return []ports.Conflict{{
		Index: s.conflictAt,
		Err:   &domain.WriteConflictError{Entity: table.Entity, NaturalKey: r.NaturalKey, RecordID: r.ID, Err: errors.New("lock timeout")},
	}}, nil
}

func trackedLossTable() *domain.MappingTable {
	table := lossTable()
	table.Bindings = append(table.Bindings, domain.Binding{
		SourceColumn: "StateProgressing",
		Target:       domain.FieldDescriptor{Name: "stateProgressing", Type: domain.FieldText, Policy: domain.PolicyNullable},
	})
	table.Tracking = &domain.LotTracking{Kind: "loss", LotField: "lotNo", StateField: "stateProgressing", Active: []string{"진행"}}
	return table
}

func TestRunSync_SnapshotTracksActiveLots(t *testing.T) {
	registry, err := mapping.New(trackedLossTable())
	require.NoError(t, err)
	source := memory.NewSource()
	lots := memory.NewLotTracker()
	svc := NewService(registry, source, memory.NewStore(), WithLotTracker(lots), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	source.SetRows("daily_work_loss",
		rec(map[string]any{"LotNo": "L-1", "StateProgressing": "진행"}),
		rec(map[string]any{"LotNo": "L-2", "StateProgressing": "진행"}),
		rec(map[string]any{"LotNo": "L-3", "StateProgressing": "완료"}),
	)
	first, err := svc.RunSync(ctx, "daily_work_loss", domain.CycleParameters{Snapshot: true})
	require.NoError(t, err)
	tracked, err := lots.List(ctx, "loss")
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	assert.Equal(t, "L-1", tracked[0].LotCode)
	assert.Equal(t, first.CycleID, tracked[0].CycleID)
	assert.Equal(t, domain.EntityType("daily_work_loss"), tracked[1].Entity)

	source.SetRows("daily_work_loss",
		rec(map[string]any{"LotNo": "L-1", "StateProgressing": "완료"}),
		rec(map[string]any{"LotNo": "L-4", "StateProgressing": "진행"}),
	)
	_, err = svc.RunSync(ctx, "daily_work_loss", domain.CycleParameters{})
	require.NoError(t, err)
	tracked, err = lots.List(ctx, "loss")
	require.NoError(t, err)
	assert.Len(t, tracked, 2, "hourly cycles leave the markers alone")

	_, err = svc.RunSync(ctx, "daily_work_loss", domain.CycleParameters{Snapshot: true})
	require.NoError(t, err)
	tracked, err = lots.List(ctx, "loss")
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	assert.Equal(t, "L-2", tracked[0].LotCode)
	assert.Equal(t, first.CycleID, tracked[0].CycleID)
	assert.Equal(t, "L-4", tracked[1].LotCode)
}

func TestRunSync_FailedSnapshotKeepsMarkers(t *testing.T) {
	registry, err := mapping.New(trackedLossTable())
	require.NoError(t, err)
	source := memory.NewSource()
	lots := memory.NewLotTracker()
	require.NoError(t, lots.Apply(context.Background(), domain.LotUpdate{Kind: "loss", Active: []string{"L-9"}}))
	svc := NewService(registry, source, memory.NewStore(), WithLotTracker(lots))

	source.FailWith("daily_work_loss", errors.New("mes offline"))
	_, err = svc.RunSync(context.Background(), "daily_work_loss", domain.CycleParameters{Snapshot: true})
	require.Error(t, err)

	tracked, err := lots.List(context.Background(), "loss")
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, "L-9", tracked[0].LotCode)
}
