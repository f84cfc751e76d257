package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/mapping"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
	"github.com/Apurer/mfgsync/internal/domains/sync/transform"
)

// DefaultSourceTimeout bounds a single source query.
const DefaultSourceTimeout = 2 * time.Minute

// Service orchestrates extract, transform and load cycles for the sync bounded context.
type Service struct {
	registry      *mapping.Registry
	source        ports.Source
	store         ports.TargetStore
	writer        *Writer
	engine        *transform.Engine
	cycles        ports.CycleLog
	notifier      ports.Notifier
	lots          ports.LotTracker
	locks         *entityLocks
	logger        *slog.Logger
	location      *time.Location
	sourceTimeout time.Duration
	now           func() time.Time
}

type Option func(*Service)

// WithCycleLog records every finished cycle.
func WithCycleLog(log ports.CycleLog) Option {
	return func(s *Service) { s.cycles = log }
}

// WithNotifier publishes every finished cycle.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLotTracker records active lots of tables with tracking after each snapshot cycle.
func WithLotTracker(t ports.LotTracker) Option {
	return func(s *Service) { s.lots = t }
}

// WithLogger sets the logger used for best-effort side effects (cycle log, notifications).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithLocation sets the zone in which the default cycle day is computed.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithChunkSize overrides the writer chunk size.
func WithChunkSize(n int) Option {
	return func(s *Service) { s.writer = NewWriter(s.store, n) }
}

// WithSourceTimeout bounds the source query of every cycle.
func WithSourceTimeout(d time.Duration) Option {
	return func(s *Service) { s.sourceTimeout = d }
}

// WithClock overrides time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the sync service with its dependencies.
func NewService(registry *mapping.Registry, source ports.Source, store ports.TargetStore, opts ...Option) *Service {
	s := &Service{
		registry:      registry,
		source:        source,
		store:         store,
		writer:        NewWriter(store, DefaultChunkSize),
		engine:        transform.New(),
		locks:         newEntityLocks(),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		location:      time.UTC,
		sourceTimeout: DefaultSourceTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Location returns the zone cycle days are computed in.
func (s *Service) Location() *time.Location { return s.location }

// RunSync executes one cycle for entity. Per-record failures are reported in the
// result; a source failure or a failed write chunk is returned as an error together
// with the (failed) result.
func (s *Service) RunSync(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error) {
	table, err := s.registry.Get(entity)
	if err != nil {
		return nil, mapError(err)
	}
	params = applyParamDefaults(table, params)
	params, err = params.Normalize(s.now(), s.location)
	if err != nil {
		return nil, mapError(err)
	}
	if table.AlwaysSnapshot {
		params.Snapshot = true
	}

	release, ok := s.locks.tryLock(entity)
	if !ok {
		return nil, ErrCycleInProgress
	}
	defer release()

	result := &domain.SyncResult{
		CycleID:   uuid.NewString(),
		Entity:    entity,
		Day:       params.Day,
		Snapshot:  params.Snapshot,
		Trigger:   params.Trigger,
		Schedule:  params.Schedule,
		StartedAt: s.now(),
	}
	written, err := s.run(ctx, table, params, result)
	if err != nil {
		result.Err = err.Error()
	} else if params.Snapshot {
		s.track(ctx, table, result, written)
	}
	result.FinishedAt = s.now()
	s.finish(ctx, result)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, table *domain.MappingTable, params domain.CycleParameters, result *domain.SyncResult) ([]*domain.TargetRecord, error) {
	records, err := s.fetch(ctx, table, params)
	if err != nil {
		return nil, err
	}
	result.Fetched = len(records)

	targets := make([]*domain.TargetRecord, 0, len(records))
	origins := make([]int, 0, len(records))
	for i, src := range records {
		rec, err := s.engine.Transform(table, src)
		if err != nil {
			result.Failures = append(result.Failures, domain.NewRecordFailure(i, src.Identity(table.IdentityColumns), err))
			continue
		}
		targets = append(targets, rec)
		origins = append(origins, i)
	}
	result.Failed = len(result.Failures)

	written, err := s.writer.WriteBatch(ctx, table, targets, params.Snapshot, result.CycleID)
	result.Written = written.Written
	for _, c := range written.Conflicts {
		origin := origins[c.Index]
		result.Conflicts = append(result.Conflicts, domain.NewRecordFailure(origin, records[origin].Identity(table.IdentityColumns), c.Err))
	}
	return targets, err
}

// track updates the lot markers of a finished snapshot cycle. Failures are
// logged; the next snapshot applies the full state again.
func (s *Service) track(ctx context.Context, table *domain.MappingTable, result *domain.SyncResult, written []*domain.TargetRecord) {
	if s.lots == nil || table.Tracking == nil {
		return
	}
	update := table.Tracking.Update(table.Entity, result.CycleID, s.now(), written)
	if update.Empty() {
		return
	}
	if err := s.lots.Apply(context.WithoutCancel(ctx), update); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "lot tracking update failed",
			slog.String("cycle.id", result.CycleID), slog.String("kind", update.Kind), slog.String("error", err.Error()))
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "lot tracking updated", slog.String("kind", update.Kind),
		slog.Int("active", len(update.Active)), slog.Int("released", len(update.Released)))
}

// fetch reads the source rows and resolves lookups. Any error here is fatal for
// the cycle and happens before the first write.
func (s *Service) fetch(ctx context.Context, table *domain.MappingTable, params domain.CycleParameters) ([]domain.SourceRecord, error) {
	if s.sourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sourceTimeout)
		defer cancel()
	}
	records, err := s.source.Fetch(ctx, table, params)
	if err != nil {
		return nil, sourceUnavailable(table.Entity, err)
	}
	for i := range records {
		for _, lookup := range table.Lookups {
			args := make(map[string]any, len(lookup.Args))
			for name, column := range lookup.Args {
				if column == domain.LookupDayArg {
					args[name] = params.Day
					continue
				}
				v, _ := records[i].Get(column)
				args[name] = v
			}
			value, found, err := s.source.Lookup(ctx, lookup, args)
			if err != nil {
				return nil, sourceUnavailable(table.Entity, err)
			}
			if found {
				records[i].Set(lookup.Column, value)
			}
		}
	}
	return records, nil
}

func (s *Service) finish(ctx context.Context, result *domain.SyncResult) {
	// Side effects must not be cancelled together with a timed-out request.
	ctx = context.WithoutCancel(ctx)
	if s.cycles != nil {
		if err := s.cycles.Append(ctx, domain.EntryFromResult(result)); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "cycle log append failed",
				slog.String("cycle.id", result.CycleID), slog.String("error", err.Error()))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, ports.EventFromResult(result)); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "cycle notification failed",
				slog.String("cycle.id", result.CycleID), slog.String("error", err.Error()))
		}
	}
}

// ListEntities returns every registered mapping table.
func (s *Service) ListEntities(ctx context.Context) ([]*domain.MappingTable, error) {
	return s.registry.Tables(), nil
}

// ListRecords reads synced records of entity.
func (s *Service) ListRecords(ctx context.Context, entity domain.EntityType, query ports.RecordQuery) ([]*domain.TargetRecord, error) {
	table, err := s.registry.Get(entity)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.store.EnsureSchema(ctx, table); err != nil {
		return nil, err
	}
	if query.NaturalKey != "" && query.Snapshot == nil && query.Recent == nil && query.Limit == 0 {
		return s.store.FindByNaturalKey(ctx, table, query.NaturalKey)
	}
	return s.store.List(ctx, table, query)
}

// ListCycles returns the latest cycle log entries for entity.
func (s *Service) ListCycles(ctx context.Context, entity domain.EntityType, limit int) ([]domain.CycleEntry, error) {
	if _, err := s.registry.Get(entity); err != nil {
		return nil, mapError(err)
	}
	if s.cycles == nil {
		return nil, nil
	}
	return s.cycles.List(ctx, entity, limit)
}

func applyParamDefaults(table *domain.MappingTable, params domain.CycleParameters) domain.CycleParameters {
	if params.Snapshot || len(table.ParamDefaults) == 0 {
		return params
	}
	fill := func(current *string, name string) {
		if strings.TrimSpace(*current) == "" {
			if v, ok := table.ParamDefaults[name]; ok {
				*current = v
			}
		}
	}
	fill(&params.Day, "day")
	fill(&params.From, "from")
	fill(&params.To, "to")
	return params
}

func sourceUnavailable(entity domain.EntityType, err error) error {
	var unavailable *domain.SourceUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	return &domain.SourceUnavailableError{Entity: entity, Err: err}
}

var _ ports.Service = (*Service)(nil)
