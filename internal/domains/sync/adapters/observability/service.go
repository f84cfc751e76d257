package observability

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

const tracerName = "github.com/Apurer/mfgsync/internal/domains/sync/adapters/observability/service"

// Service decorates the sync service with tracing, logging, and metrics.
type Service struct {
	inner   ports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wraps the core sync service.
func New(inner ports.Service, opts ...Option) ports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return s
}

func (s *Service) RunSync(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "SyncService.RunSync",
		trace.WithAttributes(
			attribute.String("sync.entity", string(entity)),
			attribute.Bool("sync.snapshot", params.Snapshot),
			attribute.String("sync.trigger", string(params.Trigger)),
		))
	defer span.End()

	s.logInfo(ctx, "starting sync cycle", slog.String("entity", string(entity)), slog.String("day", params.Day),
		slog.Bool("snapshot", params.Snapshot))
	result, err := s.inner.RunSync(ctx, entity, params)
	if result != nil {
		span.SetAttributes(
			attribute.String("sync.cycle_id", result.CycleID),
			attribute.Int("sync.fetched", result.Fetched),
			attribute.Int("sync.written", result.Written),
			attribute.Int("sync.failed", result.Failed),
		)
		s.metrics.record(ctx, result)
	}
	if err != nil {
		return result, s.handleError(ctx, span, err, "sync cycle failed", slog.String("entity", string(entity)))
	}
	s.logInfo(ctx, "sync cycle finished",
		slog.String("entity", string(entity)),
		slog.String("cycle.id", result.CycleID),
		slog.String("status", string(result.Status())),
		slog.Int("fetched", result.Fetched),
		slog.Int("written", result.Written),
		slog.Int("failed", result.Failed),
		slog.Int("conflicts", len(result.Conflicts)),
		slog.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	for _, f := range result.Failures {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "record rejected",
			slog.String("entity", string(entity)),
			slog.Int("index", f.Index),
			slog.String("identity", f.Identity),
			slog.String("kind", string(f.Kind)),
			slog.String("column", f.Column))
	}
	return result, nil
}

func (s *Service) ListEntities(ctx context.Context) ([]*domain.MappingTable, error) {
	ctx, span := s.tracer.Start(ctx, "SyncService.ListEntities")
	defer span.End()

	tables, err := s.inner.ListEntities(ctx)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list entities")
	}
	span.SetAttributes(attribute.Int("sync.entities", len(tables)))
	return tables, nil
}

func (s *Service) ListRecords(ctx context.Context, entity domain.EntityType, query ports.RecordQuery) ([]*domain.TargetRecord, error) {
	ctx, span := s.tracer.Start(ctx, "SyncService.ListRecords", trace.WithAttributes(attribute.String("sync.entity", string(entity))))
	defer span.End()

	records, err := s.inner.ListRecords(ctx, entity, query)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list records", slog.String("entity", string(entity)))
	}
	span.SetAttributes(attribute.Int("sync.records", len(records)))
	return records, nil
}

func (s *Service) ListCycles(ctx context.Context, entity domain.EntityType, limit int) ([]domain.CycleEntry, error) {
	ctx, span := s.tracer.Start(ctx, "SyncService.ListCycles", trace.WithAttributes(attribute.String("sync.entity", string(entity))))
	defer span.End()

	entries, err := s.inner.ListCycles(ctx, entity, limit)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list cycles", slog.String("entity", string(entity)))
	}
	return entries, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.logError(ctx, msg, err, attrs...)
	return err
}

type serviceMetrics struct {
	recordsWritten  metric.Int64Counter
	recordsFailed   metric.Int64Counter
	cyclesFailed    metric.Int64Counter
	recentConflicts metric.Int64Counter
	cycleDuration   metric.Float64Histogram
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	recordsWritten, _ := m.Int64Counter("sync.records_written", metric.WithDescription("Number of target records written"))
	recordsFailed, _ := m.Int64Counter("sync.records_failed", metric.WithDescription("Number of source records rejected by the transform"))
	cyclesFailed, _ := m.Int64Counter("sync.cycles_failed", metric.WithDescription("Number of sync cycles that failed"))
	recentConflicts, _ := m.Int64Counter("sync.recent_conflicts", metric.WithDescription("Number of recent marker updates that could not be applied"))
	cycleDuration, _ := m.Float64Histogram("sync.cycle_duration", metric.WithDescription("Duration of sync cycles"), metric.WithUnit("s"))
	return serviceMetrics{
		recordsWritten:  recordsWritten,
		recordsFailed:   recordsFailed,
		cyclesFailed:    cyclesFailed,
		recentConflicts: recentConflicts,
		cycleDuration:   cycleDuration,
	}
}

func (m serviceMetrics) record(ctx context.Context, r *domain.SyncResult) {
	attrs := metric.WithAttributes(attribute.String("sync.entity", string(r.Entity)), attribute.Bool("sync.snapshot", r.Snapshot))
	if m.recordsWritten != nil && r.Written > 0 {
		m.recordsWritten.Add(ctx, int64(r.Written), attrs)
	}
	if m.recordsFailed != nil && r.Failed > 0 {
		m.recordsFailed.Add(ctx, int64(r.Failed), attrs)
	}
	if m.recentConflicts != nil && len(r.Conflicts) > 0 {
		m.recentConflicts.Add(ctx, int64(len(r.Conflicts)), attrs)
	}
	if m.cyclesFailed != nil && r.Status() == domain.StatusFailed {
		m.cyclesFailed.Add(ctx, 1, attrs)
	}
	if m.cycleDuration != nil && !r.FinishedAt.IsZero() {
		m.cycleDuration.Record(ctx, r.FinishedAt.Sub(r.StartedAt).Seconds(), attrs)
	}
}

var _ ports.Service = (*Service)(nil)
