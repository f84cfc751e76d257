// Package bootstrap wires the sync bounded context from configuration. The API,
// the Temporal worker and the CLI share it so every process runs the same stack.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	workerlog "go.temporal.io/sdk/log"

	"github.com/Apurer/mfgsync/internal/app/config"
	syncmemory "github.com/Apurer/mfgsync/internal/domains/sync/adapters/memory"
	syncmqtt "github.com/Apurer/mfgsync/internal/domains/sync/adapters/notify/mqtt"
	syncobs "github.com/Apurer/mfgsync/internal/domains/sync/adapters/observability"
	syncpostgres "github.com/Apurer/mfgsync/internal/domains/sync/adapters/persistence/postgres"
	syncsource "github.com/Apurer/mfgsync/internal/domains/sync/adapters/source"
	syncapp "github.com/Apurer/mfgsync/internal/domains/sync/application"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/mapping"
	syncports "github.com/Apurer/mfgsync/internal/domains/sync/ports"
	"github.com/Apurer/mfgsync/internal/platform/migrations"
	platformobservability "github.com/Apurer/mfgsync/internal/platform/observability"
	platformpostgres "github.com/Apurer/mfgsync/internal/platform/postgres"
	"github.com/Apurer/mfgsync/internal/platform/sourcedb"
)

// Components are the wired sync use cases.
type Components struct {
	Registry  *mapping.Registry
	Service   syncports.Service
	Schedules syncports.ScheduleRunner
	Calendar  syncports.Calendar
}

type stores struct {
	target   syncports.TargetStore
	cycles   syncports.CycleLog
	calendar syncports.Calendar
	lots     syncports.LotTracker
}

// Build connects the configured databases and the notifier and returns the
// decorated service and scheduler plus a cleanup that releases every connection.
// Unreachable targets fall back to in-memory adapters; an invalid mapping file
// or a failed migration is an error.
func Build(ctx context.Context, cfg config.Config, instruments *platformobservability.Instruments) (*Components, func(), error) {
	logger := effectiveLogger(instruments)
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	registry, err := loadRegistry(cfg.MappingFile)
	if err != nil {
		return nil, cleanup, err
	}
	logger.Info("mapping tables loaded", slog.Int("entities", len(registry.Entities())), slog.String("file", cfg.MappingFile))

	source, closeSources := buildSource(ctx, cfg, logger)
	cleanups = append(cleanups, closeSources)

	st, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	cleanups = append(cleanups, closeStores)

	notifier, closeNotifier := buildNotifier(cfg.MQTT, logger)
	cleanups = append(cleanups, closeNotifier)

	core := syncapp.NewService(registry, source, st.target,
		syncapp.WithCycleLog(st.cycles),
		syncapp.WithNotifier(notifier),
		syncapp.WithLotTracker(st.lots),
		syncapp.WithLogger(logger),
		syncapp.WithLocation(cfg.Location),
		syncapp.WithChunkSize(cfg.ChunkSize),
		syncapp.WithSourceTimeout(cfg.SourceQueryTimeout),
	)
	service := syncobs.New(core,
		syncobs.WithLogger(logger),
		syncobs.WithTracer(instruments.Tracer("internal.sync.application")),
		syncobs.WithMeter(instruments.Meter("internal.sync.application")),
	)
	scheduler := syncapp.NewScheduler(registry, service,
		syncapp.WithSchedulerLogger(logger),
		syncapp.WithHolidayCalendar(st.calendar, cfg.SkipHolidays),
		syncapp.WithScheduleCycleLog(st.cycles),
		syncapp.WithScheduleLocation(cfg.Location),
	)
	schedules := syncobs.NewSchedules(scheduler, logger, instruments.Tracer("internal.sync.scheduler"))

	return &Components{
		Registry:  registry,
		Service:   service,
		Schedules: schedules,
		Calendar:  st.calendar,
	}, cleanup, nil
}

func loadRegistry(path string) (*mapping.Registry, error) {
	if path == "" {
		return mapping.Default()
	}
	registry, err := mapping.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load mapping file %s: %w", path, err)
	}
	return registry, nil
}

// buildSource opens every configured legacy database. Without any DSN the
// process runs against an empty in-memory source, which suits local API work.
func buildSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (syncports.Source, func()) {
	dbs := map[domain.SourceDatabase]*sqlx.DB{}
	for _, name := range []domain.SourceDatabase{domain.SourceERP, domain.SourceMES} {
		src := cfg.Sources[name]
		if !src.Configured() {
			continue
		}
		db, err := sourcedb.Connect(ctx, src.Driver, src.DSN, cfg.SourceMaxOpenConns)
		if err != nil {
			// Cycles of this database report the source as unavailable until restart.
			logger.Warn("failed to connect to source database", slog.String("database", string(name)), slog.String("error", err.Error()))
			continue
		}
		logger.Info("source database connected", slog.String("database", string(name)), slog.String("driver", src.Driver))
		dbs[name] = db
	}
	if len(dbs) == 0 && !cfg.Sources[domain.SourceERP].Configured() && !cfg.Sources[domain.SourceMES].Configured() {
		logger.Warn("ERP_DSN and MES_DSN not set, using an empty in-memory source")
		return syncmemory.NewSource(), func() {}
	}
	closeAll := func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	}
	return syncsource.New(dbs, syncsource.WithCharset(cfg.SourceCharset)), closeAll
}

func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, func(), error) {
	db, cleanup := platformpostgres.ConnectOrFallback(ctx, cfg.PostgresDSN, platformpostgres.Pool{MaxOpen: cfg.PostgresMaxOpenConns, MaxLifetime: 30 * time.Minute}, logger)
	if db == nil {
		return stores{
			target:   syncmemory.NewStore(),
			cycles:   syncmemory.NewCycleLog(),
			calendar: syncmemory.NewCalendar(),
			lots:     syncmemory.NewLotTracker(),
		}, cleanup, nil
	}
	if err := migrations.Run(db); err != nil {
		cleanup()
		return stores{}, func() {}, fmt.Errorf("migrate sync schema: %w", err)
	}
	logger.Info("sync stores configured with postgres")
	return stores{
		target:   syncpostgres.NewTargetStore(db),
		cycles:   syncpostgres.NewCycleLog(db),
		calendar: syncpostgres.NewCalendar(db),
		lots:     syncpostgres.NewLotTracker(db),
	}, cleanup, nil
}

func buildNotifier(cfg config.MQTT, logger *slog.Logger) (syncports.Notifier, func()) {
	if cfg.BrokerURL == "" {
		return syncmqtt.Noop{}, func() {}
	}
	opts := []syncmqtt.Option{syncmqtt.WithLogger(logger)}
	if cfg.FailuresOnly {
		opts = append(opts, syncmqtt.WithFailuresOnly())
	}
	publisher, err := syncmqtt.Connect(syncmqtt.Config{
		BrokerURL:   cfg.BrokerURL,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
	}, opts...)
	if err != nil {
		logger.Warn("mqtt notifier unavailable, cycle events are not published", slog.String("error", err.Error()))
		return syncmqtt.Noop{}, func() {}
	}
	return publisher, publisher.Close
}

// DialTemporal connects a Temporal client with tracing and structured logging.
func DialTemporal(cfg config.Config, instruments *platformobservability.Instruments, tracerName string) (client.Client, error) {
	if cfg.TemporalDisabled {
		return nil, errors.New("temporal disabled via TEMPORAL_DISABLED env")
	}
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{
		Tracer: instruments.Tracer(tracerName),
	})
	if err != nil {
		return nil, err
	}
	options := client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    workerlog.NewStructuredLogger(effectiveLogger(instruments)),
	}
	options.Interceptors = append(options.Interceptors, tracingInterceptor)
	return client.Dial(options)
}

func effectiveLogger(instruments *platformobservability.Instruments) *slog.Logger {
	if instruments != nil && instruments.Logger != nil {
		return instruments.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
