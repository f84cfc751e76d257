package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	syncserver "github.com/Apurer/mfgsync/go"
	"github.com/Apurer/mfgsync/internal/app/bootstrap"
	"github.com/Apurer/mfgsync/internal/app/config"
	syncworkflows "github.com/Apurer/mfgsync/internal/domains/sync/adapters/workflows"
	syncports "github.com/Apurer/mfgsync/internal/domains/sync/ports"
	platformobservability "github.com/Apurer/mfgsync/internal/platform/observability"
	"github.com/Apurer/mfgsync/internal/platform/scheduler"
)

const serviceName = "mfgsync-api"

// Run boots the sync HTTP API with observability, stores, and workflows wired.
// It returns when ctx is cancelled or the server fails.
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

	var workflows syncports.CycleOrchestrator = syncworkflows.NewInlineCycleWorkflows(components.Service, components.Schedules)
	if temporalClient, err := bootstrap.DialTemporal(cfg, instruments, "temporal-client"); err != nil {
		logger.Warn("Temporal workflows unavailable, running cycles inline with the in-process scheduler", slog.String("error", err.Error()))
		cron, err := scheduler.New(components.Schedules, cfg.Schedules, cfg.Location, logger)
		if err != nil {
			return err
		}
		cron.Start()
		defer cron.Stop()
		logger.Info("in-process scheduler started", slog.Int("schedules", len(cron.Entries())), slog.String("zone", cfg.Location.String()))
	} else {
		defer temporalClient.Close()
		workflows = syncworkflows.NewTemporalCycleWorkflows(temporalClient)
		logger.Info("Temporal workflows enabled", slog.String("namespace", cfg.TemporalNamespace))
	}

	handlers := syncserver.ApiHandleFunctions{
		SyncAPI:   syncserver.NewSyncAPI(components.Service, workflows),
		EntityAPI: syncserver.NewEntityAPI(components.Service),
	}
	router := syncserver.NewRouter(handlers)
	router.Use(otelgin.Middleware(serviceName))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync API listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("sync API server exited", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down sync API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
