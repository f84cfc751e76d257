package syncserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	synchttpmapper "github.com/Apurer/mfgsync/internal/domains/sync/adapters/http/mapper"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	syncports "github.com/Apurer/mfgsync/internal/domains/sync/ports"
	apierrors "github.com/Apurer/mfgsync/internal/shared/errors"
)

// SyncAPI wires the trigger endpoints to the sync service and workflows.
type SyncAPI struct {
	service   syncports.Service
	workflows syncports.CycleOrchestrator
	now       func() time.Time
}

// NewSyncAPI creates a SyncAPI. Cycles go through workflows when set, otherwise
// straight to the service.
func NewSyncAPI(service syncports.Service, workflows syncports.CycleOrchestrator) SyncAPI {
	return SyncAPI{service: service, workflows: workflows, now: time.Now}
}

// Post /api/v1/sync/:entity
// Runs one sync cycle for the entity
func (api *SyncAPI) RunSync(c *gin.Context) {
	var payload synchttpmapper.RunSyncRequest
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		respondProblem(c, apierrors.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	entity := domain.EntityType(c.Param("entity"))
	result, err := api.runCycle(c.Request.Context(), entity, synchttpmapper.ToCycleParameters(payload))
	if err != nil {
		respondSyncError(c, err, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (api *SyncAPI) runCycle(ctx context.Context, entity domain.EntityType, params domain.CycleParameters) (*domain.SyncResult, error) {
	if api.workflows != nil {
		return api.workflows.RunCycle(ctx, entity, params)
	}
	return api.service.RunSync(ctx, entity, params)
}

// Post /api/v1/sync/scheduled/:schedule
// Runs every entity of a schedule; the optional `at` query (RFC 3339) sets the trigger time
func (api *SyncAPI) RunSchedule(c *gin.Context) {
	if api.workflows == nil {
		respondProblem(c, apierrors.ErrUnprocessable.WithDetail("scheduled runs are not configured"))
		return
	}
	at := api.now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondProblem(c, apierrors.ErrBadRequest.WithDetail("at must be an RFC 3339 timestamp"))
			return
		}
		at = parsed
	}
	report, err := api.workflows.RunSchedule(c.Request.Context(), domain.Schedule(c.Param("schedule")), at)
	if report == nil {
		respondSyncError(c, err, nil)
		return
	}
	// Per-entity failures are part of the report.
	c.JSON(http.StatusOK, report)
}
