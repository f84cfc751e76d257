package syncserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	synchttpmapper "github.com/Apurer/mfgsync/internal/domains/sync/adapters/http/mapper"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	syncports "github.com/Apurer/mfgsync/internal/domains/sync/ports"
	apierrors "github.com/Apurer/mfgsync/internal/shared/errors"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 5000
	defaultCycleLimit  = 20
)

// EntityAPI serves the read surface over mapping tables, synced records and the cycle log.
type EntityAPI struct {
	service syncports.Service
}

func NewEntityAPI(service syncports.Service) EntityAPI {
	return EntityAPI{service: service}
}

// Get /api/v1/entities
// Lists the synchronized entity types and their fields
func (api *EntityAPI) ListEntities(c *gin.Context) {
	tables, err := api.service.ListEntities(c.Request.Context())
	if err != nil {
		respondSyncError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, synchttpmapper.FromMappingTables(tables))
}

// Get /api/v1/entities/:entity/records
// Lists synced records, newest first; filters snapshot, recent, key and limit
func (api *EntityAPI) ListRecords(c *gin.Context) {
	query := syncports.RecordQuery{NaturalKey: c.Query("key")}
	var ok bool
	if query.Snapshot, ok = parseBoolQuery(c, "snapshot"); !ok {
		return
	}
	if query.Recent, ok = parseBoolQuery(c, "recent"); !ok {
		return
	}
	if query.Limit, ok = parseLimit(c, defaultRecordLimit, maxRecordLimit); !ok {
		return
	}
	if query.NaturalKey != "" && c.Query("limit") == "" {
		query.Limit = 0
	}
	records, err := api.service.ListRecords(c.Request.Context(), domain.EntityType(c.Param("entity")), query)
	if err != nil {
		respondSyncError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, synchttpmapper.FromTargetRecords(records))
}

// Get /api/v1/entities/:entity/cycles
// Lists the latest cycles of the entity
func (api *EntityAPI) ListCycles(c *gin.Context) {
	limit, ok := parseLimit(c, defaultCycleLimit, maxRecordLimit)
	if !ok {
		return
	}
	entries, err := api.service.ListCycles(c.Request.Context(), domain.EntityType(c.Param("entity")), limit)
	if err != nil {
		respondSyncError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, synchttpmapper.FromCycleEntries(entries))
}

func parseBoolQuery(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		respondProblem(c, apierrors.NewValidationProblem(map[string]string{name: "must be true or false"}))
		return nil, false
	}
	return &v, true
}

func parseLimit(c *gin.Context, fallback, max int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		respondProblem(c, apierrors.NewValidationProblem(map[string]string{"limit": "must be between 1 and " + strconv.Itoa(max)}))
		return 0, false
	}
	return n, true
}
