package syncserver

import (
	"errors"

	"github.com/gin-gonic/gin"

	syncapp "github.com/Apurer/mfgsync/internal/domains/sync/application"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	apierrors "github.com/Apurer/mfgsync/internal/shared/errors"
)

// respondProblem maps a ProblemDetail through the shared responder.
func respondProblem(c *gin.Context, problem apierrors.ProblemDetail) {
	apierrors.Respond(c, problem)
}

var syncResponder = apierrors.NewChainedResponder("", mapSyncError)

func mapSyncError(err error) (apierrors.ProblemDetail, bool) {
	var unavailable *domain.SourceUnavailableError
	switch {
	case errors.Is(err, syncapp.ErrUnknownEntity):
		return apierrors.ErrNotFound.WithDetail(err.Error()), true
	case errors.Is(err, syncapp.ErrInvalidParameters):
		return apierrors.ErrValidation.WithDetail(err.Error()), true
	case errors.Is(err, syncapp.ErrCycleInProgress):
		return apierrors.ErrConflict.WithDetail(err.Error()), true
	case errors.As(err, &unavailable):
		return apierrors.ErrUnavailable.WithDetail(err.Error()).WithExtension("entity", string(unavailable.Entity)), true
	}
	return apierrors.ProblemDetail{}, false
}

// respondSyncError answers with the problem for err. A cycle that ran and then
// failed carries its id so operators can find it in the cycle log.
func respondSyncError(c *gin.Context, err error, result *domain.SyncResult) {
	if err == nil {
		return
	}
	if problem, ok := mapSyncError(err); ok && result != nil && result.CycleID != "" {
		respondProblem(c, problem.WithExtension("cycleId", result.CycleID))
		return
	}
	syncResponder.RespondError(c, err)
}
