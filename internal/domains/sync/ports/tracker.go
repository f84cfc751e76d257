package ports

import (
	"context"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// LotTracker keeps the lots that the latest snapshot cycles saw as active.
type LotTracker interface {
	// Apply marks update.Active and clears update.Released, within update.Kind.
	Apply(ctx context.Context, update domain.LotUpdate) error
	// List returns the marked lots of kind ordered by lot code.
	List(ctx context.Context, kind string) ([]domain.TrackedLot, error)
}
