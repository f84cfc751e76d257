package ports

import (
	"context"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// Source reads legacy records from the ERP and MES databases (outbound/driven port).
type Source interface {
	// Fetch runs the table's query with the cycle parameters bound to :day, :from and :to.
	Fetch(ctx context.Context, table *domain.MappingTable, params domain.CycleParameters) ([]domain.SourceRecord, error)
	// Lookup runs a secondary single-value query. found is false when no row matched.
	Lookup(ctx context.Context, lookup domain.Lookup, args map[string]any) (value any, found bool, err error)
}
