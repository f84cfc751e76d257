package ports

import (
	"context"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// RecordQuery filters target records on read. Nil pointers mean "any".
type RecordQuery struct {
	Snapshot   *bool
	Recent     *bool
	NaturalKey string
	Limit      int
}

// Conflict reports a record whose recent marker could not be applied.
// Index is the record's position within the chunk.
type Conflict struct {
	Index int
	Err   *domain.WriteConflictError
}

// TargetStore persists transformed records, one table per entity.
type TargetStore interface {
	EnsureSchema(ctx context.Context, table *domain.MappingTable) error
	// InsertChunk inserts every record or none. IDs and audit timestamps are
	// assigned on the records in place. For recent-marker tables the demotion
	// of prior holders happens inside the same unit, per natural key; a failed
	// marking step leaves the row inserted with Recent=false and is returned as a Conflict.
	InsertChunk(ctx context.Context, table *domain.MappingTable, records []*domain.TargetRecord) ([]Conflict, error)
	// List returns records newest first.
	List(ctx context.Context, table *domain.MappingTable, query RecordQuery) ([]*domain.TargetRecord, error)
	FindByNaturalKey(ctx context.Context, table *domain.MappingTable, key string) ([]*domain.TargetRecord, error)
}
