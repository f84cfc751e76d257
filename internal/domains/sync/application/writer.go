package application

import (
	"context"
	"fmt"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

// DefaultChunkSize bounds how many records share one store transaction.
const DefaultChunkSize = 500

// WriteResult summarizes a batch write. Conflict indexes refer to the batch, not the chunk.
type WriteResult struct {
	Written   int
	Conflicts []ports.Conflict
}

// Writer stamps batches and hands them to the target store chunk by chunk.
type Writer struct {
	store     ports.TargetStore
	chunkSize int
}

// NewWriter wires the target store; chunkSize <= 0 selects DefaultChunkSize.
func NewWriter(store ports.TargetStore, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{store: store, chunkSize: chunkSize}
}

// WriteBatch stamps every record with the batch's snapshot flag and cycle id, then
// inserts them in chunks. Each chunk is all-or-nothing; the first failing chunk
// stops the batch and the records of earlier chunks stay committed.
func (w *Writer) WriteBatch(ctx context.Context, table *domain.MappingTable, records []*domain.TargetRecord, snapshot bool, cycleID string) (WriteResult, error) {
	var result WriteResult
	if len(records) == 0 {
		return result, nil
	}
	if err := w.store.EnsureSchema(ctx, table); err != nil {
		return result, fmt.Errorf("ensure schema for %s: %w", table.Entity, err)
	}
	for _, rec := range records {
		rec.Entity = table.Entity
		rec.Snapshot = snapshot
		rec.CycleID = cycleID
		rec.Recent = false
		rec.NaturalKey = domain.ComposeNaturalKey(rec.Fields, table.NaturalKey)
	}
	for start := 0; start < len(records); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(records) {
			end = len(records)
		}
		conflicts, err := w.store.InsertChunk(ctx, table, records[start:end])
		if err != nil {
			return result, fmt.Errorf("write chunk %d-%d of %s: %w", start, end, table.Entity, err)
		}
		result.Written += end - start
		for _, c := range conflicts {
			c.Index += start
			result.Conflicts = append(result.Conflicts, c)
		}
	}
	return result, nil
}
