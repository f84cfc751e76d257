package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.Source = (*Source)(nil)

// LookupFunc answers a lookup query from static data.
type LookupFunc func(lookup domain.Lookup, args map[string]any) (any, bool)

// Source serves fixed rows per entity. Used in tests and when no upstream
// database is configured.
type Source struct {
	mu       sync.RWMutex
	rows     map[domain.EntityType][]domain.SourceRecord
	failures map[domain.EntityType]error
	lookup   LookupFunc
	calls    map[domain.EntityType][]domain.CycleParameters
}

func NewSource() *Source {
	return &Source{
		rows:     map[domain.EntityType][]domain.SourceRecord{},
		failures: map[domain.EntityType]error{},
		calls:    map[domain.EntityType][]domain.CycleParameters{},
	}
}

// SetRows replaces the rows returned for entity.
func (s *Source) SetRows(entity domain.EntityType, rows ...domain.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[entity] = rows
}

// FailWith makes every fetch of entity return err; nil clears it.
func (s *Source) FailWith(entity domain.EntityType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, entity)
		return
	}
	s.failures[entity] = err
}

// SetLookup installs the lookup answer function.
func (s *Source) SetLookup(fn LookupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup = fn
}

// Calls returns the parameters of every fetch of entity.
func (s *Source) Calls(entity domain.EntityType) []domain.CycleParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CycleParameters(nil), s.calls[entity]...)
}

func (s *Source) Fetch(ctx context.Context, table *domain.MappingTable, params domain.CycleParameters) ([]domain.SourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[table.Entity] = append(s.calls[table.Entity], params)
	if err := s.failures[table.Entity]; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table.Entity, err)
	}
	rows := s.rows[table.Entity]
	out := make([]domain.SourceRecord, len(rows))
	for i, r := range rows {
		values := make(map[string]any, len(r.Values))
		for k, v := range r.Values {
			values[k] = v
		}
		out[i] = domain.NewSourceRecord(append([]string(nil), r.Columns...), values)
	}
	return out, nil
}

func (s *Source) Lookup(_ context.Context, lookup domain.Lookup, args map[string]any) (any, bool, error) {
	s.mu.RLock()
	fn := s.lookup
	s.mu.RUnlock()
	if fn == nil {
		return nil, false, nil
	}
	v, ok := fn(lookup, args)
	return v, ok, nil
}
