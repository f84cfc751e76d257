package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.TargetStore = (*Store)(nil)

// Store is an in-memory target store. One mutex covers every entity, so each
// chunk and its recent marking are atomic.
type Store struct {
	mu      sync.RWMutex
	records map[domain.EntityType][]*domain.TargetRecord
	nextID  int64
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{records: map[domain.EntityType][]*domain.TargetRecord{}, now: time.Now}
}

func (s *Store) EnsureSchema(_ context.Context, table *domain.MappingTable) error {
	if table == nil {
		return errors.New("mapping table is nil")
	}
	return nil
}

func (s *Store) InsertChunk(_ context.Context, table *domain.MappingTable, records []*domain.TargetRecord) ([]ports.Conflict, error) {
	for _, rec := range records {
		if rec == nil {
			return nil, errors.New("record is nil")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	existing := s.records[table.Entity]
	for _, rec := range records {
		s.nextID++
		rec.ID = s.nextID
		rec.CreatedAt = now
		rec.UpdatedAt = now
		rec.Recent = false
		if table.RecentMarker {
			for _, prior := range existing {
				if prior.Recent && prior.NaturalKey == rec.NaturalKey {
					prior.Recent = false
					prior.UpdatedAt = now
				}
			}
			rec.Recent = true
		}
		existing = append(existing, rec.Clone())
	}
	s.records[table.Entity] = existing
	return nil, nil
}

func (s *Store) List(_ context.Context, table *domain.MappingTable, query ports.RecordQuery) ([]*domain.TargetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.records[table.Entity]
	out := make([]*domain.TargetRecord, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		rec := stored[i]
		if query.Snapshot != nil && rec.Snapshot != *query.Snapshot {
			continue
		}
		if query.Recent != nil && rec.Recent != *query.Recent {
			continue
		}
		if query.NaturalKey != "" && rec.NaturalKey != query.NaturalKey {
			continue
		}
		out = append(out, rec.Clone())
		if query.Limit > 0 && len(out) == query.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) FindByNaturalKey(ctx context.Context, table *domain.MappingTable, key string) ([]*domain.TargetRecord, error) {
	records, err := s.List(ctx, table, ports.RecordQuery{NaturalKey: key})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
