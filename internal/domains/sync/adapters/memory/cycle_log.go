package memory

import (
	"context"
	"sync"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.CycleLog = (*CycleLog)(nil)

type CycleLog struct {
	mu      sync.RWMutex
	entries []domain.CycleEntry
}

func NewCycleLog() *CycleLog {
	return &CycleLog{}
}

func (l *CycleLog) Append(_ context.Context, entry domain.CycleEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *CycleLog) List(_ context.Context, entity domain.EntityType, limit int) ([]domain.CycleEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.CycleEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Entity != entity {
			continue
		}
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *CycleLog) LastSuccessful(_ context.Context, entity domain.EntityType, snapshot bool) (*domain.CycleEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Entity != entity || e.Snapshot != snapshot {
			continue
		}
		if e.Status == domain.StatusSucceeded || e.Status == domain.StatusPartial {
			return &e, nil
		}
	}
	return nil, nil
}
