package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.LotTracker = (*LotTracker)(nil)

type LotTracker struct {
	mu   sync.RWMutex
	lots map[string]map[string]domain.TrackedLot
}

func NewLotTracker() *LotTracker {
	return &LotTracker{lots: map[string]map[string]domain.TrackedLot{}}
}

// Apply keeps the first marking of a lot that stays active.
func (t *LotTracker) Apply(_ context.Context, update domain.LotUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	kind := t.lots[update.Kind]
	if kind == nil {
		kind = map[string]domain.TrackedLot{}
		t.lots[update.Kind] = kind
	}
	for _, code := range update.Active {
		if _, ok := kind[code]; ok {
			continue
		}
		kind[code] = domain.TrackedLot{Kind: update.Kind, LotCode: code, Entity: update.Entity, CycleID: update.CycleID, Since: update.At}
	}
	for _, code := range update.Released {
		delete(kind, code)
	}
	return nil
}

func (t *LotTracker) List(_ context.Context, kind string) ([]domain.TrackedLot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.TrackedLot, 0, len(t.lots[kind]))
	for _, lot := range t.lots[kind] {
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotCode < out[j].LotCode })
	return out, nil
}
