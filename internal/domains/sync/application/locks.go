package application

import (
	"sync"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// entityLocks serializes cycles per entity within one process.
type entityLocks struct {
	mu      sync.Mutex
	running map[domain.EntityType]struct{}
}

func newEntityLocks() *entityLocks {
	return &entityLocks{running: make(map[domain.EntityType]struct{})}
}

// tryLock returns a release func, or false when a cycle for entity is running.
func (l *entityLocks) tryLock(entity domain.EntityType) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.running[entity]; busy {
		return nil, false
	}
	l.running[entity] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, entity)
			l.mu.Unlock()
		})
	}, true
}
