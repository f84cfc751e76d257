package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.Calendar = (*Calendar)(nil)

type Calendar struct {
	mu   sync.RWMutex
	days map[string]domain.Holiday
}

func NewCalendar() *Calendar {
	return &Calendar{days: map[string]domain.Holiday{}}
}

func (c *Calendar) IsHoliday(_ context.Context, day string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.days[day]
	return ok, nil
}

func (c *Calendar) AddHolidays(_ context.Context, holidays []domain.Holiday) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, h := range holidays {
		if _, ok := c.days[h.Day]; ok {
			continue
		}
		c.days[h.Day] = h
		added++
	}
	return added, nil
}

func (c *Calendar) List(_ context.Context, from, to string) ([]domain.Holiday, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Holiday
	for day, h := range c.days {
		if (from == "" || day >= from) && (to == "" || day <= to) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}
