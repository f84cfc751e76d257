// Package mapping loads and validates the declarative mapping tables that
// drive every sync cycle.
package mapping

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/transform"
)

//go:embed tables.yaml
var embeddedTables []byte

var (
	ErrDuplicateEntity = errors.New("duplicate entity")
	ErrNotFound        = errors.New("mapping table not found")
)

// Registry holds validated mapping tables keyed by entity.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	tables map[domain.EntityType]*domain.MappingTable
	order  []domain.EntityType
}

// New validates the tables and builds a registry. Any invalid table rejects
// the whole set so no cycle can start against a broken mapping.
func New(tables ...*domain.MappingTable) (*Registry, error) {
	r := &Registry{tables: make(map[domain.EntityType]*domain.MappingTable, len(tables))}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if err := transform.CheckDefaults(t); err != nil {
			return nil, err
		}
		if _, dup := r.tables[t.Entity]; dup {
			return nil, fmt.Errorf("%w %q", ErrDuplicateEntity, t.Entity)
		}
		r.tables[t.Entity] = t
		r.order = append(r.order, t.Entity)
	}
	return r, nil
}

// Load parses a YAML document of mapping tables.
func Load(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mapping tables: %w", err)
	}
	tables := make([]*domain.MappingTable, 0, len(doc.Entities))
	for _, d := range doc.Entities {
		tables = append(tables, d.toDomain())
	}
	return New(tables...)
}

// LoadFile reads mapping tables from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return Load(data)
}

// Default returns the registry built from the embedded tables.
func Default() (*Registry, error) {
	return Load(embeddedTables)
}

// Get returns the mapping table for entity.
func (r *Registry) Get(entity domain.EntityType) (*domain.MappingTable, error) {
	t, ok := r.tables[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, entity)
	}
	return t, nil
}

// Entities lists the registered entities in declaration order.
func (r *Registry) Entities() []domain.EntityType {
	out := make([]domain.EntityType, len(r.order))
	copy(out, r.order)
	return out
}

// Tables lists the registered tables sorted by entity.
func (r *Registry) Tables() []*domain.MappingTable {
	out := make([]*domain.MappingTable, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// BySchedule lists the entities that participate in schedule s, in declaration order.
func (r *Registry) BySchedule(s domain.Schedule) []domain.EntityType {
	var out []domain.EntityType
	for _, e := range r.order {
		if r.tables[e].HasSchedule(s) {
			out = append(out, e)
		}
	}
	return out
}
