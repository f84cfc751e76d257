package postgres

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/lib/pq"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// Metadata columns present on every entity table.
const (
	colID         = "id"
	colCycleID    = "cycle_id"
	colSnapshot   = "snapshot"
	colRecent     = "recent"
	colNaturalKey = "natural_key"
	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"
)

var reservedColumns = map[string]struct{}{
	colID: {}, colCycleID: {}, colSnapshot: {}, colRecent: {}, colNaturalKey: {}, colCreatedAt: {}, colUpdatedAt: {},
}

// entitySchema is the relational shape derived from a mapping table.
type entitySchema struct {
	table   string
	fields  []domain.FieldDescriptor
	columns []string
}

func tableName(entity domain.EntityType) string {
	return "sync_" + string(entity)
}

func newEntitySchema(table *domain.MappingTable) (*entitySchema, error) {
	s := &entitySchema{table: tableName(table.Entity)}
	seen := map[string]string{}
	for _, f := range table.Fields() {
		col := columnName(f.Name)
		if _, reserved := reservedColumns[col]; reserved {
			return nil, fmt.Errorf("entity %s: field %q maps to reserved column %q", table.Entity, f.Name, col)
		}
		if other, dup := seen[col]; dup {
			return nil, fmt.Errorf("entity %s: fields %q and %q both map to column %q", table.Entity, other, f.Name, col)
		}
		seen[col] = f.Name
		s.fields = append(s.fields, f)
		s.columns = append(s.columns, col)
	}
	return s, nil
}

// columnName converts a camelCase field name to snake_case.
func columnName(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sqlType(t domain.FieldType) string {
	switch t {
	case domain.FieldDecimal:
		return "NUMERIC"
	case domain.FieldInteger:
		return "BIGINT"
	case domain.FieldBoolean:
		return "BOOLEAN"
	case domain.FieldDate:
		return "DATE"
	}
	return "TEXT"
}

func (s *entitySchema) quotedTable() string { return pq.QuoteIdentifier(s.table) }

func (s *entitySchema) index(suffix string) string { return pq.QuoteIdentifier(s.table + "_" + suffix) }

// ddl returns the idempotent statements that create or extend the entity table.
func (s *entitySchema) ddl(recentMarker bool) []string {
	t := s.quotedTable()
	stmts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	cycle_id UUID NOT NULL,
	snapshot BOOLEAN NOT NULL DEFAULT FALSE,
	recent BOOLEAN NOT NULL DEFAULT FALSE,
	natural_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, t)}
	for i, f := range s.fields {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			t, pq.QuoteIdentifier(s.columns[i]), sqlType(f.Type)))
	}
	stmts = append(stmts,
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (created_at)", s.index("ck"), t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (cycle_id)", s.index("cy"), t),
	)
	if recentMarker {
		stmts = append(stmts,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (natural_key)", s.index("nk"), t),
			fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (natural_key) WHERE recent", s.index("rk"), t),
		)
	}
	return stmts
}

func (s *entitySchema) insertSQL() string {
	cols := []string{colCycleID, colSnapshot, colRecent, colNaturalKey}
	for _, c := range s.columns {
		cols = append(cols, pq.QuoteIdentifier(c))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id, created_at, updated_at",
		s.quotedTable(), strings.Join(cols, ", "), marks)
}

func (s *entitySchema) insertArgs(rec *domain.TargetRecord) []any {
	args := []any{rec.CycleID, rec.Snapshot, false, rec.NaturalKey}
	for _, f := range s.fields {
		args = append(args, rec.Fields[f.Name].Any())
	}
	return args
}

// selectList reads decimal and date columns as text so they parse without driver-specific types.
func (s *entitySchema) selectList() string {
	cols := []string{colID, colCycleID + "::text", colSnapshot, colRecent, colNaturalKey, colCreatedAt, colUpdatedAt}
	for i, f := range s.fields {
		col := pq.QuoteIdentifier(s.columns[i])
		switch f.Type {
		case domain.FieldDecimal, domain.FieldDate:
			col += "::text"
		}
		cols = append(cols, col)
	}
	return strings.Join(cols, ", ")
}
