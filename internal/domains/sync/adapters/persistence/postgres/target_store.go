package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.TargetStore = (*TargetStore)(nil)

// DefaultLockTimeout bounds how long a chunk waits for another writer's recent marking.
const DefaultLockTimeout = 5 * time.Second

// TargetStore persists synced records in one PostgreSQL table per entity.
type TargetStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
	ensured     sync.Map // domain.EntityType -> *entitySchema
}

// NewTargetStore wires a PostgreSQL-backed target store. Caller manages DB lifecycle.
func NewTargetStore(db *gorm.DB) *TargetStore {
	return &TargetStore{db: db, lockTimeout: DefaultLockTimeout}
}

// EnsureSchema creates or extends the entity table. It runs once per entity and process.
func (s *TargetStore) EnsureSchema(ctx context.Context, table *domain.MappingTable) error {
	_, err := s.schema(ctx, table)
	return err
}

func (s *TargetStore) schema(ctx context.Context, table *domain.MappingTable) (*entitySchema, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if cached, ok := s.ensured.Load(table.Entity); ok {
		return cached.(*entitySchema), nil
	}
	schema, err := newEntitySchema(table)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range schema.ddl(table.RecentMarker) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("%s: %w", schema.table, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.ensured.Store(table.Entity, schema)
	return schema, nil
}

// InsertChunk inserts the records in one transaction. Recent marking runs per
// record under a savepoint and a transaction-scoped advisory lock on the
// entity and natural key, so a failed marking rolls back only that step.
func (s *TargetStore) InsertChunk(ctx context.Context, table *domain.MappingTable, records []*domain.TargetRecord) ([]ports.Conflict, error) {
	schema, err := s.schema(ctx, table)
	if err != nil {
		return nil, err
	}
	var conflicts []ports.Conflict
	insert := schema.insertSQL()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflicts = conflicts[:0]
		if table.RecentMarker && s.lockTimeout > 0 {
			if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())).Error; err != nil {
				return err
			}
		}
		for i, rec := range records {
			if rec == nil {
				return errors.New("record is nil")
			}
			var id int64
			var createdAt, updatedAt time.Time
			if err := tx.Raw(insert, schema.insertArgs(rec)...).Row().Scan(&id, &createdAt, &updatedAt); err != nil {
				return fmt.Errorf("insert into %s: %w", schema.table, err)
			}
			rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.Recent = id, createdAt, updatedAt, false
			if !table.RecentMarker {
				continue
			}
			savepoint := fmt.Sprintf("recent_%d", i)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return err
			}
			if err := markRecent(tx, schema, rec); err != nil {
				if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
					return rbErr
				}
				conflicts = append(conflicts, ports.Conflict{Index: i, Err: &domain.WriteConflictError{
					Entity: table.Entity, NaturalKey: rec.NaturalKey, RecordID: rec.ID, Err: err,
				}})
				continue
			}
			rec.Recent = true
		}
		return nil
	})
	if err != nil {
		for _, rec := range records {
			if rec != nil {
				rec.ID, rec.Recent = 0, false
			}
		}
		return nil, err
	}
	return conflicts, nil
}

func markRecent(tx *gorm.DB, schema *entitySchema, rec *domain.TargetRecord) error {
	t := schema.quotedTable()
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", schema.table+"\x1f"+rec.NaturalKey).Error; err != nil {
		return err
	}
	if err := tx.Exec(fmt.Sprintf("UPDATE %s SET recent = FALSE, updated_at = NOW() WHERE natural_key = ? AND recent AND id <> ?", t),
		rec.NaturalKey, rec.ID).Error; err != nil {
		return err
	}
	return tx.Exec(fmt.Sprintf("UPDATE %s SET recent = TRUE, updated_at = NOW() WHERE id = ?", t), rec.ID).Error
}

// List returns records newest first.
func (s *TargetStore) List(ctx context.Context, table *domain.MappingTable, query ports.RecordQuery) ([]*domain.TargetRecord, error) {
	schema, err := s.schema(ctx, table)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if query.Snapshot != nil {
		where = append(where, "snapshot = ?")
		args = append(args, *query.Snapshot)
	}
	if query.Recent != nil {
		where = append(where, "recent = ?")
		args = append(args, *query.Recent)
	}
	if query.NaturalKey != "" {
		where = append(where, "natural_key = ?")
		args = append(args, query.NaturalKey)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", schema.selectList(), schema.quotedTable())
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id DESC"
	if query.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, query.Limit)
	}
	return s.query(ctx, table.Entity, schema, stmt, args...)
}

// FindByNaturalKey returns every record sharing key, oldest first.
func (s *TargetStore) FindByNaturalKey(ctx context.Context, table *domain.MappingTable, key string) ([]*domain.TargetRecord, error) {
	schema, err := s.schema(ctx, table)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE natural_key = ? ORDER BY id ASC", schema.selectList(), schema.quotedTable())
	return s.query(ctx, table.Entity, schema, stmt, key)
}

func (s *TargetStore) query(ctx context.Context, entity domain.EntityType, schema *entitySchema, stmt string, args ...any) ([]*domain.TargetRecord, error) {
	rows, err := s.db.WithContext(ctx).Raw(stmt, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TargetRecord
	for rows.Next() {
		rec := &domain.TargetRecord{Entity: entity, Fields: make(map[string]domain.Value, len(schema.fields))}
		dest := []any{&rec.ID, &rec.CycleID, &rec.Snapshot, &rec.Recent, &rec.NaturalKey, &rec.CreatedAt, &rec.UpdatedAt}
		scanners := make([]fieldScanner, len(schema.fields))
		for i, f := range schema.fields {
			scanners[i] = newFieldScanner(f.Type)
			dest = append(dest, scanners[i].dest())
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, f := range schema.fields {
			v, err := scanners[i].value()
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", schema.table, schema.columns[i], err)
			}
			rec.Fields[f.Name] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type fieldScanner struct {
	typ domain.FieldType
	str sql.NullString
	i64 sql.NullInt64
	b   sql.NullBool
}

func newFieldScanner(t domain.FieldType) fieldScanner { return fieldScanner{typ: t} }

func (f *fieldScanner) dest() any {
	switch f.typ {
	case domain.FieldInteger:
		return &f.i64
	case domain.FieldBoolean:
		return &f.b
	}
	return &f.str
}

func (f *fieldScanner) value() (domain.Value, error) {
	switch f.typ {
	case domain.FieldInteger:
		if !f.i64.Valid {
			return domain.NullValue(f.typ), nil
		}
		return domain.IntegerValue(f.i64.Int64), nil
	case domain.FieldBoolean:
		if !f.b.Valid {
			return domain.NullValue(f.typ), nil
		}
		return domain.BoolValue(f.b.Bool), nil
	}
	if !f.str.Valid {
		return domain.NullValue(f.typ), nil
	}
	switch f.typ {
	case domain.FieldDecimal:
		d, err := decimal.NewFromString(f.str.String)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.DecimalValue(d), nil
	case domain.FieldDate:
		t, err := time.Parse(domain.DefaultDateLayout, f.str.String)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.DateValue(t), nil
	}
	return domain.TextValue(f.str.String), nil
}

func (s *TargetStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres target store not configured")
	}
	return nil
}
