// Package source reads legacy ERP/MES rows through sqlx.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

var _ ports.Source = (*Source)(nil)

// ErrNoConnection is returned when a table names a database that was not configured.
var ErrNoConnection = errors.New("no connection configured for source database")

// Source runs mapping-table queries against the configured databases.
type Source struct {
	dbs     map[domain.SourceDatabase]*sqlx.DB
	charset encoding.Encoding
}

type Option func(*Source)

// WithCharset decodes byte columns from the given legacy charset
// ("euc-kr"/"cp949"). Empty or "utf-8" keeps bytes as UTF-8.
func WithCharset(name string) Option {
	return func(s *Source) {
		s.charset = lookupCharset(name)
	}
}

// New wires the database handles keyed by source database.
func New(dbs map[domain.SourceDatabase]*sqlx.DB, opts ...Option) *Source {
	s := &Source{dbs: dbs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// KnownCharset reports whether name is accepted by WithCharset.
func KnownCharset(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "euc-kr", "euckr", "cp949":
		return true
	}
	return false
}

func lookupCharset(name string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "euc-kr", "euckr", "cp949":
		return korean.EUCKR
	}
	return nil
}

// Fetch binds :day, :from and :to (formatted with the table's parameter layout)
// and scans every row into a SourceRecord.
func (s *Source) Fetch(ctx context.Context, table *domain.MappingTable, params domain.CycleParameters) ([]domain.SourceRecord, error) {
	db, err := s.db(table.Database)
	if err != nil {
		return nil, err
	}
	args, err := cycleArgs(table.EffectiveParamLayout(), params)
	if err != nil {
		return nil, err
	}
	query, bound, err := bind(db, table.Query, args)
	if err != nil {
		return nil, fmt.Errorf("bind %s query: %w", table.Entity, err)
	}
	rows, err := db.QueryxContext(ctx, query, bound...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table.Entity, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read %s columns: %w", table.Entity, err)
	}
	var records []domain.SourceRecord
	for rows.Next() {
		values := make(map[string]any, len(columns))
		if err := rows.MapScan(values); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table.Entity, err)
		}
		for k, v := range values {
			if values[k], err = s.decode(v); err != nil {
				return nil, fmt.Errorf("decode %s column %q: %w", table.Entity, k, err)
			}
		}
		records = append(records, domain.NewSourceRecord(append([]string(nil), columns...), values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table.Entity, err)
	}
	return records, nil
}

// Lookup returns the first column of the first row of the lookup query.
func (s *Source) Lookup(ctx context.Context, lookup domain.Lookup, args map[string]any) (any, bool, error) {
	db, err := s.db(lookup.Database)
	if err != nil {
		return nil, false, err
	}
	query, bound, err := bind(db, lookup.Query, args)
	if err != nil {
		return nil, false, fmt.Errorf("bind lookup %s: %w", lookup.Name, err)
	}
	var value any
	if err := db.QueryRowxContext(ctx, query, bound...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup %s: %w", lookup.Name, err)
	}
	decoded, err := s.decode(value)
	if err != nil {
		return nil, false, fmt.Errorf("decode lookup %s: %w", lookup.Name, err)
	}
	return decoded, true, nil
}

func (s *Source) db(name domain.SourceDatabase) (*sqlx.DB, error) {
	db, ok := s.dbs[name]
	if !ok || db == nil {
		return nil, fmt.Errorf("%w %q", ErrNoConnection, name)
	}
	return db, nil
}

func (s *Source) decode(v any) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}
	if s.charset == nil {
		return string(b), nil
	}
	out, _, err := transform.Bytes(s.charset.NewDecoder(), b)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func bind(db *sqlx.DB, query string, args map[string]any) (string, []any, error) {
	if !strings.Contains(query, ":") {
		return query, nil, nil
	}
	named, bound, err := sqlx.Named(query, args)
	if err != nil {
		return "", nil, err
	}
	return db.Rebind(named), bound, nil
}

func cycleArgs(layout string, params domain.CycleParameters) (map[string]any, error) {
	args := make(map[string]any, 3)
	for name, value := range map[string]string{"day": params.Day, "from": params.From, "to": params.To} {
		if value == "" {
			args[name] = ""
			continue
		}
		t, err := time.Parse(domain.DefaultDateLayout, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", domain.ErrInvalidCycleParameters, name, value)
		}
		args[name] = t.Format(layout)
	}
	return args, nil
}
