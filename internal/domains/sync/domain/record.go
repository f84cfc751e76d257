package domain

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceRecord is one row read from the legacy database: ordered column names
// and their raw driver values.
type SourceRecord struct {
	Columns []string
	Values  map[string]any
}

// NewSourceRecord builds a record from column/value pairs keeping column order.
func NewSourceRecord(columns []string, values map[string]any) SourceRecord {
	if values == nil {
		values = map[string]any{}
	}
	return SourceRecord{Columns: columns, Values: values}
}

// Get returns the raw value of a column and whether the column was present.
// Column names are matched exactly first, then case-insensitively, since
// stored procedures do not guarantee the casing of their result columns. The
// case-insensitive match takes the first column in result order.
func (r SourceRecord) Get(column string) (any, bool) {
	if v, ok := r.Values[column]; ok {
		return v, true
	}
	for _, name := range r.Columns {
		if v, ok := r.Values[name]; ok && strings.EqualFold(name, column) {
			return v, true
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.Values)) {
		if strings.EqualFold(name, column) {
			return r.Values[name], true
		}
	}
	return nil, false
}

// Set adds or replaces a column value.
func (r *SourceRecord) Set(column string, value any) {
	if r.Values == nil {
		r.Values = map[string]any{}
	}
	if _, exists := r.Values[column]; !exists {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = value
}

// Identity renders the values of the given columns for failure reports.
func (r SourceRecord) Identity(columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		v, ok := r.Get(col)
		if !ok || v == nil {
			parts = append(parts, col+"=")
			continue
		}
		parts = append(parts, col+"="+RawString(v))
	}
	return strings.Join(parts, ",")
}

// RawString formats a raw driver value for messages.
func RawString(v any) string {
	switch val := v.(type) {
	case nil:
		return "<null>"
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}

// Value is one typed field value of a target record.
type Value struct {
	Type    FieldType
	Null    bool
	Text    string
	Decimal decimal.Decimal
	Int     int64
	Bool    bool
	Date    time.Time
}

// NullValue returns an explicit NULL of the given type.
func NullValue(t FieldType) Value { return Value{Type: t, Null: true} }

// TextValue, DecimalValue, IntegerValue, BoolValue and DateValue build non-null values.
func TextValue(s string) Value             { return Value{Type: FieldText, Text: s} }
func DecimalValue(d decimal.Decimal) Value { return Value{Type: FieldDecimal, Decimal: d} }
func IntegerValue(i int64) Value           { return Value{Type: FieldInteger, Int: i} }
func BoolValue(b bool) Value               { return Value{Type: FieldBoolean, Bool: b} }
func DateValue(t time.Time) Value          { return Value{Type: FieldDate, Date: truncateDay(t)} }

// Any returns the value as a database/sql compatible argument. Decimals are
// rendered as strings so NUMERIC columns and JSON payloads keep full precision.
func (v Value) Any() any {
	if v.Null {
		return nil
	}
	switch v.Type {
	case FieldText:
		return v.Text
	case FieldDecimal:
		return v.Decimal.String()
	case FieldInteger:
		return v.Int
	case FieldBoolean:
		return v.Bool
	case FieldDate:
		return v.Date.Format(DefaultDateLayout)
	}
	return nil
}

// KeyString renders the value for natural-key composition.
func (v Value) KeyString() string {
	if v.Null {
		return ""
	}
	switch v.Type {
	case FieldBoolean:
		return strconv.FormatBool(v.Bool)
	case FieldInteger:
		return strconv.FormatInt(v.Int, 10)
	}
	s, _ := v.Any().(string)
	return s
}

// Equal compares two values by type and content.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type || v.Null != other.Null {
		return false
	}
	if v.Null {
		return true
	}
	switch v.Type {
	case FieldDecimal:
		return v.Decimal.Equal(other.Decimal)
	case FieldDate:
		return v.Date.Equal(other.Date)
	}
	return v.Any() == other.Any()
}

// TargetRecord is a typed, application-side record produced by the transform engine.
type TargetRecord struct {
	ID         int64
	Entity     EntityType
	Fields     map[string]Value
	Snapshot   bool
	Recent     bool
	NaturalKey string
	CycleID    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Value returns a field value and whether the field is set.
func (r *TargetRecord) Value(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Clone returns a deep copy.
func (r *TargetRecord) Clone() *TargetRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		clone.Fields[k] = v
	}
	return &clone
}

// ComposeNaturalKey joins the key fields of a record with a unit separator.
func ComposeNaturalKey(fields map[string]Value, keyFields []string) string {
	if len(keyFields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keyFields))
	for _, name := range keyFields {
		parts = append(parts, fields[name].KeyString())
	}
	return strings.Join(parts, "\x1f")
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
