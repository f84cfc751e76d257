// Package transform converts legacy source records into typed target records
// by interpreting a mapping table. It performs no I/O.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

var (
	errNotNumeric  = errors.New("not a number")
	errNotIntegral = errors.New("not an integer")
	errOutOfRange  = errors.New("integer out of 64-bit range")
	errNotBoolean  = errors.New("not an accepted boolean token")
	errBlank       = errors.New("blank value")
)

// Engine applies mapping tables to source records.
type Engine struct{}

// New returns a transform engine.
func New() *Engine { return &Engine{} }

// Transform produces one target record from src. The first field that cannot
// be produced fails the whole record with a MissingColumnError or CoercionError.
func (e *Engine) Transform(table *domain.MappingTable, src domain.SourceRecord) (*domain.TargetRecord, error) {
	if table == nil {
		return nil, errors.New("mapping table is nil")
	}
	layout := table.EffectiveDateLayout()
	fields := make(map[string]domain.Value, len(table.Bindings))
	for _, b := range table.Bindings {
		raw, present := src.Get(b.SourceColumn)
		value, err := coerceBinding(table.Entity, b, layout, raw, present)
		if err != nil {
			return nil, err
		}
		fields[b.Target.Name] = value
	}
	return &domain.TargetRecord{
		Entity:     table.Entity,
		Fields:     fields,
		NaturalKey: domain.ComposeNaturalKey(fields, table.NaturalKey),
	}, nil
}

// CheckDefaults verifies that every declared default coerces to its field type.
func CheckDefaults(table *domain.MappingTable) error {
	layout := table.EffectiveDateLayout()
	for _, b := range table.Bindings {
		if b.Target.Policy != domain.PolicyDefault {
			continue
		}
		if _, err := parse(b.Target, layout, b.Target.Default); err != nil {
			return fmt.Errorf("entity %s: default %q of field %q: %w", table.Entity, b.Target.Default, b.Target.Name, err)
		}
	}
	return nil
}

func coerceBinding(entity domain.EntityType, b domain.Binding, layout string, raw any, present bool) (domain.Value, error) {
	field := b.Target
	if !present || raw == nil {
		switch field.Policy {
		case domain.PolicyDefault:
			return coerceDefault(entity, b, layout)
		case domain.PolicyNullable:
			return domain.NullValue(field.Type), nil
		}
		return domain.Value{}, &domain.MissingColumnError{Entity: entity, Column: b.SourceColumn, Field: field.Name}
	}
	value, err := parse(field, layout, raw)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, errBlank) {
		switch field.Policy {
		case domain.PolicyDefault:
			return coerceDefault(entity, b, layout)
		case domain.PolicyNullable:
			return domain.NullValue(field.Type), nil
		}
	}
	return domain.Value{}, &domain.CoercionError{
		Entity: entity,
		Column: b.SourceColumn,
		Field:  field.Name,
		Type:   field.Type,
		Raw:    domain.RawString(raw),
		Err:    err,
	}
}

func coerceDefault(entity domain.EntityType, b domain.Binding, layout string) (domain.Value, error) {
	value, err := parse(b.Target, layout, b.Target.Default)
	if err != nil {
		return domain.Value{}, &domain.CoercionError{
			Entity: entity, Column: b.SourceColumn, Field: b.Target.Name,
			Type: b.Target.Type, Raw: b.Target.Default, Err: err,
		}
	}
	return value, nil
}

func parse(field domain.FieldDescriptor, layout string, raw any) (domain.Value, error) {
	switch field.Type {
	case domain.FieldText:
		return domain.TextValue(textOf(raw)), nil
	case domain.FieldDecimal:
		d, err := toDecimal(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.DecimalValue(d), nil
	case domain.FieldInteger:
		i, err := toInteger(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.IntegerValue(i), nil
	case domain.FieldBoolean:
		b, err := toBoolean(field, raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.BoolValue(b), nil
	case domain.FieldDate:
		t, err := toDate(layout, raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.DateValue(t), nil
	}
	return domain.Value{}, fmt.Errorf("%w %q", domain.ErrUnknownFieldType, field.Type)
}

func textOf(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return domain.RawString(raw)
}

func trimmed(raw any) (string, error) {
	s := strings.TrimSpace(textOf(raw))
	if s == "" {
		return "", errBlank
	}
	return s, nil
}

func toDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, errNotNumeric
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case bool, time.Time:
		return decimal.Decimal{}, errNotNumeric
	}
	s, err := trimmed(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errNotNumeric
	}
	return d, nil
}

func toInteger(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, errOutOfRange
		}
		return int64(v), nil
	}
	if s, ok := raw.(string); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, nil
		}
	}
	d, err := toDecimal(raw)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, errNotIntegral
	}
	if !d.BigInt().IsInt64() {
		return 0, errOutOfRange
	}
	return d.IntPart(), nil
}

func toBoolean(field domain.FieldDescriptor, raw any) (bool, error) {
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	s, err := trimmed(raw)
	if err != nil {
		return false, err
	}
	truthy, falsy := field.BooleanTokens()
	for _, tok := range truthy {
		if s == tok {
			return true, nil
		}
	}
	for _, tok := range falsy {
		if s == tok {
			return false, nil
		}
	}
	return false, errNotBoolean
}

func toDate(layout string, raw any) (time.Time, error) {
	if t, ok := raw.(time.Time); ok {
		return t, nil
	}
	s, err := trimmed(raw)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected layout %s", layout)
	}
	return t, nil
}
