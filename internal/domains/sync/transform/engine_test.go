package transform

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

func workReportTable() *domain.MappingTable {
	return &domain.MappingTable{
		Entity:     "work_report_qc",
		Database:   domain.SourceERP,
		Query:      "select * from dbo.dhi_VPDSPFWorkReportQC where 작업일 = :day",
		DateLayout: domain.DefaultDateLayout,
		Bindings: []domain.Binding{
			{SourceColumn: "작업지시번호", Target: domain.FieldDescriptor{Name: "operationInstructionNumber", Type: domain.FieldText, Policy: domain.PolicyRequired}},
			{SourceColumn: "작업일", Target: domain.FieldDescriptor{Name: "workingDay", Type: domain.FieldDate, Policy: domain.PolicyRequired}},
			{SourceColumn: "생산수량", Target: domain.FieldDescriptor{Name: "productionQuantity", Type: domain.FieldDecimal, Policy: domain.PolicyRequired}},
			{SourceColumn: "양품수량", Target: domain.FieldDescriptor{Name: "goodQuantity", Type: domain.FieldDecimal, Policy: domain.PolicyDefault, Default: "0"}},
			{SourceColumn: "검사비고", Target: domain.FieldDescriptor{Name: "inspectionRemark", Type: domain.FieldText, Policy: domain.PolicyNullable}},
			{SourceColumn: "생산실적여부", Target: domain.FieldDescriptor{Name: "productionPerformanceStatus", Type: domain.FieldBoolean, Policy: domain.PolicyNullable}},
		},
	}
}

func row(values map[string]any) domain.SourceRecord {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	return domain.NewSourceRecord(cols, values)
}

func TestTransform_AllTypes(t *testing.T) {
	engine := New()
	rec, err := engine.Transform(workReportTable(), row(map[string]any{
		"작업지시번호": "WO-001",
		"작업일":    "2024-01-15",
		"생산수량":   "1234.5",
		"양품수량":   []byte("1200"),
		"검사비고":   nil,
		"생산실적여부": "Y",
	}))
	require.NoError(t, err)

	assert.Equal(t, "WO-001", rec.Fields["operationInstructionNumber"].Text)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), rec.Fields["workingDay"].Date)
	assert.True(t, rec.Fields["productionQuantity"].Decimal.Equal(decimal.RequireFromString("1234.5")))
	assert.True(t, rec.Fields["goodQuantity"].Decimal.Equal(decimal.NewFromInt(1200)))
	assert.True(t, rec.Fields["inspectionRemark"].Null)
	assert.True(t, rec.Fields["productionPerformanceStatus"].Bool)
}

func TestTransform_DecimalCoercion(t *testing.T) {
	field := domain.FieldDescriptor{Name: "amount", Type: domain.FieldDecimal, Policy: domain.PolicyRequired}

	v, err := parse(field, domain.DefaultDateLayout, "1234.5")
	require.NoError(t, err)
	assert.Equal(t, "1234.5", v.Decimal.String())

	v, err = parse(field, domain.DefaultDateLayout, 1234.5)
	require.NoError(t, err)
	assert.Equal(t, "1234.5", v.Decimal.String())

	_, err = parse(field, domain.DefaultDateLayout, "12,34x")
	assert.ErrorIs(t, err, errNotNumeric)
}

func TestTransform_DecimalBlankAndNullFollowPolicy(t *testing.T) {
	table := workReportTable()
	base := map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1", "양품수량": "5"}

	// required: blank is a coercion error, null is a missing column
	for raw, target := range map[any]error{"": domain.ErrCoercion, nil: domain.ErrMissingColumn} {
		values := cloneRow(base)
		values["생산수량"] = raw
		_, err := New().Transform(table, row(values))
		assert.ErrorIs(t, err, target)
	}

	// default: both blank and null take the default
	for _, raw := range []any{"", "  ", nil} {
		values := cloneRow(base)
		values["양품수량"] = raw
		rec, err := New().Transform(table, row(values))
		require.NoError(t, err)
		assert.True(t, rec.Fields["goodQuantity"].Decimal.IsZero())
	}
}

func TestTransform_DateCoercion(t *testing.T) {
	table := workReportTable()
	values := map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}
	rec, err := New().Transform(table, row(values))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", rec.Fields["workingDay"].Any())

	values["작업일"] = "15/01/2024"
	_, err = New().Transform(table, row(values))
	var coercion *domain.CoercionError
	require.ErrorAs(t, err, &coercion)
	assert.Equal(t, "작업일", coercion.Column)
	assert.Equal(t, "15/01/2024", coercion.Raw)

	values["작업일"] = time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)
	rec, err = New().Transform(table, row(values))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", rec.Fields["workingDay"].Any())
}

func TestTransform_CompactDateLayout(t *testing.T) {
	table := workReportTable()
	table.DateLayout = "20060102"
	rec, err := New().Transform(table, row(map[string]any{"작업지시번호": "WO-1", "작업일": "20240115", "생산수량": "1"}))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", rec.Fields["workingDay"].Any())

	_, err = New().Transform(table, row(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}))
	assert.ErrorIs(t, err, domain.ErrCoercion)
}

func TestTransform_BooleanTokens(t *testing.T) {
	field := domain.FieldDescriptor{Name: "isValid", Type: domain.FieldBoolean, Policy: domain.PolicyRequired}
	for _, tok := range []any{"1", "Y", "true", true, int64(1)} {
		v, err := parse(field, domain.DefaultDateLayout, tok)
		require.NoError(t, err, "token %v", tok)
		assert.True(t, v.Bool, "token %v", tok)
	}
	for _, tok := range []any{"0", "N", "False", false, int64(0)} {
		v, err := parse(field, domain.DefaultDateLayout, tok)
		require.NoError(t, err, "token %v", tok)
		assert.False(t, v.Bool, "token %v", tok)
	}
	_, err := parse(field, domain.DefaultDateLayout, "yes")
	assert.ErrorIs(t, err, errNotBoolean)

	custom := field
	custom.TrueTokens = []string{"진행"}
	custom.FalseTokens = []string{"완료"}
	v, err := parse(custom, domain.DefaultDateLayout, "진행")
	require.NoError(t, err)
	assert.True(t, v.Bool)
	_, err = parse(custom, domain.DefaultDateLayout, "Y")
	assert.ErrorIs(t, err, errNotBoolean)
}

func TestTransform_Integer(t *testing.T) {
	field := domain.FieldDescriptor{Name: "companyId", Type: domain.FieldInteger, Policy: domain.PolicyRequired}
	v, err := parse(field, domain.DefaultDateLayout, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v.Int)

	v, err = parse(field, domain.DefaultDateLayout, 7.0)
	require.NoError(t, err)
	assert.EqualValues(t, 7, v.Int)

	_, err = parse(field, domain.DefaultDateLayout, "4.2")
	assert.ErrorIs(t, err, errNotIntegral)

	v, err = parse(field, domain.DefaultDateLayout, "-9223372036854775808")
	require.NoError(t, err)
	assert.EqualValues(t, math.MinInt64, v.Int)

	for _, raw := range []any{"99999999999999999999", "-9223372036854775809", "1e30", uint64(math.MaxUint64)} {
		_, err = parse(field, domain.DefaultDateLayout, raw)
		assert.ErrorIs(t, err, errOutOfRange, "%v", raw)
	}
}

func TestTransform_IntegerOverflowIsCoercionError(t *testing.T) {
	table := &domain.MappingTable{
		Entity: "counters",
		Bindings: []domain.Binding{
			{SourceColumn: "N", Target: domain.FieldDescriptor{Name: "n", Type: domain.FieldInteger, Policy: domain.PolicyRequired}},
		},
	}
	_, err := New().Transform(table, row(map[string]any{"N": "99999999999999999999"}))
	var coercion *domain.CoercionError
	require.ErrorAs(t, err, &coercion)
	assert.Equal(t, "n", coercion.Field)
	assert.ErrorIs(t, err, errOutOfRange)
}

func TestTransform_MissingColumnNamesFieldAndColumn(t *testing.T) {
	_, err := New().Transform(workReportTable(), row(map[string]any{"작업일": "2024-01-15", "생산수량": "1"}))
	var missing *domain.MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "작업지시번호", missing.Column)
	assert.Equal(t, "operationInstructionNumber", missing.Field)
}

func TestTransform_TextIsVerbatim(t *testing.T) {
	table := workReportTable()
	rec, err := New().Transform(table, row(map[string]any{"작업지시번호": "  WO 1 ", "작업일": "2024-01-15", "생산수량": "1", "검사비고": ""}))
	require.NoError(t, err)
	assert.Equal(t, "  WO 1 ", rec.Fields["operationInstructionNumber"].Text)
	assert.False(t, rec.Fields["inspectionRemark"].Null)
	assert.Equal(t, "", rec.Fields["inspectionRemark"].Text)
}

func TestTransform_NaturalKey(t *testing.T) {
	table := workReportTable()
	table.NaturalKey = []string{"operationInstructionNumber", "workingDay"}
	rec, err := New().Transform(table, row(map[string]any{"작업지시번호": "WO-1", "작업일": "2024-01-15", "생산수량": "1"}))
	require.NoError(t, err)
	assert.Equal(t, "WO-1\x1f2024-01-15", rec.NaturalKey)
}

func TestCheckDefaults(t *testing.T) {
	table := workReportTable()
	require.NoError(t, CheckDefaults(table))

	table.Bindings[3].Target.Default = "n/a"
	assert.Error(t, CheckDefaults(table))
}

func cloneRow(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
