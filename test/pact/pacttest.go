//go:build pact
// +build pact

package pacttest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

const (
	ProviderName = "mfgsync-api"
	ConsumerName = "reporting-portal"

	StateStockRows     = "stock amount rows are available upstream"
	StateStockSynced   = "stock amount has been synced"
	StateUnknownEntity = "no entity named unknown_entity"
)

const (
	StockEntity   domain.EntityType = "stock_amount"
	UnknownEntity                   = "unknown_entity"
	CycleDay                        = "2024-06-03"
)

// StockRows are the upstream rows served in every stock amount state.
func StockRows() []domain.SourceRecord {
	columns := []string{"구분", "직구매자재", "사급자재", "합계"}
	return []domain.SourceRecord{
		domain.NewSourceRecord(columns, map[string]any{"구분": "원자재", "직구매자재": "1200.50", "사급자재": "300", "합계": "1500.50"}),
		domain.NewSourceRecord(columns, map[string]any{"구분": "부자재", "직구매자재": "80", "사급자재": nil, "합계": "80"}),
	}
}

// PactDir is where consumer tests write pacts and provider tests read them.
func PactDir(t testing.TB) string {
	return ensureDir(t, "pacts")
}

// PactFile is the reporting portal contract.
func PactFile(t testing.TB) string {
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

// LogDir receives pact-go mock server logs.
func LogDir(t testing.TB) string {
	return ensureDir(t, filepath.Join("bin", "pact-logs"))
}

func ensureDir(t testing.TB, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("locate pact helpers")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "..", rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create %s: %v", rel, err)
	}
	return filepath.Clean(dir)
}
