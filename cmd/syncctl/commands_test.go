package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/mfgsync/internal/app/config"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/platform/scheduler"
)

func testRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut, func() (config.Config, error) {
		return config.Config{
			Location:           time.UTC,
			ChunkSize:          100,
			SourceQueryTimeout: time.Second,
			Schedules:          scheduler.DefaultSpecs(),
			TemporalDisabled:   true,
		}, nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_PrintsResult(t *testing.T) {
	out, err := testRoot(t, "run", "stock_amount", "--day", "2024-06-03")
	require.NoError(t, err)

	var res domain.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, domain.EntityType("stock_amount"), res.Entity)
	assert.Equal(t, "2024-06-03", res.Day)
	assert.Equal(t, domain.TriggerManual, res.Trigger)
}

func TestRun_UnknownEntity(t *testing.T) {
	_, err := testRoot(t, "run", "unknown_entity")
	require.Error(t, err)
}

func TestDurableNeedsTemporal(t *testing.T) {
	_, err := testRoot(t, "--durable", "run", "stock_amount")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_DISABLED")
}

func TestCalendar_PrintsAdded(t *testing.T) {
	out, err := testRoot(t, "calendar", "--month", "2024-06")
	require.NoError(t, err)
	assert.JSONEq(t, `{"added":10}`, out)
}

func TestEntities_ListsRegistry(t *testing.T) {
	out, err := testRoot(t, "entities")
	require.NoError(t, err)

	var entities []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entities))
	assert.NotEmpty(t, entities)
}
