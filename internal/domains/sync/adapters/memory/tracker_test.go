package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

func TestLotTracker(t *testing.T) {
	tracker := NewLotTracker()
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 14, 55, 0, 0, time.UTC)

	require.NoError(t, tracker.Apply(ctx, domain.LotUpdate{Kind: "loss", CycleID: "c1", At: at, Active: []string{"L-2", "L-1"}}))
	require.NoError(t, tracker.Apply(ctx, domain.LotUpdate{Kind: "loss", CycleID: "c2", At: at.Add(time.Hour), Active: []string{"L-2"}, Released: []string{"L-1"}}))

	lots, err := tracker.List(ctx, "loss")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "L-2", lots[0].LotCode)
	assert.Equal(t, "c1", lots[0].CycleID)

	none, err := tracker.List(ctx, "lotResult")
	require.NoError(t, err)
	assert.Empty(t, none)
}
