package sourcedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLite(t *testing.T) {
	db, err := Connect(context.Background(), "sqlite3", ":memory:", 1)
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.Get(&one, "select 1"))
	assert.Equal(t, 1, one)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestConnect_Rejects(t *testing.T) {
	_, err := Connect(context.Background(), "sqlite3", " ", 0)
	assert.Error(t, err)

	_, err = Connect(context.Background(), "oracle", "dsn", 0)
	assert.ErrorContains(t, err, "unsupported source driver")
}
