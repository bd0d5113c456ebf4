package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceName(t *testing.T) {
	assert.Equal(t, "file:/tmp/t.db?_foreign_keys=1", dataSourceName("/tmp/t.db", Options{}))
	assert.Equal(t, "file:/tmp/t.db?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL",
		dataSourceName("/tmp/t.db", Options{WAL: true}))
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "toolrun.db")

	conn, err := Open(context.Background(), Options{Path: "file:" + path}, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	assert.FileExists(t, path)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{}, zerolog.Nop())
	assert.Error(t, err)
}
