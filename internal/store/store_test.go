package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/config"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Save(ctx, "reminders", `{"version":1}`))
	got, err := kv.Load(ctx, "reminders")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, got)

	require.NoError(t, kv.Save(ctx, "reminders", `{"version":2}`))
	got, err = kv.Load(ctx, "reminders")
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, got)

	require.NoError(t, kv.Save(ctx, "https://example.com/a.ics?token=x", "body"))
	got, err = kv.Load(ctx, "https://example.com/a.ics?token=x")
	require.NoError(t, err)
	assert.Equal(t, "body", got)
}

func TestMemory(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFile(dir)
	require.NoError(t, err)
	exerciseKV(t, fs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), e.Name())
		assert.Equal(t, ".json", filepath.Ext(e.Name()))
	}

	reopened, err := NewFile(dir)
	require.NoError(t, err)
	got, err := reopened.Load(context.Background(), "reminders")
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, got)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("SMARTCAL_TEST_DSN")
	if dsn == "" {
		t.Skip("SMARTCAL_TEST_DSN not set")
	}
	pg, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer pg.Close()

	exerciseKV(t, pg)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, closeFn, err := Open(ctx, config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, kv)
	assert.NoError(t, closeFn())

	kv, _, err = Open(ctx, config.StorageConfig{Driver: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, kv)

	_, _, err = Open(ctx, config.StorageConfig{Driver: "postgres"})
	assert.Error(t, err)
}
