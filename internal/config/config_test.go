package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Reminders, again.Reminders)
	assert.Equal(t, 60, again.Extraction.DefaultDurationMinutes)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := []byte(`
timezone: Europe/Berlin
extraction:
  default_reminder_minutes: 0
storage:
  driver: Redis
sync:
  sources:
    - id: team
      url: https://example.com/team.ics
`)
	require.NoError(t, os.WriteFile(path, partial, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, 0, cfg.Extraction.DefaultReminderMinutes, "zero reminder minutes is meaningful")
	assert.Equal(t, 60, cfg.Extraction.DefaultDurationMinutes)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 60, cfg.Reminders.CheckIntervalSeconds)
	assert.Equal(t, 7, cfg.Reminders.HistoryRetentionDays)
	require.Len(t, cfg.Sync.Sources, 1)
	assert.Equal(t, "team", cfg.Sync.Sources[0].ID)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvStorageDSN, "postgres://u:p@localhost/smartcal")
	t.Setenv(EnvAIModel, "llama3")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "postgres://u:p@localhost/smartcal", cfg.Storage.DSN)
	assert.Equal(t, "llama3", cfg.Extraction.AI.Model)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Not/AZone"
	loc, err := cfg.Location()
	assert.Error(t, err)
	assert.NotNil(t, loc)

	cfg.Timezone = "UTC"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
