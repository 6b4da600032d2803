package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provender/shelfsync/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "data/shelfsync.db", cfg.DatabasePath)
	assert.Equal(t, "data/objects", cfg.BlobRoot)
	assert.Equal(t, "https://open.feishu.cn", cfg.Source.BaseURL)
	assert.Equal(t, 500, cfg.Source.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Source.DownloadDelay)
	assert.Equal(t, 4, cfg.Sync.IngestConcurrency)
	assert.Equal(t, 50, cfg.Sync.RunHistory)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SHELFSYNC_DATABASE_PATH", "/tmp/custom.db")
	t.Setenv("SHELFSYNC_SOURCE_APP_ID", "cli_abc")
	t.Setenv("SHELFSYNC_SCHED_INCREMENTAL", "0 * * * *")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.DatabasePath)
	assert.Equal(t, "cli_abc", cfg.Source.AppID)
	assert.Equal(t, "0 * * * *", cfg.Sched.Incremental)
}
