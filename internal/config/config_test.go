package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr())
	assert.Equal(t, "recordings", cfg.Storage.Root)
	assert.Equal(t, filepath.Join("recordings", "catalog.db"), cfg.Storage.CatalogDB)
	assert.Equal(t, filepath.Join("recordings", "chunks"), cfg.Storage.ChunksDir())
	assert.Equal(t, filepath.Join("recordings", "output"), cfg.Storage.OutputDir())
	assert.Equal(t, ".webm", cfg.Storage.Extension)
	assert.Equal(t, MergeToolFFmpeg, cfg.Merge.Tool)
	assert.Equal(t, 5*time.Minute, cfg.Merge.Timeout)
	assert.Equal(t, 4, cfg.Merge.Concurrency)
	assert.False(t, cfg.Merge.RemoveFragmentsOnMerge)
	assert.Equal(t, int64(32<<20), cfg.Limits.MaxFrameBytes)
	assert.Empty(t, cfg.Server.Origins())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("RECORDINGS_DIR", "/srv/rec")
	t.Setenv("RECORDING_EXT", "mp4")
	t.Setenv("MERGE_TOOL", "copy")
	t.Setenv("MERGE_TIMEOUT", "30s")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173, http://localhost:3001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "/srv/rec/catalog.db", cfg.Storage.CatalogDB)
	assert.Equal(t, ".mp4", cfg.Storage.Extension)
	assert.Equal(t, MergeToolCopy, cfg.Merge.Tool)
	assert.Equal(t, 30*time.Second, cfg.Merge.Timeout)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3001"}, cfg.Server.Origins())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":              "80 80",
		"MERGE_TOOL":        "sox",
		"MERGE_CONCURRENCY": "0",
		"LOG_FORMAT":        "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
