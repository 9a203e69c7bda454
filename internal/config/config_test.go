package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxParallel, cfg.MaxParallel)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Read)
}

func TestLoadConfigPartialFileOnlyOverridesPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel: 5\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, DefaultConfig().LogLevel, cfg.LogLevel)
}

func TestLoadConfigMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel: [this is not a scalar\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel: 5\n"), 0644))

	t.Setenv("FLOWLINE_MAX_PARALLEL", "9")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxParallel)
}
