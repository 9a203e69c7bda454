package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])
	assert.True(t, names["stop"])
}

func TestWritePIDFileWritesCurrentPID(t *testing.T) {
	dir := t.TempDir()

	cleanup, err := writePIDFile(dir)
	require.NoError(t, err)
	defer cleanup()

	pid, err := readPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFileCleanupRemovesFile(t *testing.T) {
	dir := t.TempDir()

	cleanup, err := writePIDFile(dir)
	require.NoError(t, err)
	cleanup()

	_, err = os.Stat(filepath.Join(dir, ".flowline", "flowline.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadPIDMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := readPID(dir)
	assert.Error(t, err)
}

func TestReadPIDMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".flowline"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".flowline", "flowline.pid"), []byte("not-a-pid"), 0644))

	_, err := readPID(dir)
	assert.Error(t, err)
}
