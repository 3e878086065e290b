package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndCleanup(t *testing.T) {
	root := t.TempDir()

	c, err := New(true, root)
	require.NoError(t, err)

	c.Write(StageInboundRaw, []byte("frame-1"))
	c.Write(StageOutboundRaw, []byte("frame-2"))
	c.Write(StageAssembled, []byte("frame-3"))

	var found int
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".bin" {
			found++
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, found)

	assert.Equal(t, 3, c.Cleanup())
	assert.Equal(t, 0, c.Cleanup(), "second sweep finds nothing")
}

func TestDisabledSinkWritesNothing(t *testing.T) {
	root := t.TempDir()

	c, err := New(false, root)
	require.NoError(t, err)

	c.Write(StageInboundRaw, []byte("ignored"))
	assert.Equal(t, 0, c.Cleanup())

	// Directories are not even created when disabled.
	_, statErr := os.Stat(filepath.Join(root, string(StageInboundRaw)))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanupIgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()

	c, err := New(true, root)
	require.NoError(t, err)

	dir := filepath.Join(root, string(StageInboundRaw))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))
	c.Write(StageInboundRaw, []byte("sweep"))

	assert.Equal(t, 1, c.Cleanup())
	_, statErr := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, statErr)
}

func TestNilSinkIsSafe(t *testing.T) {
	var c *Capture
	c.Write(StageInboundRaw, []byte("x"))
	assert.Equal(t, 0, c.Cleanup())
}
