package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 3; i++ {
		_, err := rw.Write(chunk)
		require.NoError(t, err)
	}

	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
	assert.Equal(t, int64(len(chunk)), rw.Size())
}

func TestRotatingWriter_Compress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("y", 700*1024))
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write(chunk)
	require.NoError(t, err)

	assert.FileExists(t, path+".1.gz")
	assert.NoFileExists(t, path+".1")
}

func TestRotatingWriter_NoRotationWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	rw, err := NewRotatingWriter(path, RotationConfig{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := rw.Write([]byte("line\n"))
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(string(data), "\n"))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), LogFileName), DefaultRotationConfig())
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.Error(t, err)
	assert.NoError(t, rw.Close())
}
