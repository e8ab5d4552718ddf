package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	require.NoError(t, err)

	logger.WithSession("s1").WithPhase("execution").WithTask("d1").Info("task dispatched", "kind", "data")
	logger.Debug("debug line")
	require.NoError(t, logger.Close())

	entries, err := AggregateLogs(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, LevelInfo, first.Level)
	assert.Equal(t, "task dispatched", first.Message)
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, "execution", first.Phase)
	assert.Equal(t, "d1", first.TaskID)
	assert.Equal(t, "data", first.Attrs["kind"])
	assert.False(t, first.Timestamp.IsZero())
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			dir := t.TempDir()
			logger, err := NewLogger(dir, tt.level)
			require.NoError(t, err)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")
			require.NoError(t, logger.Close())

			entries, err := AggregateLogs(dir)
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
		})
	}
}

func TestLogger_CloseIsShared(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	require.NoError(t, err)

	child := logger.WithSession("s1")
	require.NoError(t, child.Close())
	require.NoError(t, logger.Close())

	_, err = os.Stat(filepath.Join(dir, LogFileName))
	assert.NoError(t, err)
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.WithSession("x").Info("ignored", "k", 1)
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("Warn"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Len(t, ValidLevels(), 4)
}
