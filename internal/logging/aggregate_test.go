package logging

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2024-05-01T10:00:02Z","level":"INFO","msg":"phase advanced","session_id":"s1","phase":"planning","to":"execution"}
not json
{"time":"2024-05-01T10:00:01Z","level":"DEBUG","msg":"planning started","session_id":"s1","phase":"planning"}
{"time":"2024-05-01T10:00:03Z","level":"WARN","msg":"handler failed","session_id":"s1","phase":"execution","task_id":"d1"}
{"time":"2024-05-01T10:00:04Z","level":"ERROR","msg":"save conflict","session_id":"s1","phase":"execution"}
`

func TestReadEntries_SkipsGarbage(t *testing.T) {
	entries, err := ReadEntries(strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "execution", entries[0].Attrs["to"])
}

func TestFilterLogs(t *testing.T) {
	entries, err := ReadEntries(strings.NewReader(sampleLog))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter LogFilter
		want   []string
	}{
		{"no filter", LogFilter{}, []string{"phase advanced", "planning started", "handler failed", "save conflict"}},
		{"min level warn", LogFilter{Level: "warn"}, []string{"handler failed", "save conflict"}},
		{"phase", LogFilter{Phase: "planning"}, []string{"phase advanced", "planning started"}},
		{"task", LogFilter{TaskID: "d1"}, []string{"handler failed"}},
		{"pattern", LogFilter{Pattern: regexp.MustCompile("fail|conflict")}, []string{"handler failed", "save conflict"}},
		{"since", LogFilter{Since: time.Date(2024, 5, 1, 10, 0, 3, 0, time.UTC)}, []string{"handler failed", "save conflict"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, e := range FilterLogs(entries, tt.filter) {
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTail(t *testing.T) {
	entries := []LogEntry{{Message: "a"}, {Message: "b"}, {Message: "c"}}
	assert.Len(t, Tail(entries, 2), 2)
	assert.Equal(t, "c", Tail(entries, 1)[0].Message)
	assert.Len(t, Tail(entries, 0), 3)
}

func TestWriteEntries(t *testing.T) {
	entries, err := ReadEntries(strings.NewReader(sampleLog))
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, WriteEntries(&text, entries[2:3], "text"))
	assert.Contains(t, text.String(), "handler failed (phase=execution, task=d1)")

	var csvOut bytes.Buffer
	require.NoError(t, WriteEntries(&csvOut, entries, "csv"))
	assert.Equal(t, 5, strings.Count(csvOut.String(), "\n"))

	var js bytes.Buffer
	require.NoError(t, WriteEntries(&js, entries, "json"))
	assert.True(t, strings.HasPrefix(js.String(), "["))

	assert.Error(t, WriteEntries(&js, entries, "xml"))
}
