package logging

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of debug.log.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero-valued fields do not filter.
type LogFilter struct {
	Level     string
	Since     time.Time
	Phase     string
	TaskID    string
	Pattern   *regexp.Regexp
	SessionID string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var standardKeys = map[string]bool{
	"time": true, "level": true, "msg": true,
	"session_id": true, "phase": true, "task_id": true,
}

// AggregateLogs reads {sessionDir}/debug.log sorted by timestamp.
// Lines that are not valid JSON are skipped.
func AggregateLogs(sessionDir string) ([]LogEntry, error) {
	f, err := os.Open(filepath.Join(sessionDir, LogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in session directory: %w", err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ReadEntries(f)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ReadEntries parses JSON log lines from r in order.
func ReadEntries(r io.Reader) ([]LogEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if entry, ok := ParseEntry(line); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return entries, nil
}

// ParseEntry decodes one JSON log line.
func ParseEntry(line string) (LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{}
	if ts, ok := raw["time"].(string); ok {
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.SessionID, _ = raw["session_id"].(string)
	entry.Phase, _ = raw["phase"].(string)
	entry.TaskID, _ = raw["task_id"].(string)

	for k, v := range raw {
		if standardKeys[k] {
			continue
		}
		if entry.Attrs == nil {
			entry.Attrs = make(map[string]any)
		}
		entry.Attrs[k] = v
	}
	return entry, true
}

// FilterLogs returns the entries matching every set criterion.
func FilterLogs(entries []LogEntry, f LogFilter) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		floor, okMin := levelOrder[strings.ToUpper(f.Level)]
		got, okGot := levelOrder[e.Level]
		if okMin && okGot && got < floor {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.Message) {
		return false
	}
	return true
}

// Tail returns at most the last n entries. n <= 0 returns all of them.
func Tail(entries []LogEntry, n int) []LogEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// WriteEntries writes entries to w as json, text or csv.
func WriteEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "", "text":
		for _, e := range entries {
			if _, err := io.WriteString(w, FormatText(e)+"\n"); err != nil {
				return fmt.Errorf("failed to write text entry: %w", err)
			}
		}
		return nil
	case "csv":
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: json, text, csv)", format)
	}
}

// FormatText renders an entry as a single human-readable line.
func FormatText(e LogEntry) string {
	parts := []string{
		"[" + e.Timestamp.Format("2006-01-02 15:04:05.000") + "]",
		fmt.Sprintf("%-5s", e.Level),
		e.Message,
	}

	var ctx []string
	if e.Phase != "" {
		ctx = append(ctx, "phase="+e.Phase)
	}
	if e.TaskID != "" {
		ctx = append(ctx, "task="+e.TaskID)
	}
	if len(ctx) > 0 {
		parts = append(parts, "("+strings.Join(ctx, ", ")+")")
	}
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}

func writeCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "level", "message", "session_id", "phase", "task_id", "attrs"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level, e.Message, e.SessionID, e.Phase, e.TaskID, attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
