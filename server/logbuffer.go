package server

import (
	"encoding/json"
	"strings"
	"sync"
)

// LogEntry is one captured log line, reduced to the fields the /logs
// endpoint serves.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// LogBuffer is an io.Writer that keeps the most recent log entries in
// memory. Wire it as an extra zerolog writer; a malformed line is dropped
// rather than ever failing the logger.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
}

func NewLogBuffer(maxEntries int) *LogBuffer {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &LogBuffer{max: maxEntries}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	var line struct {
		Level   string `json:"level"`
		Time    string `json:"time"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p, &line); err != nil {
		return len(p), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, LogEntry{
		Timestamp: line.Time,
		Level:     strings.ToUpper(line.Level),
		Message:   line.Message,
	})
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
	return len(p), nil
}

// Recent returns up to limit of the newest entries, oldest first,
// optionally filtered by level.
func (b *LogBuffer) Recent(limit int, level string) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.entries
	if level != "" {
		level = strings.ToUpper(level)
		filtered := make([]LogEntry, 0, len(entries))
		for _, e := range entries {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}
