package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultSize is the number of lines kept when no size is given.
const DefaultSize = 500

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	AlertID   string    `json:"alert_id,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// Buffer is a fixed-size ring of recent zerolog JSON lines. It is an
// io.Writer so it can sit behind zerolog.MultiLevelWriter.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
	now     func() time.Time
}

// New creates a buffer holding up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
		now:     time.Now,
	}
}

type zerologLine struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Time      string `json:"time"`
	Component string `json:"component"`
	AlertID   string `json:"alert_id"`
}

// Write implements io.Writer. Lines that are not JSON are kept raw at info level.
func (b *Buffer) Write(p []byte) (int, error) {
	raw := strings.TrimRight(string(p), "\n")
	entry := Entry{
		Timestamp: b.now(),
		Level:     "info",
		Message:   raw,
		Raw:       raw,
	}

	var line zerologLine
	if err := json.Unmarshal(p, &line); err == nil {
		if line.Level != "" {
			entry.Level = line.Level
		}
		entry.Message = line.Message
		entry.Component = line.Component
		entry.AlertID = line.AlertID
		if ts, err := time.Parse(time.RFC3339, line.Time); err == nil {
			entry.Timestamp = ts
		}
	}

	b.mu.Lock()
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()

	return len(p), nil
}

// Entries returns all entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, b.count)
	start := 0
	if b.count == b.size {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%b.size]
	}
	return result
}

// Recent returns the newest n entries, oldest first.
func (b *Buffer) Recent(n int) []Entry {
	entries := b.Entries()
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// Filter returns the newest n entries at or above minLevel.
func (b *Buffer) Filter(minLevel string, n int) []Entry {
	min := levelRank(minLevel)
	var out []Entry
	for _, e := range b.Entries() {
		if levelRank(e.Level) >= min {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Clear drops all entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

func levelRank(level string) int {
	switch level {
	case "trace":
		return 0
	case "debug":
		return 1
	case "", "info":
		return 2
	case "warn":
		return 3
	case "error":
		return 4
	case "fatal":
		return 5
	case "panic":
		return 6
	default:
		return 2
	}
}
