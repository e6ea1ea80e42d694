// Package eventlog keeps the most recent application log events in
// memory for the UI's log view, and reads tails of the on-disk log.
//
// Two sources feed the log view. The in-memory Buffer receives every
// event the running process logs, via a zapcore.Core tee, so the view is
// live without touching the filesystem. Tail reads the last lines of the
// persistent log file for history from before this session.
package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one captured log event.
type Entry struct {
	Time    time.Time
	Level   zapcore.Level
	Message string
}

// Buffer is a fixed-capacity ring of the most recent log events. Safe
// for concurrent use; writers never block on readers.
type Buffer struct {
	mu    sync.Mutex
	ring  []Entry
	idx   int
	count int
}

const defaultBufferCapacity = 500

// NewBuffer allocates a ring holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &Buffer{ring: make([]Entry, capacity)}
}

// Append records one event, evicting the oldest when full.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.idx] = e
	b.idx = (b.idx + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
}

// Entries returns the buffered events oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, b.count)
	if b.count == len(b.ring) {
		for i := 0; i < b.count; i++ {
			out[i] = b.ring[(b.idx+i)%len(b.ring)]
		}
	} else {
		copy(out, b.ring[:b.count])
	}
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// SeedFromFile preloads the buffer with the tail of a previous session's
// log file, so the log view shows history before this process has logged
// anything. Seeded entries carry a zero timestamp; the raw line already
// includes its own.
func SeedFromFile(buf *Buffer, path string, maxLines int) error {
	lines, err := Tail(path, maxLines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		buf.Append(Entry{Level: zapcore.InfoLevel, Message: line})
	}
	return nil
}

// Tail returns at most maxLines from the end of the log file at path.
// A missing file yields no lines and no error.
func Tail(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	ring := make([]string, maxLines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}
