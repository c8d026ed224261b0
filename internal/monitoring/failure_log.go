// Package monitoring - failure_log.go tracks recent failed requests in memory.
//
// DESIGN: Ring buffer of the most recent failures for the /stats endpoint.
// Shows which routes are failing and whether upstream or the call itself failed.
package monitoring

import (
	"sync"
	"time"
)

const maxFailureLogEntries = 50

// FailureEntry records a single failed request.
type FailureEntry struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Route     string    `json:"route"`
	Kind      string    `json:"kind"`   // upstream, transport, bad_request
	Status    int       `json:"status"` // status sent to the client
	Message   string    `json:"message,omitempty"`
}

// FailureLog keeps a ring buffer of recent failures.
type FailureLog struct {
	mu      sync.RWMutex
	entries []FailureEntry
	next    int
	full    bool
}

// NewFailureLog creates an empty failure log.
func NewFailureLog() *FailureLog {
	return &FailureLog{
		entries: make([]FailureEntry, maxFailureLogEntries),
	}
}

// Record adds a failure, overwriting the oldest once full.
func (l *FailureLog) Record(entry FailureEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if len(entry.Message) > 200 {
		entry.Message = entry.Message[:200]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns failures newest first.
func (l *FailureLog) Recent() []FailureEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}
	out := make([]FailureEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Len returns the number of recorded failures (capped at the buffer size).
func (l *FailureLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
