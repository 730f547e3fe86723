package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps timestamps in process memory. Contents are lost on restart.
type MemoryLog struct {
	mu        sync.Mutex
	entries   map[string][]time.Time
	retention time.Duration
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog returns an empty log. retention is how long Sweep keeps an idle
// identity around; it should match the widest window used with Admit.
func NewMemoryLog(retention time.Duration) *MemoryLog {
	return &MemoryLog{
		entries:   make(map[string][]time.Time),
		retention: retention,
	}
}

func (l *MemoryLog) Admit(_ context.Context, identity string, now time.Time, windows []Window, commit bool) (bool, error) {
	retention := retentionOf(windows)

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := prune(l.entries[identity], now, retention)

	for _, w := range windows {
		if countWithin(timestamps, now, w.Span) >= w.Limit {
			l.store(identity, timestamps)
			return false, nil
		}
	}

	if commit {
		timestamps = append(timestamps, now)
	}
	l.store(identity, timestamps)
	return true, nil
}

func (l *MemoryLog) store(identity string, timestamps []time.Time) {
	if len(timestamps) == 0 {
		delete(l.entries, identity)
		return
	}
	l.entries[identity] = timestamps
}

// Sweep drops every identity whose newest entry is older than the retention
// passed to NewMemoryLog. It returns how many identities were removed.
func (l *MemoryLog) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, timestamps := range l.entries {
		kept := prune(timestamps, now, l.retention)
		if len(kept) == 0 {
			delete(l.entries, identity)
			removed++
			continue
		}
		l.entries[identity] = kept
	}
	return removed
}

// Len reports how many identities currently hold entries.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the timestamps held for identity.
func (l *MemoryLog) Entries(identity string) []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.entries[identity]...)
}

// prune removes entries at least retention old, reusing the backing array.
// Timestamps are chronological so the first kept entry ends the scan.
func prune(timestamps []time.Time, now time.Time, retention time.Duration) []time.Time {
	for i, t := range timestamps {
		if now.Sub(t) < retention {
			if i == 0 {
				return timestamps
			}
			return append(timestamps[:0], timestamps[i:]...)
		}
	}
	return timestamps[:0]
}

func countWithin(timestamps []time.Time, now time.Time, span time.Duration) int {
	count := 0
	for i := len(timestamps) - 1; i >= 0; i-- {
		if now.Sub(timestamps[i]) >= span {
			break
		}
		count++
	}
	return count
}
