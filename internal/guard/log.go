package guard

import (
	"context"
	"time"
)

// Window bounds the number of admitted requests inside a trailing interval.
type Window struct {
	Span  time.Duration
	Limit int
}

// Log is the per-identity request timestamp log backing the rate check.
//
// Admit prunes entries of identity that are at least retention old, then
// reports whether every window still has room at now. When there is room and
// commit is true, now is appended before returning. The whole sequence is
// atomic per identity: two concurrent callers can never both take the last
// slot of a window.
type Log interface {
	Admit(ctx context.Context, identity string, now time.Time, windows []Window, commit bool) (bool, error)
}

// retentionOf returns the widest span among windows.
func retentionOf(windows []Window) time.Duration {
	var widest time.Duration
	for _, w := range windows {
		if w.Span > widest {
			widest = w.Span
		}
	}
	return widest
}
