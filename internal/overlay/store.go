// Package overlay holds the single "current outfit" slot read by the stream
// overlay. A save replaces the slot, a clear empties it; there is no history.
package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrEmptyPayload = errors.New("overlay payload is empty")

// State is the content of the slot.
type State struct {
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Store is the save/get/clear contract shared by every backend. Concurrent
// saves are last-write-wins.
type Store interface {
	Save(ctx context.Context, payload json.RawMessage) error
	// Get returns ok=false when the slot is empty.
	Get(ctx context.Context) (state State, ok bool, err error)
	Clear(ctx context.Context) error
}

// Normalize checks that payload is a non-null JSON document and returns it
// compacted.
func Normalize(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, err
	}
	if bytes.Equal(buf.Bytes(), []byte("null")) {
		return nil, ErrEmptyPayload
	}
	return buf.Bytes(), nil
}
