package overlay

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps the slot in process memory; it is empty after a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, payload json.RawMessage) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	state := &State{
		Payload:   append(json.RawMessage(nil), payload...),
		UpdatedAt: s.now(),
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return State{}, false, nil
	}
	return State{
		Payload:   append(json.RawMessage(nil), s.state.Payload...),
		UpdatedAt: s.state.UpdatedAt,
	}, true, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()
	return nil
}
