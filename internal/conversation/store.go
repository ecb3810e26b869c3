package conversation

import (
	"context"
	"sync"
)

// StateStore holds one conversation state per sender. Absence of a record is
// equivalent to StateUnset; all operations are total over the sender domain.
//
// Implementations must be safe for concurrent use. Atomicity of a full
// read-modify-write for one sender is provided by the Dispatcher's per-sender
// lock, not by the store itself.
type StateStore interface {
	Get(ctx context.Context, sender string) (State, error)
	Set(ctx context.Context, sender string, state State) error
	Reset(ctx context.Context, sender string) error
}

// MemoryStateStore is a StateStore backed by an in-process map. State does not
// survive a restart, which matches the router's requirements.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (s *MemoryStateStore) Get(_ context.Context, sender string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[sender], nil
}

func (s *MemoryStateStore) Set(_ context.Context, sender string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == StateUnset {
		delete(s.states, sender)
		return nil
	}
	s.states[sender] = state
	return nil
}

func (s *MemoryStateStore) Reset(ctx context.Context, sender string) error {
	return s.Set(ctx, sender, StateUnset)
}
