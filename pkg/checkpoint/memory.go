package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. Snapshots are cloned
// through JSON on both write and read so callers can never alias stored
// state. Used by tests and the interactive CLI.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Snapshot // oldest first
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string][]*Snapshot{}}
}

func cloneSnapshot(snap *Snapshot) (*Snapshot, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &out, nil
}

// Load returns the newest snapshot.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.sessions[sessionID]
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return cloneSnapshot(chain[len(chain)-1])
}

// Save appends a snapshot to the session's chain.
func (m *MemoryStore) Save(_ context.Context, sessionID string, snap *Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parentID := ""
	if chain := m.sessions[sessionID]; len(chain) > 0 {
		parentID = chain[len(chain)-1].CheckpointID
	}
	stamp(snap, sessionID, parentID)

	stored, err := cloneSnapshot(snap)
	if err != nil {
		return "", err
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], stored)
	return snap.CheckpointID, nil
}

// List returns the session's snapshots, newest first.
func (m *MemoryStore) List(_ context.Context, sessionID string) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.sessions[sessionID]
	out := make([]*Snapshot, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		snap, err := cloneSnapshot(chain[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Rewind truncates the chain after the identified checkpoint.
func (m *MemoryStore) Rewind(_ context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.sessions[sessionID]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].CheckpointID == checkpointID {
			m.sessions[sessionID] = chain[:i+1]
			return cloneSnapshot(chain[i])
		}
	}
	return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
}

// Delete drops the whole session.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Sessions returns the ids of every stored session, for retention sweeps.
func (m *MemoryStore) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
