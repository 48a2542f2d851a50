package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/nugget/hodie/internal/conversation"
)

type memoryEntry struct {
	meta Snapshot
	data []byte
}

// MemoryStore keeps snapshots in process memory. States are stored
// encoded, so callers never alias stored data.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]memoryEntry)}
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, threadID, stage string, state *conversation.State) error {
	if threadID == "" {
		return errMissingThreadID
	}
	data, err := encode(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.threads[threadID]
	var seq int64 = 1
	if n := len(entries); n > 0 {
		seq = entries[n-1].meta.Seq + 1
	}
	meta, err := newSnapshot(threadID, stage, seq, state, data)
	if err != nil {
		return err
	}
	m.threads[threadID] = append(entries, memoryEntry{meta: meta, data: data})
	return nil
}

// Load implements [Store].
func (m *MemoryStore) Load(_ context.Context, threadID string) (*conversation.State, error) {
	m.mu.RLock()
	entries := m.threads[threadID]
	var data []byte
	if n := len(entries); n > 0 {
		data = entries[n-1].data
	}
	m.mu.RUnlock()

	if data == nil {
		return nil, ErrNotFound
	}
	return decode(data)
}

// History implements [Store].
func (m *MemoryStore) History(_ context.Context, threadID string, limit int) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.threads[threadID]
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	var out []Snapshot
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i].meta)
	}
	return out, nil
}

// Threads implements [Store].
func (m *MemoryStore) Threads(_ context.Context) ([]ThreadInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ThreadInfo, 0, len(m.threads))
	for id, entries := range m.threads {
		out = append(out, ThreadInfo{
			ID:        id,
			UpdatedAt: entries[len(entries)-1].meta.CreatedAt,
			Snapshots: len(entries),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Prune implements [Store].
func (m *MemoryStore) Prune(_ context.Context, threadID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.threads[threadID]
	if len(entries) <= keep {
		return 0, nil
	}
	removed := len(entries) - keep
	m.threads[threadID] = append([]memoryEntry(nil), entries[removed:]...)
	return removed, nil
}

// Delete implements [Store].
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[threadID]; !ok {
		return ErrNotFound
	}
	delete(m.threads, threadID)
	return nil
}

// Close implements [Store].
func (m *MemoryStore) Close() error {
	return nil
}
