package source

import (
	"context"
	"sort"
	"sync"

	"github.com/kamusis/modres/internal/manifest"
)

// Memory is an in-memory source. Entries added before Watch are replayed in
// entry id order, followed by one idle signal; later calls are delivered to
// the handler synchronously.
type Memory struct {
	mu      sync.Mutex
	h       Handler
	entries map[string]manifest.Entry
}

// NewMemory returns a Memory source seeded with entries.
func NewMemory(entries map[string]manifest.Entry) *Memory {
	m := &Memory{entries: make(map[string]manifest.Entry, len(entries))}
	for id, e := range entries {
		m.entries[id] = e.Clone()
	}
	return m
}

func (m *Memory) Watch(_ context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = h

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.OnNewEntry(id, m.entries[id].Clone())
	}
	h.OnIdle()
	return nil
}

// Add stores e under entryID and notifies the handler, if attached.
func (m *Memory) Add(entryID string, e manifest.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entryID] = e.Clone()
	if m.h != nil {
		m.h.OnNewEntry(entryID, e.Clone())
	}
}

// Remove deletes entryID and notifies the handler, if attached.
func (m *Memory) Remove(entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entryID)
	if m.h != nil {
		m.h.OnRemovedEntry(entryID)
	}
}

// Idle sends an extra idle signal to the handler, if attached.
func (m *Memory) Idle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.h != nil {
		m.h.OnIdle()
	}
}

// Len returns the number of entries held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = nil
	return nil
}
