// Package triedb provides NodeStore implementations that back a trie.Trie:
// an in-memory store for tests and ephemeral computation, a clean-cache
// wrapper that fronts any store with a bounded cache of hot node blobs, and
// a Pebble-backed persistent store.
package triedb

import (
	"sync"

	"github.com/ethnova/statecore/trie"
)

// MemStore is an in-memory trie.NodeStore keyed by nibble path. Writes stage
// into an uncommitted layer and only become visible to Get once Commit
// folds them into the committed layer, mirroring the
// stage-then-commit split the backing NodeStore contract expects from
// trie.Trie.Hash.
type MemStore struct {
	mu        sync.RWMutex
	committed map[string][]byte
	staged    map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		committed: make(map[string][]byte),
		staged:    make(map[string][]byte),
	}
}

// Get implements trie.NodeStore.
func (m *MemStore) Get(path []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.committed[string(path)]
	return blob, ok, nil
}

// PutBatch implements trie.NodeStore, staging entries for the next Commit.
func (m *MemStore) PutBatch(entries []trie.PutEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.staged[string(e.Path)] = e.Blob
	}
	return nil
}

// Commit implements trie.NodeStore, folding staged writes into the
// committed layer; a staged empty blob deletes its path.
func (m *MemStore) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, blob := range m.staged {
		if len(blob) == 0 {
			delete(m.committed, p)
			continue
		}
		m.committed[p] = blob
	}
	m.staged = make(map[string][]byte)
	return nil
}

// Len returns the number of committed node entries.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.committed)
}
