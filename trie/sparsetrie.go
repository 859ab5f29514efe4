package trie

import (
	"bytes"

	"github.com/ethnova/statecore/types"
)

// sparseSplitDepth is K from spec §4.2: paths shorter than this live in the
// "upper" map, everything else in "lower". The split has no effect on
// correctness; it only changes which map a path's last-seen encoding is
// filed under.
const sparseSplitDepth = 2

// sparseStoreAdapter drives the core Trie engine against a caller-supplied
// provider while capturing every write CollectUpdates would need to report,
// instead of letting Trie.Hash commit them straight to the provider.
type sparseStoreAdapter struct {
	provider NodeStore
	puts     []PutEntry
}

func (a *sparseStoreAdapter) Get(path []byte) ([]byte, bool, error) { return a.provider.Get(path) }

func (a *sparseStoreAdapter) PutBatch(entries []PutEntry) error {
	a.puts = append(a.puts, entries...)
	return nil
}

func (a *sparseStoreAdapter) Commit() error { return nil }

// SparseTrie is a lazily-revealed view of an MPT (spec §3.7, §4.2): only the
// nodes touched by RevealRoot/UpdateLeaf/RemoveLeaf are ever resolved, split
// across an "upper" map (paths shorter than sparseSplitDepth) and a "lower"
// map (everything else), with a PrefixSet recording which paths changed
// since the trie was revealed. It produces the same root hash as a plain
// Trie opened on the same store and content.
type SparseTrie struct {
	upper map[string][]byte
	lower map[string][]byte
	dirty *PrefixSet

	trie  *Trie
	store *sparseStoreAdapter
}

// NewSparseTrie returns a SparseTrie with nothing revealed yet; call
// RevealRoot before Update/Remove/CollectUpdates.
func NewSparseTrie() *SparseTrie {
	return &SparseTrie{
		upper: make(map[string][]byte),
		lower: make(map[string][]byte),
		dirty: NewPrefixSet(),
	}
}

// RevealRoot seeds the trie at rootHash against provider. Per spec §4.1
// "Opening never accesses the store", nothing is fetched here; node bodies
// are resolved on demand as UpdateLeaf/RemoveLeaf/CollectUpdates touch them.
func (s *SparseTrie) RevealRoot(rootHash types.Hash, provider NodeStore) {
	s.store = &sparseStoreAdapter{provider: provider}
	s.trie = Open(s.store, rootHash)
	s.upper = make(map[string][]byte)
	s.lower = make(map[string][]byte)
	s.dirty = NewPrefixSet()
}

func (s *SparseTrie) mapFor(path []byte) map[string][]byte {
	if len(path) < sparseSplitDepth {
		return s.upper
	}
	return s.lower
}

// UpdateLeaf inserts or overwrites key=value, marking every prefix of key's
// nibble path dirty so a later CollectUpdates knows to revisit it.
func (s *SparseTrie) UpdateLeaf(key, value []byte) error {
	if err := s.trie.Insert(key, value); err != nil {
		return err
	}
	s.markDirty(key)
	return nil
}

// RemoveLeaf deletes key, returning its prior value if any.
func (s *SparseTrie) RemoveLeaf(key []byte) ([]byte, error) {
	prev, err := s.trie.Remove(key)
	if err != nil {
		return nil, err
	}
	s.markDirty(key)
	return prev, nil
}

func (s *SparseTrie) markDirty(key []byte) {
	path := keybytesToHex(key)
	for i := 0; i <= len(path); i++ {
		s.dirty.Insert(path[:i])
	}
}

// Contains reports whether path overlaps the modified-path set: true when
// path is a prefix of some dirtied path, or some dirtied path is a prefix
// of path (spec §4.2).
func (s *SparseTrie) Contains(path []byte) bool {
	return s.dirty.Contains(path)
}

// CollectUpdates hashes the trie and returns the new root plus every
// (path, encoded-node) pair that changed relative to what RevealRoot's
// provider served. Nodes whose encoding is unchanged are skipped, so
// layering the result over the existing store reopens to the same trie
// (spec §4.2).
func (s *SparseTrie) CollectUpdates() (types.Hash, []PutEntry, error) {
	root, err := s.trie.Hash()
	if err != nil {
		return types.Hash{}, nil, err
	}
	var out []PutEntry
	for _, e := range s.store.puts {
		s.mapFor(e.Path)[string(e.Path)] = e.Blob
		prev, found, err := s.store.provider.Get(e.Path)
		if err != nil {
			return types.Hash{}, nil, newStoreErr(e.Path, err)
		}
		if found && bytes.Equal(prev, e.Blob) {
			continue
		}
		out = append(out, e)
	}
	s.store.puts = nil
	return root, out, nil
}

// PendingCount returns the number of dirty-path insertions recorded since
// RevealRoot: every UpdateLeaf/RemoveLeaf adds each prefix of its key's
// nibble path, so a prefix shared by several keys is counted once per key.
// CollectUpdates does not reset it.
func (s *SparseTrie) PendingCount() int {
	return s.dirty.Len()
}
