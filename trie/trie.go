package trie

import (
	"bytes"
	"sort"

	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/log"
	"github.com/ethnova/statecore/metrics"
	"github.com/ethnova/statecore/rlp"
	"github.com/ethnova/statecore/types"
)

var (
	trieLog = log.Default().Module("trie")

	commitCount    = metrics.DefaultRegistry.Counter("trie.commits")
	commitDuration = metrics.DefaultRegistry.Histogram("trie.commit.duration_ms")
	dirtySetSize   = metrics.DefaultRegistry.Histogram("trie.commit.dirty_entries")
)

// emptyRoot is the root hash of an empty trie: Keccak256(RLP("")) (I-TR5).
var emptyRoot = crypto.Keccak256Hash(func() []byte {
	b, _ := rlp.EncodeToBytes([]byte{})
	return b
}())

// EmptyRootHash exposes emptyRoot to callers outside the package.
func EmptyRootHash() types.Hash { return emptyRoot }

// Trie is a hex-nibble Merkle Patricia Trie backed by a pluggable
// NodeStore (C1, spec §4.1). Node resolution is authenticated: fetching
// the node a hashNode points to cross-checks keccak(fetched bytes) against
// that hash before the bytes are trusted.
type Trie struct {
	root node
	db   NodeStore

	// dirty holds (path -> encoding) pairs produced since the last Commit;
	// an empty slice marks a deletion. This is the staging buffer spec §9
	// describes in place of a mutable-reference node graph: structural
	// diffs are collected and flushed as one batch.
	dirty map[string][]byte
}

// New creates a new, empty trie with no backing store. It can be used for
// pure in-memory computation (e.g. tests) but Get on a trie with any
// hash-referenced subtree will fail with InconsistentTree since there is no
// store to resolve against.
func New() *Trie {
	return &Trie{dirty: make(map[string][]byte)}
}

// Open opens a trie at rootHash against store. If rootHash equals the
// empty-trie hash the root is the Empty state; otherwise it is a Hash
// reference that is resolved lazily. Opening never accesses the store.
func Open(store NodeStore, rootHash types.Hash) *Trie {
	t := &Trie{db: store, dirty: make(map[string][]byte)}
	if rootHash != emptyRoot {
		t.root = hashNode(append([]byte(nil), rootHash[:]...))
	}
	return t
}

// resolve dereferences a hashNode at the given path against the backing
// store, authenticating the fetched bytes against the hash. Any other node
// kind is returned unchanged.
func (t *Trie) resolve(n node, path []byte) (node, error) {
	hn, ok := n.(hashNode)
	if !ok {
		return n, nil
	}
	if t.db == nil {
		return nil, newInconsistentErr(path, errNoStore)
	}
	blob, found, err := t.db.Get(path)
	if err != nil {
		return nil, newStoreErr(path, err)
	}
	if !found {
		return nil, newInconsistentErr(path, errMissingNode(hn))
	}
	got := crypto.Keccak256(blob)
	if !bytes.Equal(got, []byte(hn)) {
		return nil, newInconsistentErr(path, errHashMismatch(hn, got))
	}
	dn, err := decodeNode(append([]byte(nil), hn...), blob)
	if err != nil {
		return nil, newDecodeErr(path, err)
	}
	return dn, nil
}

// Get retrieves the value associated with key, an authenticated lookup
// against the backing store. Returns ErrNotFound if the key is absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	if len(key) > 32 {
		return nil, newInputErr(errKeyTooLong)
	}
	value, found, err := t.get(t.root, keybytesToHex(key), nil)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *Trie) get(n node, key []byte, path []byte) ([]byte, bool, error) {
	n, err := t.resolve(n, path)
	if err != nil {
		return nil, false, err
	}
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case valueNode:
		return []byte(n), true, nil
	case *shortNode:
		if len(key) < len(n.Key) || !keysEqual(n.Key, key[:len(n.Key)]) {
			return nil, false, nil
		}
		return t.get(n.Val, key[len(n.Key):], append(path, n.Key...))
	case *fullNode:
		if len(key) == 0 {
			return t.get(n.Children[16], key, path)
		}
		return t.get(n.Children[key[0]], key[1:], append(append([]byte(nil), path...), key[0]))
	default:
		return nil, false, nil
	}
}

// Insert inserts or updates a key-value pair. value must be non-empty; an
// empty value is rejected (use Remove for deletion).
func (t *Trie) Insert(key, value []byte) error {
	if len(key) > 32 {
		return newInputErr(errKeyTooLong)
	}
	if len(value) == 0 {
		return newInputErr(errEmptyValue)
	}
	k := keybytesToHex(key)
	n, err := t.insert(t.root, nil, k, valueNode(value))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *Trie) insert(n node, path, key []byte, value node) (node, error) {
	n, err := t.resolve(n, path)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		if v, ok := n.(valueNode); ok && keysEqual(v, value.(valueNode)) {
			return v, nil
		}
		return value, nil
	}

	switch n := n.(type) {
	case nil:
		return &shortNode{Key: key, Val: value, flags: nodeFlag{dirty: true}}, nil

	case *shortNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen == len(n.Key) {
			nn, err := t.insert(n.Val, concat(path, key[:matchLen]), key[matchLen:], value)
			if err != nil {
				return nil, err
			}
			return &shortNode{Key: n.Key, Val: nn, flags: nodeFlag{dirty: true}}, nil
		}
		branch := &fullNode{flags: nodeFlag{dirty: true}}
		existingChild, err := t.insert(nil, concat(path, n.Key[:matchLen+1]), n.Key[matchLen+1:], n.Val)
		if err != nil {
			return nil, err
		}
		branch.Children[n.Key[matchLen]] = existingChild
		newChild, err := t.insert(nil, concat(path, key[:matchLen+1]), key[matchLen+1:], value)
		if err != nil {
			return nil, err
		}
		branch.Children[key[matchLen]] = newChild
		if matchLen > 0 {
			return &shortNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
		}
		return branch, nil

	case *fullNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		if len(key) == 0 {
			nn.Children[16] = value
			return nn, nil
		}
		child, err := t.insert(n.Children[key[0]], concat(path, key[:1]), key[1:], value)
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child
		return nn, nil

	default:
		return nil, newInconsistentErr(path, errUnknownNode)
	}
}

// InsertBatchSorted applies a batch of (key, value) updates in one
// structural traversal per subtree (spec §4.1 "Batched insert"): updates
// are deduplicated by key (last write wins), entries with an empty value
// are processed as removals before the remaining structural inserts, and
// each pass descends the trie once, splitting the sorted update group by
// shared subtree prefix instead of re-walking from the root per key.
// Result is byte-identical to applying the same logical operations
// one-by-one via Insert/Remove (G, property 1 in spec §8).
func (t *Trie) InsertBatchSorted(updates []KeyValue) error {
	dedup := make(map[string]KeyValue, len(updates))
	for _, u := range updates {
		if len(u.Key) > 32 {
			return newInputErr(errKeyTooLong)
		}
		dedup[string(u.Key)] = u
	}

	var removals, inserts []batchItem
	for _, u := range dedup {
		hex := keybytesToHex(u.Key)
		if len(u.Value) == 0 {
			removals = append(removals, batchItem{key: hex})
			continue
		}
		inserts = append(inserts, batchItem{key: hex, value: valueNode(u.Value)})
	}

	sortBatchItems(removals)
	sortBatchItems(inserts)

	if len(removals) > 0 {
		n, err := t.batchDelete(t.root, nil, 0, removals)
		if err != nil {
			return err
		}
		t.root = n
	}
	if len(inserts) > 0 {
		n, err := t.batchInsert(t.root, nil, 0, inserts)
		if err != nil {
			return err
		}
		t.root = n
	}
	return nil
}

func sortBatchItems(items []batchItem) {
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].key, items[j].key) < 0
	})
}

// KeyValue is a single update in an InsertBatchSorted call. An empty Value
// denotes a removal.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Remove deletes key from the trie, returning the prior value if any. If
// the key does not exist, Remove is a no-op and returns (nil, nil).
//
// After removal the engine collapses any branch left with a single
// remaining child into an extension or leaf (I-TR3), per spec §4.1.
func (t *Trie) Remove(key []byte) ([]byte, error) {
	if len(key) > 32 {
		return nil, newInputErr(errKeyTooLong)
	}
	k := keybytesToHex(key)
	prior, found, err := t.get(t.root, k, nil)
	if err != nil {
		return nil, err
	}
	n, err := t.delete(t.root, nil, k)
	if err != nil {
		return nil, err
	}
	t.root = n
	if !found {
		return nil, nil
	}
	return prior, nil
}

func (t *Trie) delete(n node, path, key []byte) (node, error) {
	n, err := t.resolve(n, path)
	if err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case nil:
		return nil, nil

	case *shortNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen < len(n.Key) {
			return n, nil
		}
		if matchLen == len(key) {
			return nil, nil
		}
		child, err := t.delete(n.Val, concat(path, key[:len(n.Key)]), key[len(n.Key):])
		if err != nil {
			return nil, err
		}
		switch child := child.(type) {
		case nil:
			return nil, nil
		case *shortNode:
			return &shortNode{Key: concat(n.Key, child.Key), Val: child.Val, flags: nodeFlag{dirty: true}}, nil
		default:
			return &shortNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}

	case *fullNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		if len(key) == 0 {
			nn.Children[16] = nil
		} else {
			child, err := t.delete(n.Children[key[0]], concat(path, key[:1]), key[1:])
			if err != nil {
				return nil, err
			}
			nn.Children[key[0]] = child
		}
		return t.collapseFullNode(nn, path)

	case valueNode:
		if len(key) == 0 {
			return nil, nil
		}
		return n, nil

	default:
		return nil, newInconsistentErr(path, errUnknownNode)
	}
}

// Hash flushes pending changes to the backing store (if any) and returns
// the root hash. HashNoCommit returns the hash without writing anything.
func (t *Trie) Hash() (types.Hash, error) {
	return t.hash(true)
}

// HashNoCommit computes the root hash without staging or flushing writes.
func (t *Trie) HashNoCommit() (types.Hash, error) {
	return t.hash(false)
}

func (t *Trie) hash(commit bool) (types.Hash, error) {
	if t.root == nil {
		return emptyRoot, nil
	}
	h := newHasher()
	var staged map[string][]byte
	if commit {
		staged = make(map[string][]byte)
	}
	hashed, cached, err := t.hashAndCollect(h, t.root, nil, staged)
	if err != nil {
		return types.Hash{}, err
	}
	t.root = cached
	var rootHash types.Hash
	switch n := hashed.(type) {
	case hashNode:
		rootHash = types.BytesToHash(n)
	default:
		enc, _ := encodeNode(hashed)
		rootHash = crypto.Keccak256Hash(enc)
	}
	if commit {
		for p, blob := range staged {
			t.dirty[p] = blob
		}
		if err := t.flush(); err != nil {
			return types.Hash{}, err
		}
		trieLog.Debug("trie commit", "root", rootHash.Hex(), "nodes_hashed", len(staged), "node_count", t.Len())
	}
	return rootHash, nil
}

// hashAndCollect mirrors hasher.hash/hashChildren but also records the
// (path, encoding) of every freshly-hashed node into staged, giving the
// structural-diff staging buffer spec §9 recommends instead of a mutable
// node graph.
func (t *Trie) hashAndCollect(h *hasher, n node, path []byte, staged map[string][]byte) (node, node, error) {
	if hash, dirty := n.cache(); hash != nil && !dirty {
		return hash, n, nil
	}
	collapsed, cached, err := t.hashChildrenAndCollect(h, n, path, staged)
	if err != nil {
		return nil, nil, err
	}
	hashedOrInline, err := h.store(collapsed, len(path) == 0)
	if err != nil {
		return nil, nil, newDecodeErr(path, err)
	}
	if staged != nil {
		if hn, ok := hashedOrInline.(hashNode); ok {
			enc, _ := encodeNode(collapsed)
			staged[string(path)] = enc
			switch cn := cached.(type) {
			case *shortNode:
				cn.flags.hash = hn
				cn.flags.dirty = false
			case *fullNode:
				cn.flags.hash = hn
				cn.flags.dirty = false
			}
		}
	}
	return hashedOrInline, cached, nil
}

func (t *Trie) hashChildrenAndCollect(h *hasher, original node, path []byte, staged map[string][]byte) (node, node, error) {
	switch n := original.(type) {
	case *shortNode:
		resolved, err := t.resolve(n.Val, concat(path, n.Key))
		if err != nil {
			return nil, nil, err
		}
		collapsed, cached := n.copy(), n.copy()
		cached.Val = resolved
		collapsed.Key = hexToCompact(n.Key)
		if _, ok := resolved.(valueNode); !ok {
			childH, childC, err := t.hashAndCollect(h, resolved, concat(path, n.Key), staged)
			if err != nil {
				return nil, nil, err
			}
			collapsed.Val = childH
			cached.Val = childC
		} else {
			collapsed.Val = resolved
		}
		return collapsed, cached, nil
	case *fullNode:
		collapsed, cached := n.copy(), n.copy()
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			childPath := concat(path, []byte{byte(i)})
			resolved, err := t.resolve(n.Children[i], childPath)
			if err != nil {
				return nil, nil, err
			}
			childH, childC, err := t.hashAndCollect(h, resolved, childPath, staged)
			if err != nil {
				return nil, nil, err
			}
			collapsed.Children[i] = childH
			cached.Children[i] = childC
		}
		return collapsed, cached, nil
	default:
		return n, n, nil
	}
}

// flush writes the staged dirty set to the backing store as one batch and
// commits it, then clears the staging buffer. A trie with no store is a
// pure in-memory computation and flush is a no-op.
func (t *Trie) flush() error {
	if t.db == nil || len(t.dirty) == 0 {
		return nil
	}
	dirtySetSize.Observe(float64(len(t.dirty)))
	entries := make([]PutEntry, 0, len(t.dirty))
	for p, blob := range t.dirty {
		entries = append(entries, PutEntry{Path: []byte(p), Blob: blob})
	}
	timer := metrics.NewTimer(commitDuration)
	if err := t.db.PutBatch(entries); err != nil {
		return newStoreErr(nil, err)
	}
	if err := t.db.Commit(); err != nil {
		return newStoreErr(nil, err)
	}
	timer.Stop()
	commitCount.Inc()
	trieLog.Debug("trie flush", "dirty_entries", len(entries))
	t.dirty = make(map[string][]byte)
	return nil
}

// Len returns the number of key-value pairs reachable from the root
// without resolving any hash node (O(n) over the in-memory portion only).
func (t *Trie) Len() int {
	return countValues(t.root)
}

// Empty returns true if the trie has no entries.
func (t *Trie) Empty() bool {
	return t.root == nil
}

func countValues(n node) int {
	switch n := n.(type) {
	case nil:
		return 0
	case valueNode:
		return 1
	case *shortNode:
		return countValues(n.Val)
	case *fullNode:
		count := 0
		for i := 0; i < 17; i++ {
			count += countValues(n.Children[i])
		}
		return count
	default:
		return 0
	}
}

func keysEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

func concat(a, b []byte) []byte {
	r := make([]byte, len(a)+len(b))
	copy(r, a)
	copy(r[len(a):], b)
	return r
}
