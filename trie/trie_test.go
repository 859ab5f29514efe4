package trie

import (
	"testing"

	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/types"
)

type memStore struct {
	committed map[string][]byte
	staged    map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{committed: make(map[string][]byte), staged: make(map[string][]byte)}
}

func (m *memStore) Get(path []byte) ([]byte, bool, error) {
	if blob, ok := m.staged[string(path)]; ok {
		return blob, true, nil
	}
	blob, ok := m.committed[string(path)]
	return blob, ok, nil
}

func (m *memStore) PutBatch(entries []PutEntry) error {
	for _, e := range entries {
		m.staged[string(e.Path)] = e.Blob
	}
	return nil
}

func (m *memStore) Commit() error {
	for p, blob := range m.staged {
		m.committed[p] = blob
	}
	m.staged = make(map[string][]byte)
	return nil
}

func numberedKVs(n int) []KeyValue {
	kvs := make([]KeyValue, n)
	for i := 0; i < n; i++ {
		key := crypto.Keccak256([]byte{byte(i)})
		kvs[i] = KeyValue{Key: key, Value: []byte{byte(i + 1), byte(i)}}
	}
	return kvs
}

// TestInsertRemoveSymmetry is scenario S2: inserting and then removing the
// same 100 keys must return the trie to the canonical empty root.
func TestInsertRemoveSymmetry(t *testing.T) {
	store := newMemStore()
	tr := Open(store, EmptyRootHash())
	kvs := numberedKVs(100)
	for _, kv := range kvs {
		if err := tr.Insert(kv.Key, kv.Value); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := tr.Hash(); err != nil {
		t.Fatalf("hash after insert: %v", err)
	}
	for _, kv := range kvs {
		if _, err := tr.Remove(kv.Key); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	root, err := tr.Hash()
	if err != nil {
		t.Fatalf("hash after remove: %v", err)
	}
	if root != EmptyRootHash() {
		t.Fatalf("root after full removal = %x, want empty root %x", root, EmptyRootHash())
	}
}

// TestBatchedVsSequential is scenario S3: batched and one-at-a-time
// application of the same key set must converge to the same root.
func TestBatchedVsSequential(t *testing.T) {
	kvs := numberedKVs(100)

	seqStore := newMemStore()
	seq := Open(seqStore, EmptyRootHash())
	for _, kv := range kvs {
		if err := seq.Insert(kv.Key, kv.Value); err != nil {
			t.Fatalf("sequential insert: %v", err)
		}
	}
	seqRoot, err := seq.Hash()
	if err != nil {
		t.Fatalf("sequential hash: %v", err)
	}

	batchStore := newMemStore()
	batch := Open(batchStore, EmptyRootHash())
	if err := batch.InsertBatchSorted(kvs); err != nil {
		t.Fatalf("batched insert: %v", err)
	}
	batchRoot, err := batch.Hash()
	if err != nil {
		t.Fatalf("batched hash: %v", err)
	}

	if seqRoot != batchRoot {
		t.Fatalf("sequential root %x != batched root %x", seqRoot, batchRoot)
	}
}

// TestBatchedInsertSharesSubtreeTraversal exercises the grouped batch
// traversal directly: keys that share a long common prefix (and so share
// every intermediate node down to the point they diverge) must still
// produce a tree identical to inserting them one at a time, whether the
// shared subtree is built fresh or split out of an existing branch.
func TestBatchedInsertSharesSubtreeTraversal(t *testing.T) {
	prefixed := func(suffix byte) []byte {
		k := make([]byte, 32)
		copy(k, crypto.Keccak256([]byte("shared-prefix-group")))
		k[31] = suffix
		return k
	}
	kvs := make([]KeyValue, 40)
	for i := range kvs {
		kvs[i] = KeyValue{Key: prefixed(byte(i)), Value: []byte{byte(i), 0xee}}
	}

	seqStore := newMemStore()
	seq := Open(seqStore, EmptyRootHash())
	for _, kv := range kvs {
		if err := seq.Insert(kv.Key, kv.Value); err != nil {
			t.Fatalf("sequential insert: %v", err)
		}
	}
	seqRoot, err := seq.Hash()
	if err != nil {
		t.Fatalf("sequential hash: %v", err)
	}

	batchStore := newMemStore()
	batch := Open(batchStore, EmptyRootHash())
	if err := batch.InsertBatchSorted(kvs); err != nil {
		t.Fatalf("batched insert: %v", err)
	}
	batchRoot, err := batch.Hash()
	if err != nil {
		t.Fatalf("batched hash: %v", err)
	}
	if seqRoot != batchRoot {
		t.Fatalf("sequential root %x != batched root %x", seqRoot, batchRoot)
	}

	// A second batch that both removes half the group and inserts fresh
	// keys sharing the same prefix must still match sequential remove-
	// then-insert, exercising batchDelete's and batchInsert's grouped
	// split logic against an already-committed subtree in one call.
	var mixed []KeyValue
	for i, kv := range kvs {
		if i%2 == 0 {
			mixed = append(mixed, KeyValue{Key: kv.Key}) // empty value == removal
		}
	}
	for i := 40; i < 50; i++ {
		mixed = append(mixed, KeyValue{Key: prefixed(byte(i)), Value: []byte{byte(i), 0xff}})
	}

	seq2 := Open(seqStore, seqRoot)
	for _, u := range mixed {
		if len(u.Value) == 0 {
			if _, err := seq2.Remove(u.Key); err != nil {
				t.Fatalf("sequential remove: %v", err)
			}
			continue
		}
		if err := seq2.Insert(u.Key, u.Value); err != nil {
			t.Fatalf("sequential insert: %v", err)
		}
	}
	seqRoot2, err := seq2.Hash()
	if err != nil {
		t.Fatalf("sequential hash 2: %v", err)
	}

	batch2 := Open(batchStore, batchRoot)
	if err := batch2.InsertBatchSorted(mixed); err != nil {
		t.Fatalf("batched mixed update: %v", err)
	}
	batchRoot2, err := batch2.Hash()
	if err != nil {
		t.Fatalf("batched hash 2: %v", err)
	}
	if seqRoot2 != batchRoot2 {
		t.Fatalf("sequential root %x != batched root %x after mixed update", seqRoot2, batchRoot2)
	}
}

// TestProofOfAbsence is scenario S4: a proof for a key that was never
// inserted must verify as absent rather than error.
func TestProofOfAbsence(t *testing.T) {
	store := newMemStore()
	tr := Open(store, EmptyRootHash())
	k0 := crypto.Keccak256([]byte{0})
	k1 := crypto.Keccak256([]byte{1})
	k2 := crypto.Keccak256([]byte{2})

	if err := tr.Insert(k0, []byte{0xaa}); err != nil {
		t.Fatalf("insert k0: %v", err)
	}
	if err := tr.Insert(k2, []byte{0xbb}); err != nil {
		t.Fatalf("insert k2: %v", err)
	}
	root, err := tr.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	proof, err := tr.GetProof(k1)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if len(proof) == 0 {
		t.Fatal("expected a non-empty proof of absence")
	}
	val, err := VerifyProof(root, k1, proof)
	if err != nil {
		t.Fatalf("verify proof: %v", err)
	}
	if val != nil {
		t.Fatalf("expected absence (nil value), got %x", val)
	}
}

// TestInlineVsHashedChildRoundTrip exercises I-TR mixing of inline (<32
// byte encoding) and hashed child references by reopening a committed trie
// and re-reading every key.
func TestInlineVsHashedChildRoundTrip(t *testing.T) {
	store := newMemStore()
	tr := Open(store, EmptyRootHash())
	kvs := numberedKVs(20)
	for _, kv := range kvs {
		if err := tr.Insert(kv.Key, kv.Value); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	root, err := tr.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	reopened := Open(store, root)
	for _, kv := range kvs {
		got, err := reopened.Get(kv.Key)
		if err != nil {
			t.Fatalf("get %x: %v", kv.Key, err)
		}
		if string(got) != string(kv.Value) {
			t.Fatalf("get %x = %x, want %x", kv.Key, got, kv.Value)
		}
	}
}

func TestEmptyTrieRoot(t *testing.T) {
	if EmptyRootHash() != types.EmptyRootHash {
		t.Fatalf("trie.EmptyRootHash() = %x, want types.EmptyRootHash %x", EmptyRootHash(), types.EmptyRootHash)
	}
}
