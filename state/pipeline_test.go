package state

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/trie"
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

func (m *memStore) PutBatch(entries []trie.PutEntry) error {
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

func TestApplyCreatesAccountWithStorage(t *testing.T) {
	store := newMemStore()
	addr := types.HexToAddress("0x1111111111111111111111111111111111111111")
	slot := types.HexToHash("0x01")

	updates := []AccountUpdate{{
		Address:        addr,
		NonceSet:       true,
		Nonce:          1,
		BalanceSet:     true,
		Balance:        uint256.NewInt(1000),
		StorageUpdates: map[types.Hash]*uint256.Int{slot: uint256.NewInt(42)},
	}}

	root, storageRoots, codeWrites, err := Apply(trie.EmptyRootHash(), updates, store)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if root == trie.EmptyRootHash() {
		t.Fatal("expected a non-empty state root")
	}
	if len(codeWrites) != 0 {
		t.Fatalf("expected no code writes, got %d", len(codeWrites))
	}
	sroot, ok := storageRoots[addr]
	if !ok || sroot == trie.EmptyRootHash() {
		t.Fatalf("expected a non-empty storage root for %x, got %v ok=%v", addr, sroot, ok)
	}

	stateTrie := trie.Open(store, root)
	hashedAddr := crypto.Keccak256(addr.Bytes())
	enc, err := stateTrie.Get(hashedAddr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acct, err := trie.DecodeAccount(enc)
	if err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Nonce != 1 || !acct.Balance.Eq(uint256.NewInt(1000)) {
		t.Fatalf("unexpected account state: %+v", acct)
	}
	if acct.StorageRoot != sroot {
		t.Fatalf("account storage root %x != reported storage root %x", acct.StorageRoot, sroot)
	}
}

// TestEmptyAccountPruned is G-C3.3: an account that ends the merge with
// zero balance, zero nonce, no code, and no storage is removed from the
// trie entirely rather than stored as an explicit empty record.
func TestEmptyAccountPruned(t *testing.T) {
	store := newMemStore()
	addr := types.HexToAddress("0x2222222222222222222222222222222222222222")

	root, _, _, err := Apply(trie.EmptyRootHash(), []AccountUpdate{{
		Address:    addr,
		NonceSet:   true,
		Nonce:      0,
		BalanceSet: true,
		Balance:    new(uint256.Int),
	}}, store)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if root != trie.EmptyRootHash() {
		t.Fatalf("expected empty-account update to leave the trie empty, got root %x", root)
	}
}

// TestRemovedAccountDropsStorage exercises spec.md §9 open question 3: a
// Removed update with non-empty StorageUpdates drops the storage entirely
// and treats the account as removed.
func TestRemovedAccountDropsStorage(t *testing.T) {
	store := newMemStore()
	addr := types.HexToAddress("0x3333333333333333333333333333333333333333")
	slot := types.HexToHash("0x01")

	root, _, _, err := Apply(trie.EmptyRootHash(), []AccountUpdate{{
		Address:        addr,
		NonceSet:       true,
		Nonce:          1,
		BalanceSet:     true,
		Balance:        uint256.NewInt(5),
		StorageUpdates: map[types.Hash]*uint256.Int{slot: uint256.NewInt(7)},
	}}, store)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	root2, storageRoots, _, err := Apply(root, []AccountUpdate{{
		Address:        addr,
		Removed:        true,
		StorageUpdates: map[types.Hash]*uint256.Int{slot: uint256.NewInt(9)},
	}}, store)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if root2 != trie.EmptyRootHash() {
		t.Fatalf("expected removal to empty the trie, got root %x", root2)
	}
	if got := storageRoots[addr]; got != trie.EmptyRootHash() {
		t.Fatalf("expected empty storage root for removed account, got %x", got)
	}
}

func TestApplyIsDeterministicAcrossOrdering(t *testing.T) {
	addrA := types.HexToAddress("0x0000000000000000000000000000000000000a")
	addrB := types.HexToAddress("0x0000000000000000000000000000000000000b")

	run := func(order []AccountUpdate) types.Hash {
		store := newMemStore()
		root, _, _, err := Apply(trie.EmptyRootHash(), order, store)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		return root
	}

	u1 := AccountUpdate{Address: addrA, NonceSet: true, Nonce: 1, BalanceSet: true, Balance: uint256.NewInt(1)}
	u2 := AccountUpdate{Address: addrB, NonceSet: true, Nonce: 2, BalanceSet: true, Balance: uint256.NewInt(2)}

	r1 := run([]AccountUpdate{u1, u2})
	r2 := run([]AccountUpdate{u2, u1})
	if r1 != r2 {
		t.Fatalf("state root depends on update ordering: %x != %x", r1, r2)
	}
}
