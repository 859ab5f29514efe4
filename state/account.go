// Package state implements the state update pipeline (C3): applying a
// batch of per-account deltas to the state trie and its per-account
// storage tries, producing a new state root. Each trie's nodes are
// committed to the store separately, not in one atomic write.
package state

import (
	"github.com/holiman/uint256"

	"github.com/ethnova/statecore/rlp"
	"github.com/ethnova/statecore/trie"
	"github.com/ethnova/statecore/types"
)

// loadAccount reads and decodes the account at hashedAddr from t, returning
// the post-Merge empty account if it does not yet exist.
func loadAccount(t *trie.Trie, hashedAddr []byte) (types.AccountState, error) {
	enc, err := t.Get(hashedAddr)
	if err == trie.ErrNotFound {
		return types.EmptyAccountState(), nil
	}
	if err != nil {
		return types.AccountState{}, err
	}
	return trie.DecodeAccount(enc)
}

// encodeStorageValue RLP-encodes a storage slot value as a minimal
// big-endian integer, per spec §4.3. This is the leaf value stored in the
// storage trie, distinct from the keccak(slot_key) used as its key.
func encodeStorageValue(v *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(v.Bytes())
}

// decodeStorageValue is the inverse of encodeStorageValue.
func decodeStorageValue(enc []byte) (*uint256.Int, error) {
	var b []byte
	if err := rlp.DecodeBytes(enc, &b); err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}
