package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/log"
	"github.com/ethnova/statecore/metrics"
	"github.com/ethnova/statecore/trie"
	"github.com/ethnova/statecore/types"
)

var (
	pipelineLog = log.Default().Module("state.pipeline")

	applyCount    = metrics.DefaultRegistry.Counter("state.pipeline.applies")
	applyDuration = metrics.DefaultRegistry.Histogram("state.pipeline.apply.duration_ms")
)

// AccountUpdate is one account's delta for a single Apply call (spec
// §4.3). A field's zero value means "leave unchanged" except where a
// companion *Set flag says otherwise; Removed takes precedence over every
// other field, including StorageUpdates, per spec.md §9 open question 3.
type AccountUpdate struct {
	Address types.Address
	Removed bool

	NonceSet bool
	Nonce    uint64

	BalanceSet bool
	Balance    *uint256.Int

	// CodeSet introduces a new code body. Code is hashed to produce the
	// account's CodeHash; the (hash, bytes) pair is returned in Apply's
	// codeWrites so the caller can persist it alongside the trie batch.
	CodeSet bool
	Code    []byte

	// StorageUpdates maps a raw (unhashed) 32-byte slot key to its new
	// value. A zero value removes the slot.
	StorageUpdates map[types.Hash]*uint256.Int
}

// Apply runs the state update pipeline: it opens the state trie at
// prevRoot, applies every update's storage changes and account info delta,
// and returns the new state root. Each touched storage trie is hashed and
// committed to store as soon as its storage updates are applied, and the
// state trie is committed last; these are separate store commits, not one
// atomic write. Any inconsistency aborts the pipeline and returns the
// underlying *trie.TrieError with Kind InconsistentTree; storage tries
// committed before the failing step stay in the store.
func Apply(prevRoot types.Hash, updates []AccountUpdate, store trie.NodeStore) (types.Hash, map[types.Address]types.Hash, map[types.Hash][]byte, error) {
	timer := metrics.NewTimer(applyDuration)
	defer timer.Stop()

	stateTrie := trie.Open(store, prevRoot)
	storageRoots := make(map[types.Address]types.Hash)
	codeWrites := make(map[types.Hash][]byte)

	hashedAddr := func(addr types.Address) []byte {
		return crypto.Keccak256(addr.Bytes())
	}

	// Storage pass: every update that touches storage, or removes the
	// account outright, gets its new storage root resolved first so the
	// account pass below can fold it straight into AccountState.
	for _, u := range updates {
		switch {
		case u.Removed:
			storageRoots[u.Address] = trie.EmptyRootHash()
		case len(u.StorageUpdates) > 0:
			prev, err := loadAccount(stateTrie, hashedAddr(u.Address))
			if err != nil {
				return types.Hash{}, nil, nil, err
			}
			storageTrie := trie.Open(store, prev.StorageRoot)
			for slot, value := range u.StorageUpdates {
				slotKey := crypto.Keccak256(slot.Bytes())
				if value == nil || value.IsZero() {
					if _, err := storageTrie.Remove(slotKey); err != nil {
						return types.Hash{}, nil, nil, err
					}
					continue
				}
				enc, err := encodeStorageValue(value)
				if err != nil {
					return types.Hash{}, nil, nil, err
				}
				if err := storageTrie.Insert(slotKey, enc); err != nil {
					return types.Hash{}, nil, nil, err
				}
			}
			newRoot, err := storageTrie.Hash()
			if err != nil {
				return types.Hash{}, nil, nil, err
			}
			storageRoots[u.Address] = newRoot
		}
	}

	// Account pass: fold the info delta and the storage root computed
	// above (if any) into each account's record.
	for _, u := range updates {
		key := hashedAddr(u.Address)
		if u.Removed {
			if _, err := stateTrie.Remove(key); err != nil {
				return types.Hash{}, nil, nil, err
			}
			continue
		}
		acct, err := loadAccount(stateTrie, key)
		if err != nil {
			return types.Hash{}, nil, nil, err
		}
		if u.NonceSet {
			acct.Nonce = u.Nonce
		}
		if u.BalanceSet {
			acct.Balance = u.Balance
		}
		if u.CodeSet {
			codeHash := crypto.Keccak256Hash(u.Code)
			acct.CodeHash = codeHash
			if len(u.Code) > 0 {
				codeWrites[codeHash] = append([]byte(nil), u.Code...)
			}
		}
		if root, ok := storageRoots[u.Address]; ok {
			acct.StorageRoot = root
		}
		if acct.IsEmpty() {
			if _, err := stateTrie.Remove(key); err != nil {
				return types.Hash{}, nil, nil, err
			}
			continue
		}
		enc, err := trie.EncodeAccount(acct)
		if err != nil {
			return types.Hash{}, nil, nil, err
		}
		if err := stateTrie.Insert(key, enc); err != nil {
			return types.Hash{}, nil, nil, err
		}
	}

	newRoot, err := stateTrie.Hash()
	if err != nil {
		return types.Hash{}, nil, nil, fmt.Errorf("state: commit state trie: %w", err)
	}
	applyCount.Inc()
	pipelineLog.Debug("state pipeline apply", "root", newRoot.Hex(), "accounts_touched", len(updates), "storage_roots", len(storageRoots), "code_writes", len(codeWrites))
	return newRoot, storageRoots, codeWrites, nil
}
