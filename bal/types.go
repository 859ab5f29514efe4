// Package bal implements the EIP-7928 Block Access List: the execution-side
// observer that records per-transaction storage/balance/nonce/code touches
// with net-zero filtering and checkpoint/restore semantics (spec §3.8, §4.4).
package bal

import (
	"github.com/holiman/uint256"

	"github.com/ethnova/statecore/types"
)

// SlotValueChange is one write to a storage slot, tagged with the block
// access index of the transaction (or phase) that produced it.
type SlotValueChange struct {
	BlockAccessIndex uint16
	NewValue         *uint256.Int
}

// SlotChange groups every write to a single storage slot across the block.
type SlotChange struct {
	Slot    *uint256.Int
	Changes []SlotValueChange
}

// BalanceChange is a post-transaction balance snapshot tagged by index.
type BalanceChange struct {
	BlockAccessIndex uint16
	PostBalance      *uint256.Int
}

// NonceChange is a post-transaction nonce snapshot tagged by index.
type NonceChange struct {
	BlockAccessIndex uint16
	PostNonce        uint64
}

// CodeChange is a code replacement tagged by index.
type CodeChange struct {
	BlockAccessIndex uint16
	NewCode          []byte
}

// AccountChanges collects every recorded access for one address (spec
// §3.8). Field order matches the RLP wire tuple (§6.3):
// [address, storage_changes, storage_reads, balance_changes, nonce_changes, code_changes].
type AccountChanges struct {
	Address        types.Address
	StorageChanges []SlotChange
	StorageReads   []*uint256.Int
	BalanceChanges []BalanceChange
	NonceChanges   []NonceChange
	CodeChanges    []CodeChange
}

// BlockAccessList is an ordered set of AccountChanges, sorted ascending by
// address.
type BlockAccessList struct {
	Accounts []AccountChanges
}
