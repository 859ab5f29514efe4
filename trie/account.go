package trie

import (
	"errors"

	"github.com/ethnova/statecore/rlp"
	"github.com/ethnova/statecore/types"
	"github.com/holiman/uint256"
)

// accountRLP is the wire shape of types.AccountState: a 4-item list
// [nonce, balance, storageRoot, codeHash] (spec §3.5).
type accountRLP struct {
	Nonce       uint64
	Balance     uint256.Int
	StorageRoot types.Hash
	CodeHash    types.Hash
}

// EncodeAccount RLP-encodes an account state for storage as a state-trie
// leaf value.
func EncodeAccount(a types.AccountState) ([]byte, error) {
	bal := a.Balance
	if bal == nil {
		bal = new(uint256.Int)
	}
	return rlp.EncodeToBytes(accountRLP{
		Nonce:       a.Nonce,
		Balance:     *bal,
		StorageRoot: a.StorageRoot,
		CodeHash:    a.CodeHash,
	})
}

// DecodeAccount decodes the 4-item RLP list produced by EncodeAccount.
func DecodeAccount(data []byte) (types.AccountState, error) {
	items, err := decodeRLPList(data)
	if err != nil {
		return types.AccountState{}, newDecodeErr(nil, err)
	}
	if len(items) != 4 {
		return types.AccountState{}, newDecodeErr(nil, errors.New("account: expected 4 fields"))
	}
	var a types.AccountState
	a.Nonce = decodeBytesAsUint64(items[0])
	a.Balance = new(uint256.Int).SetBytes(items[1])
	if len(items[2]) == 32 {
		copy(a.StorageRoot[:], items[2])
	} else {
		a.StorageRoot = types.EmptyRootHash
	}
	if len(items[3]) == 32 {
		copy(a.CodeHash[:], items[3])
	} else {
		a.CodeHash = types.EmptyCodeHash
	}
	return a, nil
}

func decodeBytesAsUint64(b []byte) uint64 {
	var val uint64
	for _, byt := range b {
		val = val<<8 | uint64(byt)
	}
	return val
}
