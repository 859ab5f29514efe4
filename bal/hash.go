package bal

import (
	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/rlp"
	"github.com/ethnova/statecore/types"
)

// EncodeRLP returns the deterministic RLP encoding of the access list: a
// list of AccountChanges records, each a 6-tuple per spec §6.3. An empty
// list encodes to the RLP empty-list byte, 0xc0.
func (bal *BlockAccessList) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes(bal.Accounts)
}

// ComputeHash returns keccak(RLP(BAL)). The empty BAL hashes to
// keccak(RLP([])) per spec §3.8/§5 scenario S5.
func (bal *BlockAccessList) ComputeHash() (types.Hash, error) {
	encoded, err := bal.EncodeRLP()
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}
