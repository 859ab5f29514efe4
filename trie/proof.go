package trie

import (
	"bytes"
	"errors"

	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/types"
)

// ErrProofInvalid is returned when a Merkle proof is invalid.
var ErrProofInvalid = errors.New("trie: invalid proof")

// GetProof returns the RLP encodings of each node traversed from root to
// either key's leaf or the deepest node witnessing key's absence (spec
// §4.1). The root encoding is included even when the root node is small
// enough to be stored inline.
func (t *Trie) GetProof(key []byte) ([][]byte, error) {
	if t.root == nil {
		return nil, nil
	}
	if _, err := t.Hash(); err != nil {
		return nil, err
	}
	var proof [][]byte
	_, err := t.collectProof(t.root, keybytesToHex(key), nil, &proof)
	return proof, err
}

func (t *Trie) collectProof(n node, key, path []byte, proof *[][]byte) (bool, error) {
	n, err := t.resolve(n, path)
	if err != nil {
		return false, err
	}
	switch n := n.(type) {
	case nil:
		return false, nil
	case *shortNode:
		collapsed := n.copy()
		collapsed.Key = hexToCompact(n.Key)
		childPath := concat(path, n.Key)
		resolvedVal, err := t.resolve(n.Val, childPath)
		if err != nil {
			return false, err
		}
		collapsedVal, err := t.collapseForProof(resolvedVal, childPath)
		if err != nil {
			return false, err
		}
		collapsed.Val = collapsedVal
		enc, err := encodeShortNode(collapsed)
		if err != nil {
			return false, err
		}
		*proof = append(*proof, enc)

		if len(key) < len(n.Key) || !keysEqual(n.Key, key[:len(n.Key)]) {
			return false, nil
		}
		return t.collectProof(resolvedVal, key[len(n.Key):], childPath, proof)

	case *fullNode:
		collapsed, err := t.collapseFullNodeForProof(n, path)
		if err != nil {
			return false, err
		}
		enc, err := encodeFullNode(collapsed)
		if err != nil {
			return false, err
		}
		*proof = append(*proof, enc)

		if len(key) == 0 {
			return n.Children[16] != nil, nil
		}
		childPath := concat(path, key[:1])
		return t.collectProof(n.Children[key[0]], key[1:], childPath, proof)

	case valueNode:
		return true, nil

	default:
		return false, nil
	}
}

// collapseForProof mirrors hasher.hashChildren but returns either the
// hashNode or the fully-resolved, re-encodable node (for inline children),
// walking through the store along the way so every node the proof needs is
// visited at most once.
func (t *Trie) collapseForProof(n node, path []byte) (node, error) {
	switch n := n.(type) {
	case *shortNode:
		collapsed := n.copy()
		collapsed.Key = hexToCompact(n.Key)
		childPath := concat(path, n.Key)
		resolved, err := t.resolve(n.Val, childPath)
		if err != nil {
			return nil, err
		}
		cv, err := t.collapseForProof(resolved, childPath)
		if err != nil {
			return nil, err
		}
		collapsed.Val = cv
		enc, err := encodeShortNode(collapsed)
		if err != nil {
			return nil, err
		}
		if len(enc) >= 32 {
			return hashNode(crypto.Keccak256(enc)), nil
		}
		return collapsed, nil
	case *fullNode:
		collapsed, err := t.collapseFullNodeForProof(n, path)
		if err != nil {
			return nil, err
		}
		enc, err := encodeFullNode(collapsed)
		if err != nil {
			return nil, err
		}
		if len(enc) >= 32 {
			return hashNode(crypto.Keccak256(enc)), nil
		}
		return collapsed, nil
	default:
		return n, nil
	}
}

func (t *Trie) collapseFullNodeForProof(n *fullNode, path []byte) (*fullNode, error) {
	collapsed := n.copy()
	for i := 0; i < 16; i++ {
		if n.Children[i] == nil {
			continue
		}
		childPath := concat(path, []byte{byte(i)})
		resolved, err := t.resolve(n.Children[i], childPath)
		if err != nil {
			return nil, err
		}
		cv, err := t.collapseForProof(resolved, childPath)
		if err != nil {
			return nil, err
		}
		collapsed.Children[i] = cv
	}
	return collapsed, nil
}

// VerifyProof verifies a Merkle proof for key against rootHash. It returns
// the value if the proof demonstrates presence, or (nil, nil) if it
// demonstrates absence.
func VerifyProof(rootHash types.Hash, key []byte, proof [][]byte) ([]byte, error) {
	if len(proof) == 0 {
		if rootHash == emptyRoot {
			return nil, nil
		}
		return nil, ErrProofInvalid
	}

	hexKey := keybytesToHex(key)
	wantHash := rootHash[:]
	var wantInline []byte

	pos := 0
	for i, encoded := range proof {
		if wantInline != nil {
			if !bytes.Equal(encoded, wantInline) {
				return nil, ErrProofInvalid
			}
			wantInline = nil
		} else {
			nodeHash := crypto.Keccak256(encoded)
			if !bytes.Equal(nodeHash, wantHash) {
				return nil, ErrProofInvalid
			}
		}

		items, err := decodeRLPList(encoded)
		if err != nil {
			return nil, ErrProofInvalid
		}

		switch len(items) {
		case 2:
			compactKey := items[0]
			hexNibbles := compactToHex(compactKey)

			matchLen := 0
			for matchLen < len(hexNibbles) && pos+matchLen < len(hexKey) {
				if hexNibbles[matchLen] != hexKey[pos+matchLen] {
					break
				}
				matchLen++
			}

			if matchLen < len(hexNibbles) {
				if i == len(proof)-1 {
					return nil, nil
				}
				return nil, ErrProofInvalid
			}
			pos += len(hexNibbles)

			if hasTerm(hexNibbles) {
				if i == len(proof)-1 {
					return items[1], nil
				}
				return nil, ErrProofInvalid
			}

			if i == len(proof)-1 {
				return nil, ErrProofInvalid
			}
			childRef := items[1]
			if len(childRef) == 32 {
				wantHash, wantInline = childRef, nil
			} else {
				wantHash, wantInline = nil, childRef
			}

		case 17:
			if pos >= len(hexKey) {
				return nil, ErrProofInvalid
			}
			nibble := hexKey[pos]
			pos++

			if nibble == terminatorByte {
				val := items[16]
				if len(val) == 0 {
					return nil, nil
				}
				return val, nil
			}

			childRef := items[nibble]
			if len(childRef) == 0 {
				if i == len(proof)-1 {
					return nil, nil
				}
				return nil, ErrProofInvalid
			}
			if i == len(proof)-1 {
				return nil, ErrProofInvalid
			}
			if len(childRef) == 32 {
				wantHash, wantInline = childRef, nil
			} else {
				wantHash, wantInline = nil, childRef
			}

		default:
			return nil, ErrProofInvalid
		}
	}

	return nil, ErrProofInvalid
}

// AccountProof is the EIP-1186-shaped proof bundle for a single account.
type AccountProof struct {
	Address      types.Address
	AccountProof [][]byte
	Account      types.AccountState
	Exists       bool
	StorageProof []StorageProof
}

// StorageProof is the proof bundle for a single storage slot.
type StorageProof struct {
	Key   types.Hash
	Value types.Hash
	Proof [][]byte
}

// ProveAccount generates an account proof against the state trie, keyed by
// keccak(address) per the secure-trie convention.
func ProveAccount(stateTrie *Trie, addr types.Address) (*AccountProof, error) {
	addrHash := crypto.Keccak256(addr[:])
	result := &AccountProof{Address: addr, Account: types.EmptyAccountState()}

	accountRLP, err := stateTrie.Get(addrHash)
	if errors.Is(err, ErrNotFound) {
		proof, perr := stateTrie.GetProof(addrHash)
		if perr != nil {
			return nil, perr
		}
		result.AccountProof = proof
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	proof, err := stateTrie.GetProof(addrHash)
	if err != nil {
		return nil, err
	}
	result.AccountProof = proof
	result.Exists = true

	acc, err := DecodeAccount(accountRLP)
	if err != nil {
		return nil, err
	}
	result.Account = acc
	return result, nil
}

// ProveAccountWithStorage generates an account proof plus storage proofs
// for storageKeys against the account's storage trie.
func ProveAccountWithStorage(stateTrie *Trie, addr types.Address, storageTrie *Trie, storageKeys []types.Hash) (*AccountProof, error) {
	result, err := ProveAccount(stateTrie, addr)
	if err != nil {
		return nil, err
	}
	for _, key := range storageKeys {
		sp := StorageProof{Key: key}
		if storageTrie == nil {
			result.StorageProof = append(result.StorageProof, sp)
			continue
		}
		slotHash := crypto.Keccak256(key[:])
		val, gerr := storageTrie.Get(slotHash)
		if gerr != nil && !errors.Is(gerr, ErrNotFound) {
			return nil, gerr
		}
		if gerr == nil {
			sp.Value = types.BytesToHash(val)
		}
		proof, perr := storageTrie.GetProof(slotHash)
		if perr != nil {
			return nil, perr
		}
		sp.Proof = proof
		result.StorageProof = append(result.StorageProof, sp)
	}
	return result, nil
}
